// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestTagRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTag(&buf, TEnter); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}
	got, err := ReadTag(&buf)
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if got != TEnter {
		t.Fatalf("ReadTag = %v, want %v", got, TEnter)
	}
}

func TestFixedFieldRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteName(&buf, "tbl"); err != nil {
		t.Fatalf("WriteName: %v", err)
	}
	got, err := ReadName(&buf)
	if err != nil {
		t.Fatalf("ReadName: %v", err)
	}
	if got != "tbl" {
		t.Fatalf("ReadName = %q, want %q", got, "tbl")
	}
}

func TestPutFixedRejectsOverlongString(t *testing.T) {
	long := strings.Repeat("x", MaxName)
	if _, err := PutFixed(long, MaxName); err == nil {
		t.Fatal("PutFixed should reject a string that does not fit the field width")
	}
}

func TestAddrRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAddr(&buf, "127.0.0.1:9000"); err != nil {
		t.Fatalf("WriteAddr: %v", err)
	}
	got, err := ReadAddr(&buf)
	if err != nil {
		t.Fatalf("ReadAddr: %v", err)
	}
	if got != "127.0.0.1:9000" {
		t.Fatalf("ReadAddr = %q, want %q", got, "127.0.0.1:9000")
	}
}

func TestSidRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSid(&buf, 0xdeadbeef); err != nil {
		t.Fatalf("WriteSid: %v", err)
	}
	got, err := ReadSid(&buf)
	if err != nil {
		t.Fatalf("ReadSid: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("ReadSid = %x, want %x", got, 0xdeadbeef)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChunk(&buf, []byte("hello")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := WriteEnd(&buf); err != nil {
		t.Fatalf("WriteEnd: %v", err)
	}
	payload, ok, err := ReadChunk(&buf)
	if err != nil || !ok {
		t.Fatalf("ReadChunk: %v, %v", ok, err)
	}
	if string(payload) != "hello" {
		t.Fatalf("ReadChunk payload = %q, want %q", payload, "hello")
	}
	_, ok, err = ReadChunk(&buf)
	if err != nil {
		t.Fatalf("ReadChunk terminator: %v", err)
	}
	if ok {
		t.Fatal("ReadChunk should report ok=false at the terminator sentinel")
	}
}

func TestChunkZeroLength(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChunk(&buf, nil); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	payload, ok, err := ReadChunk(&buf)
	if err != nil || !ok {
		t.Fatalf("ReadChunk: %v, %v", ok, err)
	}
	if len(payload) != 0 {
		t.Fatalf("expected an empty frame, got %d bytes", len(payload))
	}
}

func TestWriteChunkRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChunk(&buf, make([]byte, MaxBlock+1)); err == nil {
		t.Fatal("WriteChunk should reject a payload larger than MaxBlock")
	}
}

func TestReadChunkRejectsOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	var b [4]byte
	// hand-craft a frame declaring a length beyond MaxBlock without
	// actually writing that many payload bytes, to exercise the guard
	// before ReadChunk attempts to read the body.
	n := uint32(MaxBlock + 1)
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
	buf.Write(b[:])
	if _, _, err := ReadChunk(&buf); err == nil {
		t.Fatal("ReadChunk should reject a declared length exceeding MaxBlock")
	}
}
