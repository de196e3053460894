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

// Package wire implements the chunked framing and fixed-width field
// encoding shared by every internal RPC: coordinator <-> executor,
// volume <-> executor, volume <-> volume.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxName and MaxAddr bound the fixed-width NUL-padded string fields
// exchanged in wire messages.
const (
	MaxName = 32
	MaxAddr = 64
)

// MaxBlock bounds a single chunked frame's payload.
const MaxBlock = 64 * 1024

// Tag is the 4-byte message-kind prefix on every wire message.
type Tag int32

const (
	TEnter Tag = iota + 1
	REnter
	TFinish
	RFinish
	TSync
	RSync
	TSource
	RSource
	TRead
	RRead
	TWrite
	RWrite
)

// WriteTag writes a message tag.
func WriteTag(w io.Writer, t Tag) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(t))
	_, err := w.Write(b[:])
	return err
}

// ReadTag reads a message tag.
func ReadTag(r io.Reader) (Tag, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Tag(binary.BigEndian.Uint32(b[:])), nil
}

// PutFixed encodes s into an n-byte NUL-padded field; s must fit.
func PutFixed(s string, n int) ([]byte, error) {
	if len(s) >= n {
		return nil, fmt.Errorf("wire: %q exceeds fixed field width %d", s, n)
	}
	b := make([]byte, n)
	copy(b, s)
	return b, nil
}

// GetFixed decodes a NUL-padded fixed-width field back to a string.
func GetFixed(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// WriteName writes s as a MaxName fixed field.
func WriteName(w io.Writer, s string) error {
	b, err := PutFixed(s, MaxName)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadName reads a MaxName fixed field.
func ReadName(r io.Reader) (string, error) {
	b := make([]byte, MaxName)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return GetFixed(b), nil
}

// WriteAddr writes s as a MaxAddr fixed field.
func WriteAddr(w io.Writer, s string) error {
	b, err := PutFixed(s, MaxAddr)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadAddr reads a MaxAddr fixed field.
func ReadAddr(r io.Reader) (string, error) {
	b := make([]byte, MaxAddr)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return GetFixed(b), nil
}

// WriteSid writes a 64-bit session/version identifier.
func WriteSid(w io.Writer, sid uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], sid)
	_, err := w.Write(b[:])
	return err
}

// ReadSid reads a 64-bit session/version identifier.
func ReadSid(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// WriteChunk writes one chunked-mode frame: a 32-bit length prefix
// followed by payload bytes. A negative length (WriteEnd) terminates
// the logical stream and carries no bytes; a zero length is a legal
// empty frame.
func WriteChunk(w io.Writer, payload []byte) error {
	if len(payload) > MaxBlock {
		return fmt.Errorf("wire: chunk of %d bytes exceeds MaxBlock", len(payload))
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(payload)))
	if _, err := w.Write(b[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// WriteEnd writes the stream-terminator sentinel frame.
func WriteEnd(w io.Writer) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], 0xFFFFFFFF) // int32(-1)
	_, err := w.Write(b[:])
	return err
}

// ReadChunk reads one frame. ok is false once the terminator sentinel
// has been read; a protocol error is returned if the declared length
// exceeds MaxBlock.
func ReadChunk(r io.Reader) (payload []byte, ok bool, err error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, false, err
	}
	n := int32(binary.BigEndian.Uint32(b[:]))
	if n < 0 {
		return nil, false, nil
	}
	if int(n) > MaxBlock {
		return nil, false, fmt.Errorf("wire: chunk length %d exceeds MaxBlock", n)
	}
	if n == 0 {
		return nil, true, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}
