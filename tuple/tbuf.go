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

package tuple

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxBlock bounds a single framed block of packed tuples, on disk and
// on the wire.
const MaxBlock = 64 * 1024

// Buf is an ordered, restartable sequence of tuples. It is the body of
// every relation value: produced by exactly one operator, drained by
// exactly one consumer (the root result is drained by the caller).
// Buf is not safe for concurrent use; ownership transfers, it is never
// shared across goroutines.
type Buf struct {
	tuples []Tuple
	pos    int
}

// NewBuf returns an empty buffer ready to be appended to.
func NewBuf() *Buf { return &Buf{} }

// Add appends t to the end of the buffer.
func (b *Buf) Add(t Tuple) { b.tuples = append(b.tuples, t) }

// Len reports the number of tuples currently held.
func (b *Buf) Len() int { return len(b.tuples) }

// At returns the tuple at the given index without moving the cursor.
func (b *Buf) At(i int) Tuple { return b.tuples[i] }

// Reset rewinds the read cursor to the start without discarding tuples.
func (b *Buf) Reset() { b.pos = 0 }

// Next advances the cursor and returns the next tuple, or ok=false at
// the end of the buffer.
func (b *Buf) Next() (t Tuple, ok bool) {
	if b.pos >= len(b.tuples) {
		return Tuple{}, false
	}
	t = b.tuples[b.pos]
	b.pos++
	return t, true
}

// All returns every tuple in the buffer without disturbing the cursor,
// useful to operators (join, project) that need random access to a
// fully materialized body.
func (b *Buf) All() []Tuple { return b.tuples }

// Clean drains and discards every tuple and rewinds the cursor. Go's
// garbage collector reclaims the backing array; Clean exists so the
// operator tree's ownership-transfer discipline mirrors the source
// engine's explicit tbuf_clean/tbuf_free split.
func (b *Buf) Clean() {
	b.tuples = nil
	b.pos = 0
}

// WriteTo frames the buffer as a sequence of length-prefixed blocks
// (§4.11/§6 "tuple file format"): each block is a 4-byte length N
// followed by N bytes of contiguously packed, self-describing tuples.
// A single block holds as many tuples as fit under MaxBlock.
func (b *Buf) WriteTo(w io.Writer) (int64, error) {
	var written int64
	var block []byte
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint32(hdr, uint32(len(block)))
		if _, err := w.Write(hdr); err != nil {
			return err
		}
		n, err := w.Write(block)
		written += int64(len(hdr) + n)
		block = block[:0]
		return err
	}
	for _, t := range b.tuples {
		enc := Encode(t)
		if len(enc) > MaxBlock {
			return written, fmt.Errorf("tuple: encoded tuple exceeds MaxBlock")
		}
		if len(block)+len(enc) > MaxBlock {
			if err := flush(); err != nil {
				return written, err
			}
		}
		block = append(block, enc...)
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

// ReadFrom reads framed blocks until EOF, decoding every tuple they
// contain. A block length of 0 is a legal, empty frame and is skipped;
// a length exceeding MaxBlock is a protocol error.
func (b *Buf) ReadFrom(r io.Reader) (int64, error) {
	var read int64
	hdr := make([]byte, 4)
	for {
		n, err := io.ReadFull(r, hdr)
		read += int64(n)
		if err == io.EOF {
			return read, nil
		}
		if err != nil {
			return read, err
		}
		blockLen := int(binary.LittleEndian.Uint32(hdr))
		if blockLen == 0 {
			continue
		}
		if blockLen > MaxBlock {
			return read, fmt.Errorf("tuple: block length %d exceeds MaxBlock", blockLen)
		}
		block := make([]byte, blockLen)
		n, err = io.ReadFull(r, block)
		read += int64(n)
		if err != nil {
			return read, err
		}
		for off := 0; off < len(block); {
			t, used, err := Decode(block[off:])
			if err != nil {
				return read, err
			}
			b.Add(t)
			off += used
		}
	}
}
