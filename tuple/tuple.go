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

// Package tuple implements fixed-arity, position-addressed relation rows
// and the append-only buffers that hold a stream of them.
package tuple

import (
	"encoding/binary"
	"fmt"

	"github.com/dchest/siphash"

	"github.com/tabuladb/tabula/value"
)

// hashKey0, hashKey1 are fixed random values for Hash; tuple dedup only
// needs a stable bucketing function within one process run, not a
// secret one.
const (
	hashKey0 = uint64(0x5d1ec810)
	hashKey1 = uint64(0xfebed702)
)

// Hash returns a bucket hash of the tuple's encoded form, used to dedup
// candidate tuples against a growing result set without re-sorting it
// on every insert.
func Hash(t Tuple) uint64 {
	return siphash.Hash(hashKey0, hashKey1, Encode(t))
}

// Tuple is an immutable vector of values addressed by position. A tuple
// carries no schema of its own; the owning Head gives positions meaning.
type Tuple struct {
	vals []value.Value
}

// New builds a tuple from already-encoded values, in position order.
func New(vals []value.Value) Tuple {
	cp := make([]value.Value, len(vals))
	copy(cp, vals)
	return Tuple{vals: cp}
}

// Len returns the tuple's arity.
func (t Tuple) Len() int { return len(t.vals) }

// Attr returns the value at pos in O(1).
func (t Tuple) Attr(pos int) value.Value { return t.vals[pos] }

// Reord returns a copy of t with attributes in the order given by pos;
// pos[i] names the source position of output position i.
func (t Tuple) Reord(pos []int) Tuple {
	out := make([]value.Value, len(pos))
	for i, p := range pos {
		out[i] = t.vals[p]
	}
	return Tuple{vals: out}
}

// Join combines l and r into one tuple per (lpos, rpos): rpos[i] == -1
// means "take lpos[i] from l", otherwise the value comes from r at rpos[i].
func Join(l, r Tuple, lpos, rpos []int) Tuple {
	out := make([]value.Value, len(lpos))
	for i := range lpos {
		if rpos[i] == -1 {
			out[i] = l.vals[lpos[i]]
		} else {
			out[i] = r.vals[rpos[i]]
		}
	}
	return Tuple{vals: out}
}

// Eq compares l and r restricted to the given position vectors: l's
// attribute lpos[i] must equal r's attribute rpos[i] for every i.
func Eq(l, r Tuple, lpos, rpos []int) bool {
	for i := range lpos {
		if !l.vals[lpos[i]].Eq(r.vals[rpos[i]]) {
			return false
		}
	}
	return true
}

// Cmp performs a lexicographic, type-directed comparison of l and r
// restricted to lpos/rpos, in the order given.
func Cmp(l, r Tuple, lpos, rpos []int) int {
	for i := range lpos {
		if c := l.vals[lpos[i]].Cmp(r.vals[rpos[i]]); c != 0 {
			return c
		}
	}
	return 0
}

// Encode produces the self-describing byte form: a leading uint32 total
// size, a uint16 attribute count, then (size,type) pairs for every
// attribute, followed by the packed attribute bytes. Decode(Encode(t))
// reproduces t exactly, with no external schema needed to walk it.
func Encode(t Tuple) []byte {
	n := len(t.vals)
	headerSize := 6 + n*5 // 4-byte total + 2-byte count, then per-attr 4-byte size + 1-byte type
	total := headerSize
	for _, v := range t.vals {
		total += len(v.Data)
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(n))
	off := 6
	data := headerSize
	for _, v := range t.vals {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(v.Data)))
		buf[off+4] = byte(v.Type)
		off += 5
		copy(buf[data:data+len(v.Data)], v.Data)
		data += len(v.Data)
	}
	return buf
}

// Decode reads one tuple from the front of buf and returns it along with
// the number of bytes consumed.
func Decode(buf []byte) (Tuple, int, error) {
	if len(buf) < 6 {
		return Tuple{}, 0, fmt.Errorf("tuple: short buffer")
	}
	total := int(binary.LittleEndian.Uint32(buf[0:4]))
	if total < 6 || total > len(buf) {
		return Tuple{}, 0, fmt.Errorf("tuple: corrupt size prefix %d", total)
	}
	count := int(binary.LittleEndian.Uint16(buf[4:6]))
	off := 6
	data := 6 + count*5
	if data > total {
		return Tuple{}, 0, fmt.Errorf("tuple: corrupt attribute count %d", count)
	}
	vals := make([]value.Value, count)
	for i := 0; i < count; i++ {
		sz := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		typ := value.Type(buf[off+4])
		off += 5
		if data+sz > total {
			return Tuple{}, 0, fmt.Errorf("tuple: corrupt attribute size %d", sz)
		}
		vals[i] = value.Value{Type: typ, Data: append([]byte(nil), buf[data:data+sz]...)}
		data += sz
	}
	return Tuple{vals: vals}, total, nil
}
