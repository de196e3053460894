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

// Package value implements the engine's closed set of scalar types and
// their byte-level encoding.
package value

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Type is one of the four scalar types a tuple attribute can hold.
type Type byte

const (
	Int Type = iota
	Long
	Real
	String
)

// MaxString bounds the length of a String scalar. Parse enforces it, and
// so does the CSV layer, which decodes fields through Parse.
const MaxString = 1024

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Long:
		return "long"
	case Real:
		return "real"
	case String:
		return "string"
	default:
		return fmt.Sprintf("Type(%d)", byte(t))
	}
}

// TypeFromString parses the lower-case type names used in CSV headers
// and configuration.
func TypeFromString(s string) (Type, bool) {
	switch s {
	case "int":
		return Int, true
	case "long":
		return Long, true
	case "real":
		return Real, true
	case "string":
		return String, true
	default:
		return 0, false
	}
}

// Value is an opaque, type-tagged byte blob. Equality is byte-equality
// after encoding; ordering is type-directed.
type Value struct {
	Type Type
	Data []byte
}

// NewInt encodes a 32-bit signed integer.
func NewInt(v int32) Value {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return Value{Type: Int, Data: b}
}

// NewLong encodes a 64-bit signed integer.
func NewLong(v int64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return Value{Type: Long, Data: b}
}

// NewReal encodes an IEEE-754 double.
func NewReal(v float64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return Value{Type: Real, Data: b}
}

// NewString encodes a string, truncation-checked by the caller.
func NewString(v string) Value {
	return Value{Type: String, Data: []byte(v)}
}

func (v Value) Int() int32 {
	return int32(binary.LittleEndian.Uint32(v.Data))
}

func (v Value) Long() int64 {
	return int64(binary.LittleEndian.Uint64(v.Data))
}

func (v Value) Real() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Data))
}

func (v Value) Str() string {
	return string(v.Data)
}

// Eq reports byte-equality, which for these encodings is equivalent to
// value equality within a type.
func (v Value) Eq(o Value) bool {
	if v.Type != o.Type || len(v.Data) != len(o.Data) {
		return false
	}
	for i := range v.Data {
		if v.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// Cmp returns -1, 0 or 1 comparing v and o, which must share a type.
// Numeric types compare numerically; String compares lexicographically.
func (v Value) Cmp(o Value) int {
	switch v.Type {
	case Int:
		a, b := v.Int(), o.Int()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	case Long:
		a, b := v.Long(), o.Long()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	case Real:
		a, b := v.Real(), o.Real()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	default:
		a, b := v.Str(), o.Str()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
}

// String renders the value the way CSV output and diagnostics do:
// %d for Int, %g for Real, %lld-equivalent for Long, verbatim for String.
func (v Value) String() string {
	switch v.Type {
	case Int:
		return strconv.FormatInt(int64(v.Int()), 10)
	case Long:
		return strconv.FormatInt(v.Long(), 10)
	case Real:
		return strconv.FormatFloat(v.Real(), 'g', -1, 64)
	default:
		return v.Str()
	}
}

// ParseInt parses an Int scalar, rejecting out-of-range input.
func ParseInt(s string) (Value, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return Value{}, fmt.Errorf("value: bad int %q: %w", s, err)
	}
	return NewInt(int32(n)), nil
}

// ParseLong parses a Long scalar, rejecting out-of-range input.
func ParseLong(s string) (Value, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("value: bad long %q: %w", s, err)
	}
	return NewLong(n), nil
}

// ParseReal parses a Real scalar.
func ParseReal(s string) (Value, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("value: bad real %q: %w", s, err)
	}
	return NewReal(f), nil
}

// Parse parses s into the given type, enforcing MaxString for String.
func Parse(t Type, s string) (Value, error) {
	switch t {
	case Int:
		return ParseInt(s)
	case Long:
		return ParseLong(s)
	case Real:
		return ParseReal(s)
	case String:
		if len(s) > MaxString {
			return Value{}, fmt.Errorf("value: string longer than %d bytes", MaxString)
		}
		return NewString(s), nil
	default:
		return Value{}, fmt.Errorf("value: unknown type %v", t)
	}
}
