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

package value

import (
	"fmt"
	"math"
)

// ErrOverflow is returned by the arithmetic helpers below when an Int/Long
// operation would overflow its declared width.
var ErrOverflow = fmt.Errorf("value: arithmetic overflow")

// Add, Sub, Mul and Div operate on two values of the same type, preserving
// that type in the result. Int/Long overflow is detected rather than wrapped.
func Add(l, r Value) (Value, error) {
	switch l.Type {
	case Int:
		a, b := int64(l.Int()), int64(r.Int())
		s := a + b
		if s > math.MaxInt32 || s < math.MinInt32 {
			return Value{}, ErrOverflow
		}
		return NewInt(int32(s)), nil
	case Long:
		a, b := l.Long(), r.Long()
		s := a + b
		if (b > 0 && s < a) || (b < 0 && s > a) {
			return Value{}, ErrOverflow
		}
		return NewLong(s), nil
	case Real:
		return NewReal(l.Real() + r.Real()), nil
	default:
		return Value{}, fmt.Errorf("value: cannot add strings")
	}
}

func Sub(l, r Value) (Value, error) {
	switch l.Type {
	case Int:
		a, b := int64(l.Int()), int64(r.Int())
		s := a - b
		if s > math.MaxInt32 || s < math.MinInt32 {
			return Value{}, ErrOverflow
		}
		return NewInt(int32(s)), nil
	case Long:
		a, b := l.Long(), r.Long()
		s := a - b
		if (b < 0 && s < a) || (b > 0 && s > a) {
			return Value{}, ErrOverflow
		}
		return NewLong(s), nil
	case Real:
		return NewReal(l.Real() - r.Real()), nil
	default:
		return Value{}, fmt.Errorf("value: cannot subtract strings")
	}
}

func Mul(l, r Value) (Value, error) {
	switch l.Type {
	case Int:
		a, b := int64(l.Int()), int64(r.Int())
		p := a * b
		if p > math.MaxInt32 || p < math.MinInt32 {
			return Value{}, ErrOverflow
		}
		return NewInt(int32(p)), nil
	case Long:
		a, b := l.Long(), r.Long()
		if a == 0 || b == 0 {
			return NewLong(0), nil
		}
		p := a * b
		if p/b != a {
			return Value{}, ErrOverflow
		}
		return NewLong(p), nil
	case Real:
		return NewReal(l.Real() * r.Real()), nil
	default:
		return Value{}, fmt.Errorf("value: cannot multiply strings")
	}
}

func Div(l, r Value) (Value, error) {
	switch l.Type {
	case Int:
		b := r.Int()
		if b == 0 {
			return Value{}, fmt.Errorf("value: division by zero")
		}
		return NewInt(l.Int() / b), nil
	case Long:
		b := r.Long()
		if b == 0 {
			return Value{}, fmt.Errorf("value: division by zero")
		}
		return NewLong(l.Long() / b), nil
	case Real:
		return NewReal(l.Real() / r.Real()), nil
	default:
		return Value{}, fmt.Errorf("value: cannot divide strings")
	}
}

// Convert implements the conv() expression rule: numeric<->numeric
// conversions succeed except that a value outside the range of a target
// Int or Long returns ErrOverflow, string->numeric is rejected, and any
// numeric->string conversion renders via String().
func Convert(v Value, to Type) (Value, error) {
	if v.Type == to {
		return v, nil
	}
	if v.Type == String && to != String {
		return Value{}, fmt.Errorf("value: cannot convert string to %v", to)
	}
	if to == String {
		return NewString(v.String()), nil
	}
	var f float64
	switch v.Type {
	case Int:
		f = float64(v.Int())
	case Long:
		f = float64(v.Long())
	case Real:
		f = v.Real()
	}
	switch to {
	case Int:
		if f > math.MaxInt32 || f < math.MinInt32 {
			return Value{}, ErrOverflow
		}
		return NewInt(int32(f)), nil
	case Long:
		if f > math.MaxInt64 || f < math.MinInt64 {
			return Value{}, ErrOverflow
		}
		return NewLong(int64(f)), nil
	case Real:
		return NewReal(f), nil
	}
	return Value{}, fmt.Errorf("value: cannot convert %v to %v", v.Type, to)
}
