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

// Package summary implements the stateful per-group aggregators used by
// the summarize relational operators.
package summary

import (
	"github.com/tabuladb/tabula/tuple"
	"github.com/tabuladb/tabula/value"
)

// Sum is the shared aggregator interface: reset prepares a fresh group,
// update folds in one row, value reads the current result.
type Sum interface {
	Reset()
	Update(t tuple.Tuple)
	Value() value.Value
}

// Cnt counts rows; its value defaults to Int 0 when no row was seen.
type Cnt struct {
	n int32
}

func NewCnt() *Cnt { return &Cnt{} }

func (c *Cnt) Reset()             { c.n = 0 }
func (c *Cnt) Update(tuple.Tuple) { c.n++ }
func (c *Cnt) Value() value.Value { return value.NewInt(c.n) }

// MinMax implements both min() and max() depending on the max flag;
// with no rows seen it returns the configured default.
type MinMax struct {
	pos   int
	typ   value.Type
	def   value.Value
	max   bool
	cur   value.Value
	seen  bool
}

func NewMin(pos int, typ value.Type, def value.Value) *MinMax {
	return &MinMax{pos: pos, typ: typ, def: def}
}

func NewMax(pos int, typ value.Type, def value.Value) *MinMax {
	return &MinMax{pos: pos, typ: typ, def: def, max: true}
}

func (m *MinMax) Reset() { m.seen = false }

func (m *MinMax) Update(t tuple.Tuple) {
	v := t.Attr(m.pos)
	if !m.seen {
		m.cur = v
		m.seen = true
		return
	}
	c := v.Cmp(m.cur)
	if (m.max && c > 0) || (!m.max && c < 0) {
		m.cur = v
	}
}

func (m *MinMax) Value() value.Value {
	if !m.seen {
		return m.def
	}
	return m.cur
}

// Avg accumulates a running sum and divides by the row count; Int/Long
// widen into their own accumulator type, Real accumulates as float64.
// With no rows seen it returns the configured default.
type Avg struct {
	pos   int
	typ   value.Type
	def   value.Value
	count int64
	isum  int64
	lsum  int64
	rsum  float64
}

func NewAvg(pos int, typ value.Type, def value.Value) *Avg {
	return &Avg{pos: pos, typ: typ, def: def}
}

func (a *Avg) Reset() { a.count, a.isum, a.lsum, a.rsum = 0, 0, 0, 0 }

func (a *Avg) Update(t tuple.Tuple) {
	v := t.Attr(a.pos)
	a.count++
	switch a.typ {
	case value.Int:
		a.isum += int64(v.Int())
	case value.Long:
		a.lsum += v.Long()
	case value.Real:
		a.rsum += v.Real()
	}
}

func (a *Avg) Value() value.Value {
	if a.count == 0 {
		return a.def
	}
	var total float64
	switch a.typ {
	case value.Int:
		total = float64(a.isum)
	case value.Long:
		total = float64(a.lsum)
	case value.Real:
		total = a.rsum
	}
	return value.NewReal(total / float64(a.count))
}

// Add accumulates a running sum in the operand's own type; with no rows
// seen it returns the configured default.
type Add struct {
	pos   int
	typ   value.Type
	def   value.Value
	count int64
	isum  int32
	lsum  int64
	rsum  float64
}

func NewAdd(pos int, typ value.Type, def value.Value) *Add {
	return &Add{pos: pos, typ: typ, def: def}
}

func (a *Add) Reset() { a.count, a.isum, a.lsum, a.rsum = 0, 0, 0, 0 }

func (a *Add) Update(t tuple.Tuple) {
	v := t.Attr(a.pos)
	a.count++
	switch a.typ {
	case value.Int:
		a.isum += v.Int()
	case value.Long:
		a.lsum += v.Long()
	case value.Real:
		a.rsum += v.Real()
	}
}

func (a *Add) Value() value.Value {
	if a.count == 0 {
		return a.def
	}
	switch a.typ {
	case value.Int:
		return value.NewInt(a.isum)
	case value.Long:
		return value.NewLong(a.lsum)
	default:
		return value.NewReal(a.rsum)
	}
}
