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

// Package rex implements the typed scalar expression tree evaluated
// over a current tuple and a parameter record: constants, attribute and
// parameter reads, boolean connectives, comparisons, arithmetic,
// conversion, and the builtins time() (nullary) and strIndex().
//
// Each Expr variant is a Go type implementing Eval; there is no
// function-pointer vtable, just an interface dispatch.
package rex

import (
	"fmt"
	"strings"
	"time"

	"github.com/tabuladb/tabula/tuple"
	"github.com/tabuladb/tabula/value"
)

// Param is the primitive-parameter record passed alongside the current
// tuple to every Eval call; functions bind their declared primitive
// parameters into it before executing a statement sequence.
type Param struct {
	vals []value.Value
}

// NewParam builds a parameter record from positional values.
func NewParam(vals []value.Value) Param { return Param{vals: vals} }

func (p Param) At(pos int) value.Value { return p.vals[pos] }

// Expr is one node of the expression tree. Type reports the static
// result type; Eval computes the value against a tuple and a parameter
// record.
type Expr interface {
	Type() value.Type
	Eval(t tuple.Tuple, p Param) (value.Value, error)
}

// Const is a literal leaf.
type Const struct{ V value.Value }

func (c Const) Type() value.Type { return c.V.Type }
func (c Const) Eval(tuple.Tuple, Param) (value.Value, error) { return c.V, nil }

// Attr reads a tuple attribute at a fixed position.
type Attr struct {
	Pos int
	Typ value.Type
}

func (a Attr) Type() value.Type { return a.Typ }
func (a Attr) Eval(t tuple.Tuple, _ Param) (value.Value, error) { return t.Attr(a.Pos), nil }

// ParamRef reads a primitive parameter at a fixed position.
type ParamRef struct {
	Pos int
	Typ value.Type
}

func (r ParamRef) Type() value.Type { return r.Typ }
func (r ParamRef) Eval(_ tuple.Tuple, p Param) (value.Value, error) { return p.At(r.Pos), nil }

// Not negates a boolean (Int 0/1) subexpression.
type Not struct{ E Expr }

func (n Not) Type() value.Type { return value.Int }
func (n Not) Eval(t tuple.Tuple, p Param) (value.Value, error) {
	v, err := n.E.Eval(t, p)
	if err != nil {
		return value.Value{}, err
	}
	if v.Int() == 0 {
		return value.NewInt(1), nil
	}
	return value.NewInt(0), nil
}

type binOp func(l, r value.Value) (value.Value, error)

// Binary wraps every and/or/comparison/arithmetic node: a left and
// right subexpression folded through op.
type Binary struct {
	L, R Expr
	Typ  value.Type
	Op   binOp
	Name string
}

func (b Binary) Type() value.Type { return b.Typ }

func (b Binary) Eval(t tuple.Tuple, p Param) (value.Value, error) {
	lv, err := b.L.Eval(t, p)
	if err != nil {
		return value.Value{}, err
	}
	rv, err := b.R.Eval(t, p)
	if err != nil {
		return value.Value{}, err
	}
	out, err := b.Op(lv, rv)
	if err != nil {
		return value.Value{}, fmt.Errorf("rex: %s: %w", b.Name, err)
	}
	return out, nil
}

func boolOf(v bool) value.Value {
	if v {
		return value.NewInt(1)
	}
	return value.NewInt(0)
}

// And, Or build the boolean connectives over Int-typed operands.
func And(l, r Expr) Expr {
	return Binary{L: l, R: r, Typ: value.Int, Name: "and", Op: func(l, r value.Value) (value.Value, error) {
		return boolOf(l.Int() != 0 && r.Int() != 0), nil
	}}
}

func Or(l, r Expr) Expr {
	return Binary{L: l, R: r, Typ: value.Int, Name: "or", Op: func(l, r value.Value) (value.Value, error) {
		return boolOf(l.Int() != 0 || r.Int() != 0), nil
	}}
}

// Eq, Lt, Gt, Lte, Gte build type-dispatched comparisons via Value.Cmp.
func Eq(l, r Expr) Expr { return cmpExpr("eq", l, r, func(c int) bool { return c == 0 }) }
func Lt(l, r Expr) Expr { return cmpExpr("lt", l, r, func(c int) bool { return c < 0 }) }
func Gt(l, r Expr) Expr { return cmpExpr("gt", l, r, func(c int) bool { return c > 0 }) }
func Lte(l, r Expr) Expr { return cmpExpr("lte", l, r, func(c int) bool { return c <= 0 }) }
func Gte(l, r Expr) Expr { return cmpExpr("gte", l, r, func(c int) bool { return c >= 0 }) }

func cmpExpr(name string, l, r Expr, pred func(int) bool) Expr {
	return Binary{L: l, R: r, Typ: value.Int, Name: name, Op: func(lv, rv value.Value) (value.Value, error) {
		return boolOf(pred(lv.Cmp(rv))), nil
	}}
}

// Sum, Sub, Mul, Div build type-preserving arithmetic, dispatched on
// the left operand's static type (both operands must share a type).
func Sum(l, r Expr) Expr { return arithExpr("sum", l, r, value.Add) }
func Sub(l, r Expr) Expr { return arithExpr("sub", l, r, value.Sub) }
func Mul(l, r Expr) Expr { return arithExpr("mul", l, r, value.Mul) }
func Div(l, r Expr) Expr { return arithExpr("div", l, r, value.Div) }

func arithExpr(name string, l, r Expr, op func(l, r value.Value) (value.Value, error)) Expr {
	return Binary{L: l, R: r, Typ: l.Type(), Name: name, Op: op}
}

// Conv converts e's runtime value to targetType, following the rule:
// numeric<->numeric succeeds unless the value lies outside the range of
// a target Int or Long (ErrOverflow), string->numeric fails.
type Conv struct {
	E   Expr
	Typ value.Type
}

func (c Conv) Type() value.Type { return c.Typ }

func (c Conv) Eval(t tuple.Tuple, p Param) (value.Value, error) {
	v, err := c.E.Eval(t, p)
	if err != nil {
		return value.Value{}, err
	}
	out, err := value.Convert(v, c.Typ)
	if err != nil {
		return value.Value{}, fmt.Errorf("rex: conv: %w", err)
	}
	return out, nil
}

// Now returns the current wall-clock time as a Long, in milliseconds.
type Now struct{}

func (Now) Type() value.Type { return value.Long }
func (Now) Eval(tuple.Tuple, Param) (value.Value, error) {
	return value.NewLong(time.Now().UnixMilli()), nil
}

// StrIndex returns the position of needle within haystack, or -1.
type StrIndex struct{ Haystack, Needle Expr }

func (StrIndex) Type() value.Type { return value.Int }

func (s StrIndex) Eval(t tuple.Tuple, p Param) (value.Value, error) {
	hv, err := s.Haystack.Eval(t, p)
	if err != nil {
		return value.Value{}, err
	}
	nv, err := s.Needle.Eval(t, p)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewInt(int32(strings.Index(hv.Str(), nv.Str()))), nil
}

// BoolVal forces e's evaluation and reads its result as a boolean.
func BoolVal(e Expr, t tuple.Tuple, p Param) (bool, error) {
	v, err := e.Eval(t, p)
	if err != nil {
		return false, err
	}
	return v.Int() != 0, nil
}
