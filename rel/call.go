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

package rel

import (
	"fmt"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/rex"
	"github.com/tabuladb/tabula/tuple"
	"github.com/tabuladb/tabula/value"
)

// PrimParam names one primitive (scalar) parameter of a function.
type PrimParam struct {
	Name string
	Type value.Type
}

// RelArg names a function's single relational parameter.
type RelArg struct {
	Name string
	Head head.Head
}

// Func is a compiled function: its read/write/temp variable sets, its
// parameters, and the statement sequence that computes its body. It is
// the unit both the call operator and the top-level HTTP dispatcher
// invoke.
type Func struct {
	Name      string
	RetHead   *head.Head // non-nil iff the function returns a relation
	Read      []string
	Write     []string
	Temp      []string
	TempHeads []head.Head // parallel to Temp
	PrimArgs  []PrimParam
	RelArg    *RelArg
	Stmts     []Node
}

// Invoke runs f against vars (moving its read/write/temp sets into a
// fresh scope, moving writes back on return), binding primVals to its
// primitive parameters in declaration order and, if f has a relational
// parameter, binding relArg to it. If f declares a return head, the
// last statement's body is returned.
func Invoke(vars *Vars, f *Func, primVals []value.Value, relArg *Relation) (*Relation, error) {
	if len(primVals) != len(f.PrimArgs) {
		return nil, fmt.Errorf("rel: call %s: expected %d primitive arguments, got %d", f.Name, len(f.PrimArgs), len(primVals))
	}
	callee := NewVars()
	for _, name := range f.Read {
		if err := Move(callee, vars, name, head.Head{}); err != nil {
			return nil, fmt.Errorf("rel: call %s: read %w", f.Name, err)
		}
	}
	for _, name := range f.Write {
		if err := Move(callee, vars, name, head.Head{}); err != nil {
			return nil, fmt.Errorf("rel: call %s: write %w", f.Name, err)
		}
	}
	for i, name := range f.Temp {
		if err := Move(callee, nil, name, f.TempHeads[i]); err != nil {
			return nil, fmt.Errorf("rel: call %s: temp %w", f.Name, err)
		}
	}
	if f.RelArg != nil {
		if relArg == nil {
			return nil, fmt.Errorf("rel: call %s: missing relational argument", f.Name)
		}
		if !head.Eq(relArg.Head, f.RelArg.Head) {
			return nil, fmt.Errorf("rel: call %s: relational argument head mismatch", f.Name)
		}
		callee.Set(f.RelArg.Name, relArg)
	}

	calleeCtx := &Eval{Vars: callee, Param: rex.NewParam(primVals)}
	var last *Relation
	var err error
	for _, stmt := range f.Stmts {
		last, err = stmt.Eval(calleeCtx)
		if err != nil {
			return nil, fmt.Errorf("rel: call %s: %w", f.Name, err)
		}
	}

	for _, name := range f.Write {
		r, ok := callee.Get(name)
		if !ok {
			return nil, fmt.Errorf("rel: call %s: write variable %q missing on return", f.Name, name)
		}
		if old, ok := vars.Get(name); ok {
			old.Body.Clean()
		}
		vars.Set(name, r)
	}
	for _, name := range f.Temp {
		if r, ok := callee.Get(name); ok {
			r.Body.Clean()
		}
	}

	if f.RetHead == nil {
		return &Relation{Head: head.Head{}, Body: nil}, nil
	}
	if last == nil {
		return nil, fmt.Errorf("rel: call %s: function with a return head executed no statements", f.Name)
	}
	return last, nil
}

// Call is the relational-operator form of a function invocation,
// embedded inside another statement sequence: its primitive and
// relational arguments are expressions evaluated in the caller's scope
// rather than already-resolved values.
type Call struct {
	Func       *Func
	PrimExprs  []rex.Expr
	RelArgExpr Node // evaluated in the caller's scope and bound to Func.RelArg, or nil
}

func (c *Call) Head() head.Head {
	if c.Func.RetHead != nil {
		return *c.Func.RetHead
	}
	return head.Head{}
}

func (c *Call) Eval(ctx *Eval) (*Relation, error) {
	primVals, err := evalPrimArgs(c.PrimExprs, ctx)
	if err != nil {
		return nil, fmt.Errorf("rel: call %s: primitive arguments: %w", c.Func.Name, err)
	}
	var relArg *Relation
	if c.RelArgExpr != nil {
		relArg, err = c.RelArgExpr.Eval(ctx)
		if err != nil {
			return nil, fmt.Errorf("rel: call %s: relational argument: %w", c.Func.Name, err)
		}
	}
	return Invoke(ctx.Vars, c.Func, primVals, relArg)
}

// evalPrimArgs evaluates a function call's primitive-parameter
// expressions in the caller's scope. These expressions reference only
// the caller's own parameter record (e.g. a bare parameter pass-through
// or a constant), never a "current tuple" — call happens between rows,
// not per row — so they are evaluated against an empty zero-arity tuple.
func evalPrimArgs(exprs []rex.Expr, ctx *Eval) ([]value.Value, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	zero := tuple.New(nil)
	vals := make([]value.Value, len(exprs))
	for i, e := range exprs {
		v, err := e.Eval(zero, ctx.Param)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}
