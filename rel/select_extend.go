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
	"sort"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/rex"
	"github.com/tabuladb/tabula/tuple"
	"github.com/tabuladb/tabula/value"
)

// Select emits exactly the child tuples for which Expr evaluates true.
type Select struct {
	Child Node
	Expr  rex.Expr
}

func NewSelect(child Node, expr rex.Expr) *Select { return &Select{Child: child, Expr: expr} }

func (s *Select) Head() head.Head { return s.Child.Head() }

func (s *Select) Eval(ctx *Eval) (*Relation, error) {
	cr, err := s.Child.Eval(ctx)
	if err != nil {
		return nil, err
	}
	out := tuple.NewBuf()
	for _, t := range cr.Body.All() {
		ok, err := rex.BoolVal(s.Expr, t, ctx.Param)
		if err != nil {
			return nil, fmt.Errorf("rel: select: %w", err)
		}
		if ok {
			out.Add(t)
		}
	}
	cr.Body.Clean()
	return &Relation{Head: s.Child.Head(), Body: out}, nil
}

// Extend evaluates Exprs against each child tuple and joins the result
// onto it as new, name-sorted attributes.
type Extend struct {
	Child      Node
	Names      []string
	Exprs      []rex.Expr
	h          head.Head
	synthHead  head.Head
	lpos, rpos []int
}

func NewExtend(child Node, names []string, exprs []rex.Expr) (*Extend, error) {
	if len(names) != len(exprs) {
		return nil, fmt.Errorf("rel: extend: names/exprs length mismatch")
	}
	// sort (name, expr) pairs by name up front, matching head.New's own
	// sort, so the synthetic tuple built in evalSynth lines up position
	// for position with synthHead's attribute order.
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return names[order[i]] < names[order[j]] })
	sortedNames := make([]string, len(names))
	sortedExprs := make([]rex.Expr, len(names))
	attrs := make([]head.Attr, len(names))
	for i, j := range order {
		sortedNames[i] = names[j]
		sortedExprs[i] = exprs[j]
		attrs[i] = head.Attr{Name: names[j], Type: exprs[j].Type()}
	}
	synthHead, err := head.New(attrs)
	if err != nil {
		return nil, fmt.Errorf("rel: extend: %w", err)
	}
	h, lpos, rpos := head.Join(child.Head(), synthHead)
	return &Extend{Child: child, Names: sortedNames, Exprs: sortedExprs, h: h, synthHead: synthHead, lpos: lpos, rpos: rpos}, nil
}

func (e *Extend) Head() head.Head { return e.h }

func (e *Extend) Eval(ctx *Eval) (*Relation, error) {
	cr, err := e.Child.Eval(ctx)
	if err != nil {
		return nil, err
	}
	out := tuple.NewBuf()
	for _, t := range cr.Body.All() {
		synth, err := e.evalSynth(t, ctx)
		if err != nil {
			return nil, err
		}
		out.Add(tuple.Join(t, synth, e.lpos, e.rpos))
	}
	cr.Body.Clean()
	return &Relation{Head: e.h, Body: out}, nil
}

func (e *Extend) evalSynth(t tuple.Tuple, ctx *Eval) (tuple.Tuple, error) {
	vals := make([]value.Value, len(e.Exprs))
	for i, expr := range e.Exprs {
		v, err := expr.Eval(t, ctx.Param)
		if err != nil {
			return tuple.Tuple{}, fmt.Errorf("rel: extend: %w", err)
		}
		vals[i] = v
	}
	return tuple.New(vals), nil
}
