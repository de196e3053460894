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
	"github.com/tabuladb/tabula/tuple"
)

// Load copies the current value of a bound variable into a fresh body.
type Load struct {
	Name string
	H    head.Head
}

func NewLoad(name string, h head.Head) *Load { return &Load{Name: name, H: h} }

func (l *Load) Head() head.Head { return l.H }

func (l *Load) Eval(ctx *Eval) (*Relation, error) {
	src, ok := ctx.Vars.Get(l.Name)
	if !ok {
		return nil, fmt.Errorf("rel: load: variable %q not bound", l.Name)
	}
	if !head.Eq(src.Head, l.H) {
		return nil, fmt.Errorf("rel: load: variable %q head mismatch", l.Name)
	}
	body := tuple.NewBuf()
	for _, t := range src.Body.All() {
		body.Add(t)
	}
	return &Relation{Head: l.H, Body: body}, nil
}

// Store evaluates its child and replaces a bound variable with the
// result, transferring body ownership; the old body is cleaned.
type Store struct {
	Name  string
	Child Node
}

func NewStore(name string, child Node) *Store { return &Store{Name: name, Child: child} }

func (s *Store) Head() head.Head { return s.Child.Head() }

func (s *Store) Eval(ctx *Eval) (*Relation, error) {
	r, err := s.Child.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if old, ok := ctx.Vars.Get(s.Name); ok {
		old.Body.Clean()
	}
	ctx.Vars.Set(s.Name, r)
	return r, nil
}
