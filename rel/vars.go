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

// Package rel implements the streaming relational algebra: a tree of
// operator nodes that each pull from their children and materialize
// their result as a tuple buffer.
package rel

import (
	"fmt"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/rex"
	"github.com/tabuladb/tabula/tuple"
)

// Relation is a head paired with a tuple buffer: the in-memory value of
// a variable or of any operator's result.
type Relation struct {
	Head head.Head
	Body *tuple.Buf
}

// Vars is the variable scope a statement tree evaluates against: the
// caller's global variables during top-level execution, or a fresh,
// moved-into scope during a function call (§4.6 "state of a call").
type Vars struct {
	m map[string]*Relation
}

// NewVars builds an empty scope.
func NewVars() *Vars { return &Vars{m: map[string]*Relation{}} }

// Get returns the relation bound to name.
func (v *Vars) Get(name string) (*Relation, bool) {
	r, ok := v.m[name]
	return r, ok
}

// Set replaces (or creates) the binding for name, transferring ownership
// of r's body from the caller to the scope.
func (v *Vars) Set(name string, r *Relation) { v.m[name] = r }

// Move takes the binding for name out of src and installs it in dst
// under the same name, leaving src without that binding. If src is nil,
// an empty relation of the given head is created in dst instead — used
// to seed a callee's temp variables.
func Move(dst, src *Vars, name string, emptyHead head.Head) error {
	if src == nil {
		dst.m[name] = &Relation{Head: emptyHead, Body: tuple.NewBuf()}
		return nil
	}
	r, ok := src.m[name]
	if !ok {
		return fmt.Errorf("rel: variable %q not found", name)
	}
	delete(src.m, name)
	dst.m[name] = r
	return nil
}

// Eval is the shared context every operator node evaluates against: the
// global/caller variable scope and the current call's parameter record.
type Eval struct {
	Vars  *Vars
	Param rex.Param
}
