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

// Package env represents a compiled program: the named global relation
// variables with their heads, and the functions defined over them.
//
// How a program's statement sequences are produced (parsing, type
// checking) is out of scope; this package only carries the shape the
// rest of the engine depends on.
package env

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/rel"
)

// Env is a compiled program: the set of global variable heads and the
// functions defined over them.
type Env struct {
	vars map[string]head.Head
	fns  map[string]*rel.Func
	src  []byte
}

// New builds an Env from variable heads and functions, validating the
// invariants §3/§4.7 require: read/write/temp disjoint per function,
// primitive parameter names unique and distinct from the relational
// parameter name.
func New(vars map[string]head.Head, fns []*rel.Func, src []byte) (*Env, error) {
	e := &Env{vars: vars, fns: make(map[string]*rel.Func, len(fns)), src: src}
	for _, f := range fns {
		if err := validateFunc(f); err != nil {
			return nil, fmt.Errorf("env: function %q: %w", f.Name, err)
		}
		e.fns[f.Name] = f
	}
	return e, nil
}

func validateFunc(f *rel.Func) error {
	seen := map[string]string{}
	mark := func(set, name string) error {
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("variable %q appears in both %s and %s", name, prev, set)
		}
		seen[name] = set
		return nil
	}
	for _, n := range f.Read {
		if err := mark("read", n); err != nil {
			return err
		}
	}
	for _, n := range f.Write {
		if err := mark("write", n); err != nil {
			return err
		}
	}
	for _, n := range f.Temp {
		if err := mark("temp", n); err != nil {
			return err
		}
	}
	names := map[string]bool{}
	for _, p := range f.PrimArgs {
		if names[p.Name] {
			return fmt.Errorf("duplicate primitive parameter %q", p.Name)
		}
		names[p.Name] = true
		if f.RelArg != nil && f.RelArg.Name == p.Name {
			return fmt.Errorf("primitive parameter %q collides with relational parameter", p.Name)
		}
	}
	return nil
}

// Func looks up a function by exact name.
func (e *Env) Func(name string) (*rel.Func, bool) {
	f, ok := e.fns[name]
	return f, ok
}

// Funcs returns every function whose name has the given prefix, sorted
// by name. An empty prefix matches every function.
func (e *Env) Funcs(prefix string) []*rel.Func {
	var out []*rel.Func
	for name, f := range e.fns {
		if strings.HasPrefix(name, prefix) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Head returns a global variable's declared head.
func (e *Env) Head(varName string) (head.Head, bool) {
	h, ok := e.vars[varName]
	return h, ok
}

// VarNames returns every declared global variable name, sorted.
func (e *Env) VarNames() []string {
	out := make([]string, 0, len(e.vars))
	for n := range e.vars {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Source returns the exact program bytes this Env was compiled from,
// served to executor processes on attach (tx_program) and recorded by
// volumes for the startup compatibility check.
func (e *Env) Source() []byte { return e.src }

// SourceHash returns a stable content hash of the program source. The
// volume's startup compatibility check does not use it; it compares
// programs through Load and Compat.
func (e *Env) SourceHash() [32]byte { return blake2b.Sum256(e.src) }

// Compat reports whether every variable present in both older and newer
// has the same head. Volumes refuse to start against an incompatible
// program; variables removed or added between the two are accepted.
func Compat(older, newer *Env) bool {
	for name, h := range older.vars {
		if h2, ok := newer.vars[name]; ok && !head.Eq(h, h2) {
			return false
		}
	}
	return true
}
