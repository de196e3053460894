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

package env

import (
	"testing"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/rel"
	"github.com/tabuladb/tabula/value"
)

func mustHead(t *testing.T, attrs []head.Attr) head.Head {
	t.Helper()
	h, err := head.New(attrs)
	if err != nil {
		t.Fatalf("head.New: %v", err)
	}
	return h
}

func TestNewRejectsOverlappingReadWrite(t *testing.T) {
	f := &rel.Func{Name: "f", Read: []string{"x"}, Write: []string{"x"}}
	if _, err := New(nil, []*rel.Func{f}, nil); err == nil {
		t.Fatal("New should reject a function reading and writing the same variable")
	}
}

func TestNewRejectsDuplicatePrimParam(t *testing.T) {
	f := &rel.Func{Name: "f", PrimArgs: []rel.PrimParam{{Name: "n", Type: value.Int}, {Name: "n", Type: value.Real}}}
	if _, err := New(nil, []*rel.Func{f}, nil); err == nil {
		t.Fatal("New should reject duplicate primitive parameter names")
	}
}

func TestNewRejectsPrimParamCollidingWithRelArg(t *testing.T) {
	f := &rel.Func{
		Name:     "f",
		PrimArgs: []rel.PrimParam{{Name: "r", Type: value.Int}},
		RelArg:   &rel.RelArg{Name: "r"},
	}
	if _, err := New(nil, []*rel.Func{f}, nil); err == nil {
		t.Fatal("New should reject a primitive parameter colliding with the relational parameter")
	}
}

func TestFuncLookup(t *testing.T) {
	f := &rel.Func{Name: "load"}
	e, err := New(nil, []*rel.Func{f}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, ok := e.Func("load")
	if !ok || got.Name != "load" {
		t.Fatal("Func should find a registered function by name")
	}
	if _, ok := e.Func("missing"); ok {
		t.Fatal("Func should not find an unregistered name")
	}
}

func TestFuncsPrefixSortedByName(t *testing.T) {
	fns := []*rel.Func{{Name: "fetch_b"}, {Name: "fetch_a"}, {Name: "other"}}
	e, err := New(nil, fns, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := e.Funcs("fetch_")
	if len(got) != 2 || got[0].Name != "fetch_a" || got[1].Name != "fetch_b" {
		t.Fatalf("Funcs(fetch_) = %v, want [fetch_a fetch_b]", got)
	}
	if len(e.Funcs("")) != 3 {
		t.Fatal("Funcs(\"\") should match every function")
	}
}

func TestHeadAndVarNames(t *testing.T) {
	h := mustHead(t, []head.Attr{{Name: "a", Type: value.Int}})
	e, err := New(map[string]head.Head{"t": h}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, ok := e.Head("t")
	if !ok || !head.Eq(got, h) {
		t.Fatal("Head should return the declared head for a known variable")
	}
	if _, ok := e.Head("missing"); ok {
		t.Fatal("Head should fail for an unknown variable")
	}
	if names := e.VarNames(); len(names) != 1 || names[0] != "t" {
		t.Fatalf("VarNames() = %v, want [t]", names)
	}
}

func TestSourceAndSourceHash(t *testing.T) {
	src := []byte("relvar t(a int);")
	e, err := New(nil, nil, src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if string(e.Source()) != string(src) {
		t.Fatal("Source should return the exact compiled bytes")
	}
	other, err := New(nil, nil, []byte("relvar u(b int);"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.SourceHash() == other.SourceHash() {
		t.Fatal("SourceHash should differ for different source")
	}
	same, err := New(nil, nil, src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.SourceHash() != same.SourceHash() {
		t.Fatal("SourceHash should be stable for identical source")
	}
}

func TestCompat(t *testing.T) {
	intHead := mustHead(t, []head.Attr{{Name: "a", Type: value.Int}})
	realHead := mustHead(t, []head.Attr{{Name: "a", Type: value.Real}})

	older, err := New(map[string]head.Head{"t": intHead}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sameShape, err := New(map[string]head.Head{"t": intHead, "u": intHead}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !Compat(older, sameShape) {
		t.Fatal("Compat should accept a newer env that adds a variable")
	}

	changed, err := New(map[string]head.Head{"t": realHead}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if Compat(older, changed) {
		t.Fatal("Compat should reject a newer env that changes an existing variable's head")
	}
}
