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
	"testing"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/rex"
	"github.com/tabuladb/tabula/summary"
	"github.com/tabuladb/tabula/tuple"
	"github.com/tabuladb/tabula/value"
)

// lit is a fixed, already-materialized relation used to build test trees
// without needing a Load/Store-backed variable scope.
type lit struct {
	h head.Head
	b []tuple.Tuple
}

func (l lit) Head() head.Head { return l.h }

func (l lit) Eval(ctx *Eval) (*Relation, error) {
	buf := tuple.NewBuf()
	for _, t := range l.b {
		buf.Add(t)
	}
	return &Relation{Head: l.h, Body: buf}, nil
}

func mustHead(t *testing.T, attrs []head.Attr) head.Head {
	t.Helper()
	h, err := head.New(attrs)
	if err != nil {
		t.Fatalf("head.New: %v", err)
	}
	return h
}

func row(vals ...value.Value) tuple.Tuple { return tuple.New(vals) }

func abHead(t *testing.T) head.Head {
	return mustHead(t, []head.Attr{{Name: "a", Type: value.Int}, {Name: "b", Type: value.Int}})
}

func evalCtx() *Eval { return &Eval{Vars: NewVars(), Param: rex.Param{}} }

func bodyOf(t *testing.T, n Node) []tuple.Tuple {
	t.Helper()
	r, err := n.Eval(evalCtx())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	return r.Body.All()
}

func TestUnionIdempotent(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{row(value.NewInt(1), value.NewInt(2))}
	r := lit{h: h, b: rows}
	u, err := NewUnion(r, r)
	if err != nil {
		t.Fatalf("NewUnion: %v", err)
	}
	got := bodyOf(t, u)
	if len(got) != 1 {
		t.Fatalf("R union R should equal R, got %d rows", len(got))
	}
}

func TestUnionWithEmpty(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{row(value.NewInt(1), value.NewInt(2))}
	r := lit{h: h, b: rows}
	empty := lit{h: h, b: nil}
	u, err := NewUnion(r, empty)
	if err != nil {
		t.Fatalf("NewUnion: %v", err)
	}
	if len(bodyOf(t, u)) != 1 {
		t.Fatal("R union empty should equal R")
	}
}

func TestDiffSelf(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{row(value.NewInt(1), value.NewInt(2)), row(value.NewInt(3), value.NewInt(4))}
	r := lit{h: h, b: rows}
	d := NewDiff(r, r)
	if got := bodyOf(t, d); len(got) != 0 {
		t.Fatalf("R diff R should be empty, got %d rows", len(got))
	}
}

func TestJoinSelfIsSelf(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{row(value.NewInt(1), value.NewInt(2)), row(value.NewInt(3), value.NewInt(4))}
	r := lit{h: h, b: rows}
	j := NewJoin(r, r)
	if !head.Eq(j.Head(), h) {
		t.Fatalf("Join(R,R).Head() should equal R's head")
	}
	if got := bodyOf(t, j); len(got) != len(rows) {
		t.Fatalf("Join(R,R) should equal R, got %d rows, want %d", len(got), len(rows))
	}
}

func TestJoinUnionDistributes(t *testing.T) {
	// R join (S union T) == (R join S) union (R join T)
	rh := mustHead(t, []head.Attr{{Name: "a", Type: value.Int}})
	sh := mustHead(t, []head.Attr{{Name: "a", Type: value.Int}, {Name: "b", Type: value.Int}})
	r := lit{h: rh, b: []tuple.Tuple{row(value.NewInt(1)), row(value.NewInt(2))}}
	s := lit{h: sh, b: []tuple.Tuple{row(value.NewInt(1), value.NewInt(10))}}
	tt := lit{h: sh, b: []tuple.Tuple{row(value.NewInt(2), value.NewInt(20))}}

	union, err := NewUnion(s, tt)
	if err != nil {
		t.Fatalf("NewUnion: %v", err)
	}
	lhs := bodyOf(t, NewJoin(r, union))

	joinRS := bodyOf(t, NewJoin(r, s))
	joinRT := bodyOf(t, NewJoin(r, tt))
	rhsUnion, err := NewUnion(lit{h: sh, b: joinRS}, lit{h: sh, b: joinRT})
	if err != nil {
		t.Fatalf("NewUnion: %v", err)
	}
	rhs := bodyOf(t, rhsUnion)

	if len(lhs) != len(rhs) {
		t.Fatalf("join/union distributivity: len(lhs)=%d, len(rhs)=%d", len(lhs), len(rhs))
	}
}

func TestSelectTrueIsIdentity(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{row(value.NewInt(1), value.NewInt(2))}
	r := lit{h: h, b: rows}
	s := NewSelect(r, rex.Const{V: value.NewInt(1)})
	if got := bodyOf(t, s); len(got) != 1 {
		t.Fatalf("select(R, true) should equal R, got %d rows", len(got))
	}
}

func TestSelectFalseIsEmpty(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{row(value.NewInt(1), value.NewInt(2))}
	r := lit{h: h, b: rows}
	s := NewSelect(r, rex.Const{V: value.NewInt(0)})
	if got := bodyOf(t, s); len(got) != 0 {
		t.Fatalf("select(R, false) should be empty, got %d rows", len(got))
	}
}

func TestProjectIdentityUpToOrdering(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{row(value.NewInt(1), value.NewInt(2)), row(value.NewInt(3), value.NewInt(4))}
	r := lit{h: h, b: rows}
	p, err := NewProject(r, h.Names())
	if err != nil {
		t.Fatalf("NewProject: %v", err)
	}
	if got := bodyOf(t, p); len(got) != len(rows) {
		t.Fatalf("project(R, R.names) should equal R, got %d rows, want %d", len(got), len(rows))
	}
}

func TestProjectDedups(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{
		row(value.NewInt(1), value.NewInt(2)),
		row(value.NewInt(1), value.NewInt(9)),
	}
	r := lit{h: h, b: rows}
	p, err := NewProject(r, []string{"a"})
	if err != nil {
		t.Fatalf("NewProject: %v", err)
	}
	got := bodyOf(t, p)
	if len(got) != 1 {
		t.Fatalf("project(R, {a}) should dedup to 1 row, got %d", len(got))
	}
}

func TestRenameSubstitutes(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{row(value.NewInt(1), value.NewInt(2))}
	r := lit{h: h, b: rows}
	rn, err := NewRename(r, []string{"a"}, []string{"z"})
	if err != nil {
		t.Fatalf("NewRename: %v", err)
	}
	if rn.Head().Find("z") < 0 {
		t.Fatal("Rename should introduce attribute z")
	}
	if len(bodyOf(t, rn)) != 1 {
		t.Fatal("Rename should preserve row count")
	}
}

func TestExtendAddsComputedAttribute(t *testing.T) {
	ah := mustHead(t, []head.Attr{{Name: "a", Type: value.Int}})
	r := lit{h: ah, b: []tuple.Tuple{row(value.NewInt(3))}}
	e, err := NewExtend(r, []string{"doubled"}, []rex.Expr{rex.Sum(rex.Attr{Pos: 0, Typ: value.Int}, rex.Attr{Pos: 0, Typ: value.Int})})
	if err != nil {
		t.Fatalf("NewExtend: %v", err)
	}
	got := bodyOf(t, e)
	if len(got) != 1 {
		t.Fatalf("Extend should preserve row count, got %d", len(got))
	}
	pos := e.Head().Find("doubled")
	if pos < 0 {
		t.Fatal("Extend should add attribute 'doubled'")
	}
	if got[0].Attr(pos).Int() != 6 {
		t.Fatalf("doubled = %d, want 6", got[0].Attr(pos).Int())
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	h := abHead(t)
	rows := []tuple.Tuple{row(value.NewInt(1), value.NewInt(2))}
	ctx := evalCtx()
	store := NewStore("x", lit{h: h, b: rows})
	if _, err := store.Eval(ctx); err != nil {
		t.Fatalf("Store.Eval: %v", err)
	}
	load := NewLoad("x", h)
	r, err := load.Eval(ctx)
	if err != nil {
		t.Fatalf("Load.Eval: %v", err)
	}
	if r.Body.Len() != 1 {
		t.Fatalf("Load after Store should see 1 row, got %d", r.Body.Len())
	}
}

func TestLoadUnboundVariableFails(t *testing.T) {
	load := NewLoad("missing", abHead(t))
	if _, err := load.Eval(evalCtx()); err == nil {
		t.Fatal("Load of an unbound variable should fail")
	}
}

func TestInvokePrimArgsArityMismatch(t *testing.T) {
	f := &Func{Name: "f", PrimArgs: []PrimParam{{Name: "n", Type: value.Int}}}
	if _, err := Invoke(NewVars(), f, nil, nil); err == nil {
		t.Fatal("Invoke should reject a primitive-argument arity mismatch")
	}
}

func TestInvokeReturnsLastStatement(t *testing.T) {
	h := abHead(t)
	retHead := h
	f := &Func{
		Name:    "f",
		RetHead: &retHead,
		Stmts:   []Node{lit{h: h, b: []tuple.Tuple{row(value.NewInt(1), value.NewInt(2))}}},
	}
	r, err := Invoke(NewVars(), f, nil, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if r.Body.Len() != 1 {
		t.Fatalf("Invoke should return the last statement's relation, got %d rows", r.Body.Len())
	}
}

func TestInvokeMovesWriteVariableBack(t *testing.T) {
	h := abHead(t)
	vars := NewVars()
	vars.Set("acc", &Relation{Head: h, Body: tuple.NewBuf()})
	f := &Func{
		Name:  "bump",
		Write: []string{"acc"},
		Stmts: []Node{NewStore("acc", lit{h: h, b: []tuple.Tuple{row(value.NewInt(1), value.NewInt(2))}})},
	}
	if _, err := Invoke(vars, f, nil, nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	r, ok := vars.Get("acc")
	if !ok {
		t.Fatal("write variable should be moved back into the caller's scope")
	}
	if r.Body.Len() != 1 {
		t.Fatalf("acc should hold 1 row after the call, got %d", r.Body.Len())
	}
}

func TestSummarizeUnaryCnt(t *testing.T) {
	ah := mustHead(t, []head.Attr{{Name: "a", Type: value.Int}})
	r := lit{h: ah, b: []tuple.Tuple{row(value.NewInt(1)), row(value.NewInt(2)), row(value.NewInt(3))}}
	su, err := NewSummarizeUnary(r, []string{"n"}, []value.Type{value.Int}, []summary.Sum{summary.NewCnt()})
	if err != nil {
		t.Fatalf("NewSummarizeUnary: %v", err)
	}
	got := bodyOf(t, su)
	if len(got) != 1 {
		t.Fatalf("SummarizeUnary should produce 1 row, got %d", len(got))
	}
	pos := su.Head().Find("n")
	if got[0].Attr(pos).Int() != 3 {
		t.Fatalf("cnt = %d, want 3", got[0].Attr(pos).Int())
	}
}

func TestSummarizeGroupsByPer(t *testing.T) {
	ah := mustHead(t, []head.Attr{{Name: "g", Type: value.Int}, {Name: "v", Type: value.Int}})
	perHead := mustHead(t, []head.Attr{{Name: "g", Type: value.Int}})
	r := lit{h: ah, b: []tuple.Tuple{
		row(value.NewInt(1), value.NewInt(10)),
		row(value.NewInt(1), value.NewInt(20)),
		row(value.NewInt(2), value.NewInt(5)),
	}}
	per := lit{h: perHead, b: []tuple.Tuple{row(value.NewInt(1)), row(value.NewInt(2))}}
	s, err := NewSummarize(r, per, []string{"n"}, []value.Type{value.Int}, []summary.Sum{summary.NewCnt()})
	if err != nil {
		t.Fatalf("NewSummarize: %v", err)
	}
	got := bodyOf(t, s)
	if len(got) != 2 {
		t.Fatalf("Summarize should produce 1 row per group, got %d", len(got))
	}
}
