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
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/rel"
	"github.com/tabuladb/tabula/rex"
	"github.com/tabuladb/tabula/summary"
	"github.com/tabuladb/tabula/value"
)

// manifest is the on-disk shape of a compiled program, the stand-in for
// whatever a real language front end would otherwise produce. It is
// intentionally flat and textual: one YAML document per program,
// loaded with sigs.k8s.io/yaml so the same struct tags work whether the
// source is JSON or YAML.
type manifest struct {
	Vars  map[string]manifestHead `json:"vars"`
	Funcs []manifestFunc          `json:"funcs"`
}

type manifestHead []manifestAttr

type manifestAttr struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type manifestFunc struct {
	Name      string          `json:"name"`
	Read      []string        `json:"read"`
	Write     []string        `json:"write"`
	Temp      []manifestTemp  `json:"temp"`
	PrimArgs  []manifestAttr  `json:"primArgs"`
	RelArg    *manifestRelArg `json:"relArg"`
	RetHead   manifestHead    `json:"retHead"`
	HasRet    bool            `json:"hasRet"`
	Stmts     []manifestStmt  `json:"stmts"`
}

type manifestTemp struct {
	Name string       `json:"name"`
	Head manifestHead `json:"head"`
}

type manifestRelArg struct {
	Name string       `json:"name"`
	Head manifestHead `json:"head"`
}

// manifestStmt is one node of a statement's operator tree, expressed as
// a tagged union over its "op" field.
type manifestStmt struct {
	Op string `json:"op"`

	Name  string `json:"name"` // load/store/call target, or call's function name
	Head  manifestHead `json:"head"`
	Child *manifestStmt `json:"child"`
	Left  *manifestStmt `json:"left"`
	Right *manifestStmt `json:"right"`

	Names []string        `json:"names"` // project/rename/extend/sum attribute names
	From  []string        `json:"from"`
	To    []string        `json:"to"`
	Expr  *manifestExpr   `json:"expr"`  // select's predicate
	Exprs []manifestExpr  `json:"exprs"` // extend's value expressions

	Per   *manifestStmt      `json:"per"`
	Types []string           `json:"types"`
	Sums  []manifestAggregate `json:"sums"`

	CallFunc  string          `json:"callFunc"`
	PrimExprs []manifestExpr  `json:"primExprs"`
	RelArgStmt *manifestStmt  `json:"relArgStmt"`
}

type manifestAggregate struct {
	Kind    string      `json:"kind"` // cnt/min/max/avg/add
	Pos     int         `json:"pos"`
	Type    string      `json:"type"`
	Default interface{} `json:"default"`
}

// manifestExpr is one node of an expression tree, tagged the same way.
type manifestExpr struct {
	Op string `json:"op"`

	ConstType string      `json:"constType"`
	ConstVal  interface{} `json:"constVal"`

	Pos  int    `json:"pos"`
	Type string `json:"type"`

	Left  *manifestExpr `json:"left"`
	Right *manifestExpr `json:"right"`
	E     *manifestExpr `json:"e"`

	ConvType string `json:"convType"`
}

// buildCtx threads the in-progress function table through manifest
// compilation so a "call" statement can resolve its target. Functions
// may only call functions declared earlier in the manifest's Funcs list
// — a deliberate simplification of the out-of-scope language front end,
// which would otherwise need a forward-reference pass.
type buildCtx struct {
	funcs map[string]*rel.Func
}

// Load parses a program manifest and compiles it into an Env.
func Load(src []byte) (*Env, error) {
	var m manifest
	if err := yaml.Unmarshal(src, &m); err != nil {
		return nil, fmt.Errorf("env: parse manifest: %w", err)
	}
	vars := make(map[string]head.Head, len(m.Vars))
	for name, mh := range m.Vars {
		h, err := mh.build()
		if err != nil {
			return nil, fmt.Errorf("env: variable %q: %w", name, err)
		}
		vars[name] = h
	}
	bc := &buildCtx{funcs: make(map[string]*rel.Func, len(m.Funcs))}
	fns := make([]*rel.Func, 0, len(m.Funcs))
	for _, mf := range m.Funcs {
		f, err := mf.build(bc)
		if err != nil {
			return nil, fmt.Errorf("env: function %q: %w", mf.Name, err)
		}
		fns = append(fns, f)
		bc.funcs[f.Name] = f
	}
	return New(vars, fns, src)
}

func (mh manifestHead) build() (head.Head, error) {
	attrs := make([]head.Attr, len(mh))
	for i, a := range mh {
		t, ok := value.TypeFromString(a.Type)
		if !ok {
			return head.Head{}, fmt.Errorf("unknown type %q", a.Type)
		}
		attrs[i] = head.Attr{Name: a.Name, Type: t}
	}
	return head.New(attrs)
}

func (mf manifestFunc) build(bc *buildCtx) (*rel.Func, error) {
	f := &rel.Func{
		Name:  mf.Name,
		Read:  mf.Read,
		Write: mf.Write,
	}
	for _, t := range mf.Temp {
		h, err := t.Head.build()
		if err != nil {
			return nil, fmt.Errorf("temp %q: %w", t.Name, err)
		}
		f.Temp = append(f.Temp, t.Name)
		f.TempHeads = append(f.TempHeads, h)
	}
	for _, p := range mf.PrimArgs {
		typ, ok := value.TypeFromString(p.Type)
		if !ok {
			return nil, fmt.Errorf("primitive arg %q: unknown type %q", p.Name, p.Type)
		}
		f.PrimArgs = append(f.PrimArgs, rel.PrimParam{Name: p.Name, Type: typ})
	}
	if mf.RelArg != nil {
		h, err := mf.RelArg.Head.build()
		if err != nil {
			return nil, fmt.Errorf("relational arg: %w", err)
		}
		f.RelArg = &rel.RelArg{Name: mf.RelArg.Name, Head: h}
	}
	if mf.HasRet {
		h, err := mf.RetHead.build()
		if err != nil {
			return nil, fmt.Errorf("return head: %w", err)
		}
		f.RetHead = &h
	}
	for i := range mf.Stmts {
		n, err := mf.Stmts[i].build(bc)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		f.Stmts = append(f.Stmts, n)
	}
	return f, nil
}

func (ms manifestStmt) build(bc *buildCtx) (rel.Node, error) {
	switch ms.Op {
	case "load":
		h, err := ms.Head.build()
		if err != nil {
			return nil, err
		}
		return rel.NewLoad(ms.Name, h), nil
	case "store":
		child, err := ms.Child.build(bc)
		if err != nil {
			return nil, err
		}
		return rel.NewStore(ms.Name, child), nil
	case "join":
		l, r, err := ms.buildLeftRight(bc)
		if err != nil {
			return nil, err
		}
		return rel.NewJoin(l, r), nil
	case "union":
		l, r, err := ms.buildLeftRight(bc)
		if err != nil {
			return nil, err
		}
		return rel.NewUnion(l, r)
	case "diff":
		l, r, err := ms.buildLeftRight(bc)
		if err != nil {
			return nil, err
		}
		return rel.NewDiff(l, r), nil
	case "project":
		child, err := ms.Child.build(bc)
		if err != nil {
			return nil, err
		}
		return rel.NewProject(child, ms.Names)
	case "rename":
		child, err := ms.Child.build(bc)
		if err != nil {
			return nil, err
		}
		return rel.NewRename(child, ms.From, ms.To)
	case "select":
		child, err := ms.Child.build(bc)
		if err != nil {
			return nil, err
		}
		e, err := ms.Expr.build()
		if err != nil {
			return nil, err
		}
		return rel.NewSelect(child, e), nil
	case "extend":
		child, err := ms.Child.build(bc)
		if err != nil {
			return nil, err
		}
		exprs := make([]rex.Expr, len(ms.Exprs))
		for i := range ms.Exprs {
			e, err := ms.Exprs[i].build()
			if err != nil {
				return nil, err
			}
			exprs[i] = e
		}
		return rel.NewExtend(child, ms.Names, exprs)
	case "sum":
		r, err := ms.Child.build(bc)
		if err != nil {
			return nil, err
		}
		per, err := ms.Per.build(bc)
		if err != nil {
			return nil, err
		}
		types, sums, err := buildAggregates(ms.Types, ms.Sums)
		if err != nil {
			return nil, err
		}
		return rel.NewSummarize(r, per, ms.Names, types, sums)
	case "sum_unary":
		r, err := ms.Child.build(bc)
		if err != nil {
			return nil, err
		}
		types, sums, err := buildAggregates(ms.Types, ms.Sums)
		if err != nil {
			return nil, err
		}
		return rel.NewSummarizeUnary(r, ms.Names, types, sums)
	case "call":
		f, ok := bc.funcs[ms.CallFunc]
		if !ok {
			return nil, fmt.Errorf("call: unknown or forward-referenced function %q", ms.CallFunc)
		}
		primExprs := make([]rex.Expr, len(ms.PrimExprs))
		for i := range ms.PrimExprs {
			e, err := ms.PrimExprs[i].build()
			if err != nil {
				return nil, err
			}
			primExprs[i] = e
		}
		var relArgExpr rel.Node
		if ms.RelArgStmt != nil {
			var err error
			relArgExpr, err = ms.RelArgStmt.build(bc)
			if err != nil {
				return nil, err
			}
		}
		return &rel.Call{Func: f, PrimExprs: primExprs, RelArgExpr: relArgExpr}, nil
	default:
		return nil, fmt.Errorf("unknown statement op %q", ms.Op)
	}
}

func (ms manifestStmt) buildLeftRight(bc *buildCtx) (rel.Node, rel.Node, error) {
	l, err := ms.Left.build(bc)
	if err != nil {
		return nil, nil, err
	}
	r, err := ms.Right.build(bc)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func buildAggregates(types []string, aggs []manifestAggregate) ([]value.Type, []summary.Sum, error) {
	vt := make([]value.Type, len(types))
	for i, t := range types {
		tt, ok := value.TypeFromString(t)
		if !ok {
			return nil, nil, fmt.Errorf("unknown aggregate result type %q", t)
		}
		vt[i] = tt
	}
	sums := make([]summary.Sum, len(aggs))
	for i, a := range aggs {
		typ, ok := value.TypeFromString(a.Type)
		if !ok {
			return nil, nil, fmt.Errorf("unknown aggregate operand type %q", a.Type)
		}
		def, err := scalarFromJSON(typ, a.Default)
		if err != nil {
			return nil, nil, err
		}
		switch a.Kind {
		case "cnt":
			sums[i] = summary.NewCnt()
		case "min":
			sums[i] = summary.NewMin(a.Pos, typ, def)
		case "max":
			sums[i] = summary.NewMax(a.Pos, typ, def)
		case "avg":
			sums[i] = summary.NewAvg(a.Pos, typ, def)
		case "add":
			sums[i] = summary.NewAdd(a.Pos, typ, def)
		default:
			return nil, nil, fmt.Errorf("unknown aggregate kind %q", a.Kind)
		}
	}
	return vt, sums, nil
}

func scalarFromJSON(t value.Type, v interface{}) (value.Value, error) {
	if v == nil {
		switch t {
		case value.Int:
			return value.NewInt(0), nil
		case value.Long:
			return value.NewLong(0), nil
		case value.Real:
			return value.NewReal(0), nil
		default:
			return value.NewString(""), nil
		}
	}
	switch t {
	case value.Int:
		f, _ := v.(float64)
		return value.NewInt(int32(f)), nil
	case value.Long:
		f, _ := v.(float64)
		return value.NewLong(int64(f)), nil
	case value.Real:
		f, _ := v.(float64)
		return value.NewReal(f), nil
	default:
		s, _ := v.(string)
		return value.NewString(s), nil
	}
}

func (me *manifestExpr) build() (rex.Expr, error) {
	switch me.Op {
	case "const":
		t, ok := value.TypeFromString(me.ConstType)
		if !ok {
			return nil, fmt.Errorf("const: unknown type %q", me.ConstType)
		}
		v, err := scalarFromJSON(t, me.ConstVal)
		if err != nil {
			return nil, err
		}
		return rex.Const{V: v}, nil
	case "attr":
		t, ok := value.TypeFromString(me.Type)
		if !ok {
			return nil, fmt.Errorf("attr: unknown type %q", me.Type)
		}
		return rex.Attr{Pos: me.Pos, Typ: t}, nil
	case "param":
		t, ok := value.TypeFromString(me.Type)
		if !ok {
			return nil, fmt.Errorf("param: unknown type %q", me.Type)
		}
		return rex.ParamRef{Pos: me.Pos, Typ: t}, nil
	case "not":
		e, err := me.E.build()
		if err != nil {
			return nil, err
		}
		return rex.Not{E: e}, nil
	case "and", "or", "eq", "lt", "gt", "lte", "gte", "sum", "sub", "mul", "div":
		l, err := me.Left.build()
		if err != nil {
			return nil, err
		}
		r, err := me.Right.build()
		if err != nil {
			return nil, err
		}
		switch me.Op {
		case "and":
			return rex.And(l, r), nil
		case "or":
			return rex.Or(l, r), nil
		case "eq":
			return rex.Eq(l, r), nil
		case "lt":
			return rex.Lt(l, r), nil
		case "gt":
			return rex.Gt(l, r), nil
		case "lte":
			return rex.Lte(l, r), nil
		case "gte":
			return rex.Gte(l, r), nil
		case "sum":
			return rex.Sum(l, r), nil
		case "sub":
			return rex.Sub(l, r), nil
		case "mul":
			return rex.Mul(l, r), nil
		default:
			return rex.Div(l, r), nil
		}
	case "conv":
		e, err := me.E.build()
		if err != nil {
			return nil, err
		}
		t, ok := value.TypeFromString(me.ConvType)
		if !ok {
			return nil, fmt.Errorf("conv: unknown type %q", me.ConvType)
		}
		return rex.Conv{E: e, Typ: t}, nil
	case "time":
		return rex.Now{}, nil
	case "strIndex":
		l, err := me.Left.build()
		if err != nil {
			return nil, err
		}
		r, err := me.Right.build()
		if err != nil {
			return nil, err
		}
		return rex.StrIndex{Haystack: l, Needle: r}, nil
	default:
		return nil, fmt.Errorf("unknown expression op %q", me.Op)
	}
}
