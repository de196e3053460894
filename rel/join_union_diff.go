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
	"github.com/tabuladb/tabula/index"
	"github.com/tabuladb/tabula/tuple"
)

// Join is the natural join of L and R over their common attributes.
// L is sorted by the common key; every R tuple probes it and emits one
// joined tuple per match, tie-broken by index order.
type Join struct {
	L, R         Node
	h            head.Head
	lpos, rpos   []int // join output map
	commonL      []int
	commonR      []int
}

func NewJoin(l, r Node) *Join {
	h, lpos, rpos := head.Join(l.Head(), r.Head())
	commonL, commonR := head.Common(l.Head(), r.Head())
	return &Join{L: l, R: r, h: h, lpos: lpos, rpos: rpos, commonL: commonL, commonR: commonR}
}

func (j *Join) Head() head.Head { return j.h }

func (j *Join) Eval(ctx *Eval) (*Relation, error) {
	lr, err := j.L.Eval(ctx)
	if err != nil {
		return nil, err
	}
	rr, err := j.R.Eval(ctx)
	if err != nil {
		return nil, err
	}
	idx := index.Sort(lr.Body.All(), j.commonL)
	out := tuple.NewBuf()
	for _, rt := range rr.Body.All() {
		for _, lt := range idx.Match(rt, j.commonR) {
			out.Add(tuple.Join(lt, rt, j.lpos, j.rpos))
		}
	}
	lr.Body.Clean()
	rr.Body.Clean()
	return &Relation{Head: j.h, Body: out}, nil
}

// Union emits every L tuple not present in R (matched on their shared
// key), followed by every R tuple. L and R must share a head.
type Union struct {
	L, R    Node
	h       head.Head
	common  []int
}

func NewUnion(l, r Node) (*Union, error) {
	if !head.Eq(l.Head(), r.Head()) {
		return nil, fmt.Errorf("rel: union: mismatched heads")
	}
	common, _ := head.Common(l.Head(), r.Head())
	return &Union{L: l, R: r, h: l.Head(), common: common}, nil
}

func (u *Union) Head() head.Head { return u.h }

func (u *Union) Eval(ctx *Eval) (*Relation, error) {
	lr, err := u.L.Eval(ctx)
	if err != nil {
		return nil, err
	}
	rr, err := u.R.Eval(ctx)
	if err != nil {
		return nil, err
	}
	idx := index.Sort(rr.Body.All(), u.common)
	out := tuple.NewBuf()
	for _, lt := range lr.Body.All() {
		if !idx.Has(lt, u.common) {
			out.Add(lt)
		}
	}
	for _, rt := range rr.Body.All() {
		out.Add(rt)
	}
	lr.Body.Clean()
	rr.Body.Clean()
	return &Relation{Head: u.h, Body: out}, nil
}

// Diff is the semidifference of L and R on their shared attributes:
// every L tuple whose common key does not match any R tuple.
type Diff struct {
	L, R   Node
	h      head.Head
	common []int
}

func NewDiff(l, r Node) *Diff {
	common, _ := head.Common(l.Head(), r.Head())
	return &Diff{L: l, R: r, h: l.Head(), common: common}
}

func (d *Diff) Head() head.Head { return d.h }

func (d *Diff) Eval(ctx *Eval) (*Relation, error) {
	lr, err := d.L.Eval(ctx)
	if err != nil {
		return nil, err
	}
	rr, err := d.R.Eval(ctx)
	if err != nil {
		return nil, err
	}
	idx := index.Sort(rr.Body.All(), d.common)
	out := tuple.NewBuf()
	for _, lt := range lr.Body.All() {
		if !idx.Has(lt, d.common) {
			out.Add(lt)
		}
	}
	lr.Body.Clean()
	rr.Body.Clean()
	return &Relation{Head: d.h, Body: out}, nil
}
