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
	"bytes"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/tuple"
)

// Project reduces its child to the given attribute names, deduplicating
// on the projected tuple by bucketing candidates on their encoded hash
// before appending a new one.
type Project struct {
	Child Node
	Names []string
	h     head.Head
	pos   []int
}

func NewProject(child Node, names []string) (*Project, error) {
	h, pos, err := head.Project(child.Head(), names)
	if err != nil {
		return nil, err
	}
	return &Project{Child: child, Names: names, h: h, pos: pos}, nil
}

func (p *Project) Head() head.Head { return p.h }

func (p *Project) Eval(ctx *Eval) (*Relation, error) {
	cr, err := p.Child.Eval(ctx)
	if err != nil {
		return nil, err
	}
	out := tuple.NewBuf()
	seen := make(map[uint64][][]byte)
	for _, t := range cr.Body.All() {
		projected := t.Reord(p.pos)
		enc := tuple.Encode(projected)
		h := tuple.Hash(projected)
		dup := false
		for _, prior := range seen[h] {
			if bytes.Equal(prior, enc) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen[h] = append(seen[h], enc)
		out.Add(projected)
	}
	cr.Body.Clean()
	return &Relation{Head: p.h, Body: out}, nil
}

// Rename substitutes from[i] with to[i] in its child's head, leaving
// the body a position-reordered copy (positions shift because renaming
// forces a re-sort of the attribute list).
type Rename struct {
	Child    Node
	From, To []string
	h        head.Head
	pos      []int
}

func NewRename(child Node, from, to []string) (*Rename, error) {
	h, pos, err := head.Rename(child.Head(), from, to)
	if err != nil {
		return nil, err
	}
	return &Rename{Child: child, From: from, To: to, h: h, pos: pos}, nil
}

func (r *Rename) Head() head.Head { return r.h }

func (r *Rename) Eval(ctx *Eval) (*Relation, error) {
	cr, err := r.Child.Eval(ctx)
	if err != nil {
		return nil, err
	}
	out := tuple.NewBuf()
	for _, t := range cr.Body.All() {
		out.Add(t.Reord(r.pos))
	}
	cr.Body.Clean()
	return &Relation{Head: r.h, Body: out}, nil
}
