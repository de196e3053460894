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

// Package head implements relation schemas: ordered, named, typed
// attribute lists kept in name-sorted order, plus the join/project/
// rename/common-attribute algebra the relational operators build on.
package head

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tabuladb/tabula/value"
	"golang.org/x/exp/slices"
)

// MaxAttrs bounds the number of attributes a head may declare.
const MaxAttrs = 64

// Attr is one (name, type) pair.
type Attr struct {
	Name string
	Type value.Type
}

// Head is a relation schema: a name-sorted list of attributes. Two
// heads compare equal iff they have the same length and the same
// (name,type) at every position.
type Head struct {
	attrs []Attr
}

// New builds a head from an arbitrary-order attribute list, validating
// uniqueness and the MaxAttrs bound, and sorts it by name.
func New(attrs []Attr) (Head, error) {
	if len(attrs) > MaxAttrs {
		return Head{}, fmt.Errorf("head: %d attributes exceeds MaxAttrs", len(attrs))
	}
	cp := append([]Attr(nil), attrs...)
	sortAttrs(cp)
	for i := 1; i < len(cp); i++ {
		if cp[i].Name == cp[i-1].Name {
			return Head{}, fmt.Errorf("head: duplicate attribute %q", cp[i].Name)
		}
	}
	return Head{attrs: cp}, nil
}

func sortAttrs(a []Attr) {
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
}

// Len returns the number of attributes.
func (h Head) Len() int { return len(h.attrs) }

// Attr returns the attribute at a sorted position.
func (h Head) Attr(pos int) Attr { return h.attrs[pos] }

// Attrs returns the head's attribute list in sorted order. The caller
// must not mutate the returned slice.
func (h Head) Attrs() []Attr { return h.attrs }

// Find returns the position of name, or -1.
func (h Head) Find(name string) int {
	i := sort.Search(len(h.attrs), func(i int) bool { return h.attrs[i].Name >= name })
	if i < len(h.attrs) && h.attrs[i].Name == name {
		return i
	}
	return -1
}

// Names returns the attribute names in sorted order.
func (h Head) Names() []string {
	out := make([]string, len(h.attrs))
	for i, a := range h.attrs {
		out[i] = a.Name
	}
	return out
}

// Eq does a position-wise name+type comparison; both heads are assumed
// already sorted, which New/Join/Project/Rename always produce.
func Eq(l, r Head) bool {
	if len(l.attrs) != len(r.attrs) {
		return false
	}
	for i := range l.attrs {
		if l.attrs[i] != r.attrs[i] {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of h.
func (h Head) Copy() Head {
	return Head{attrs: append([]Attr(nil), h.attrs...)}
}

// Common returns, for each attribute present in both l and r with the
// same type, its position in l and in r, in l-order.
func Common(l, r Head) (lpos, rpos []int) {
	for i, a := range l.attrs {
		j := r.Find(a.Name)
		if j >= 0 && r.attrs[j].Type == a.Type {
			lpos = append(lpos, i)
			rpos = append(rpos, j)
		}
	}
	return lpos, rpos
}

// Join returns the union schema of l and r (l's attributes, plus any of
// r's not already present by name, re-sorted) together with a map from
// each output position to either an l-position (with rpos[i] == -1) or
// an r-position when the attribute was not present in l.
func Join(l, r Head) (h Head, lpos, rpos []int) {
	merged := append([]Attr(nil), l.attrs...)
	for _, a := range r.attrs {
		if l.Find(a.Name) < 0 {
			merged = append(merged, a)
		}
	}
	sortAttrs(merged)
	h = Head{attrs: merged}
	lpos = make([]int, len(merged))
	rpos = make([]int, len(merged))
	for i, a := range merged {
		if p := l.Find(a.Name); p >= 0 {
			lpos[i] = p
			rpos[i] = -1
		} else {
			rpos[i] = r.Find(a.Name)
			lpos[i] = -1
		}
	}
	return h, lpos, rpos
}

// Project reduces h to the given attribute names, re-sorting them, and
// returns the new head along with the source position of each output
// attribute.
func Project(h Head, names []string) (Head, []int, error) {
	sortedNames := append([]string(nil), names...)
	sort.Strings(sortedNames)
	attrs := make([]Attr, len(sortedNames))
	pos := make([]int, len(sortedNames))
	for i, n := range sortedNames {
		p := h.Find(n)
		if p < 0 {
			return Head{}, nil, fmt.Errorf("head: unknown attribute %q", n)
		}
		attrs[i] = h.attrs[p]
		pos[i] = p
	}
	return Head{attrs: attrs}, pos, nil
}

// Rename substitutes from[i] with to[i] wherever it appears in h, and
// returns the new head along with, for each output position, the
// position in h it came from.
func Rename(h Head, from, to []string) (Head, []int, error) {
	if len(from) != len(to) {
		return Head{}, nil, fmt.Errorf("head: rename from/to length mismatch")
	}
	attrs := make([]Attr, len(h.attrs))
	copy(attrs, h.attrs)
	for i, a := range attrs {
		if j := slices.Index(from, a.Name); j >= 0 {
			attrs[i].Name = to[j]
		}
	}
	// build output-position -> source-position map before re-sorting,
	// then carry it through the same permutation applied to attrs.
	srcPos := make([]int, len(attrs))
	for i := range srcPos {
		srcPos[i] = i
	}
	idx := make([]int, len(attrs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return attrs[idx[i]].Name < attrs[idx[j]].Name })
	sortedAttrs := make([]Attr, len(attrs))
	sortedSrc := make([]int, len(attrs))
	for i, j := range idx {
		sortedAttrs[i] = attrs[j]
		sortedSrc[i] = srcPos[j]
	}
	for i := 1; i < len(sortedAttrs); i++ {
		if sortedAttrs[i].Name == sortedAttrs[i-1].Name {
			return Head{}, nil, fmt.Errorf("head: rename produced duplicate attribute %q", sortedAttrs[i].Name)
		}
	}
	return Head{attrs: sortedAttrs}, sortedSrc, nil
}

// String renders a "{name type, name type}" debug form.
func (h Head) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, a := range h.attrs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Name)
		sb.WriteByte(' ')
		sb.WriteString(a.Type.String())
	}
	sb.WriteByte('}')
	return sb.String()
}
