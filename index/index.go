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

// Package index implements the transient sort-merge key index the
// relational operators use for join, union, diff and summarize
// matching. The index never persists; it is rebuilt per evaluation.
package index

import "github.com/tabuladb/tabula/tuple"

// Index holds a buffer's tuples in stable key order, along with the key
// position vector used to build that order.
type Index struct {
	body []tuple.Tuple
	pos  []int
}

// Sort builds an index over body's tuples keyed by pos, using merge
// sort so adversarial inputs cannot trigger quadratic behavior.
func Sort(body []tuple.Tuple, pos []int) *Index {
	cp := append([]tuple.Tuple(nil), body...)
	mergeSort(cp, pos)
	return &Index{body: cp, pos: pos}
}

func mergeSort(t []tuple.Tuple, pos []int) {
	if len(t) < 2 {
		return
	}
	mid := len(t) / 2
	left := append([]tuple.Tuple(nil), t[:mid]...)
	right := append([]tuple.Tuple(nil), t[mid:]...)
	mergeSort(left, pos)
	mergeSort(right, pos)
	i, j, k := 0, 0, 0
	for i < len(left) && j < len(right) {
		if tuple.Cmp(left[i], right[j], pos, pos) <= 0 {
			t[k] = left[i]
			i++
		} else {
			t[k] = right[j]
			j++
		}
		k++
	}
	for i < len(left) {
		t[k] = left[i]
		i++
		k++
	}
	for j < len(right) {
		t[k] = right[j]
		j++
		k++
	}
}

// find performs a binary search for key (addressed by kpos on key)
// against idx's body (addressed by idx.pos), returning any matching
// position, or -1 along with the insertion point.
func (idx *Index) find(key tuple.Tuple, kpos []int) (hit int, insertion int) {
	lo, hi := 0, len(idx.body)
	for lo < hi {
		mid := (lo + hi) / 2
		c := tuple.Cmp(idx.body[mid], key, idx.pos, kpos)
		switch {
		case c == 0:
			return mid, mid
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return -1, lo
}

// Has reports whether key (addressed by kpos) matches any tuple in idx.
func (idx *Index) Has(key tuple.Tuple, kpos []int) bool {
	hit, _ := idx.find(key, kpos)
	return hit >= 0
}

// Match returns every tuple in idx whose key equals key's, in index
// order, by scanning both directions from the binary-search hit point.
func (idx *Index) Match(key tuple.Tuple, kpos []int) []tuple.Tuple {
	hit, _ := idx.find(key, kpos)
	if hit < 0 {
		return nil
	}
	lo, hi := hit, hit
	for lo > 0 && tuple.Cmp(idx.body[lo-1], key, idx.pos, kpos) == 0 {
		lo--
	}
	for hi+1 < len(idx.body) && tuple.Cmp(idx.body[hi+1], key, idx.pos, kpos) == 0 {
		hi++
	}
	out := make([]tuple.Tuple, hi-lo+1)
	copy(out, idx.body[lo:hi+1])
	return out
}

// Body returns the index's sorted tuple sequence.
func (idx *Index) Body() []tuple.Tuple { return idx.body }
