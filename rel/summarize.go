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
	"sort"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/index"
	"github.com/tabuladb/tabula/summary"
	"github.com/tabuladb/tabula/tuple"
	"github.com/tabuladb/tabula/value"
)

// sortAggregates orders names/types/sums by name, matching the sort
// head.New applies internally, so the synthetic tuple built in that
// same order lines up position-for-position with the resulting head.
func sortAggregates(names []string, types []value.Type, sums []summary.Sum) ([]string, []value.Type, []summary.Sum) {
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return names[order[i]] < names[order[j]] })
	sn := make([]string, len(names))
	st := make([]value.Type, len(names))
	ss := make([]summary.Sum, len(names))
	for i, j := range order {
		sn[i], st[i], ss[i] = names[j], types[j], sums[j]
	}
	return sn, st, ss
}

// Summarize groups R per distinct row of Per (matched on their common
// attributes), running every aggregator over each group's rows, and
// joins the per-row with the aggregate results.
type Summarize struct {
	R, Per     Node
	Names      []string
	Types      []value.Type
	Sums       []summary.Sum
	h          head.Head
	aggHead    head.Head
	commonR    []int
	commonPer  []int
	lpos, rpos []int
}

func NewSummarize(r, per Node, names []string, types []value.Type, sums []summary.Sum) (*Summarize, error) {
	if len(names) != len(types) || len(names) != len(sums) {
		return nil, fmt.Errorf("rel: summarize: names/types/sums length mismatch")
	}
	names, types, sums = sortAggregates(names, types, sums)
	attrs := make([]head.Attr, len(names))
	for i, n := range names {
		attrs[i] = head.Attr{Name: n, Type: types[i]}
	}
	aggHead, err := head.New(attrs)
	if err != nil {
		return nil, fmt.Errorf("rel: summarize: %w", err)
	}
	h, lpos, rpos := head.Join(per.Head(), aggHead)
	commonR, commonPer := head.Common(r.Head(), per.Head())
	return &Summarize{
		R: r, Per: per, Names: names, Types: types, Sums: sums,
		h: h, aggHead: aggHead, commonR: commonR, commonPer: commonPer, lpos: lpos, rpos: rpos,
	}, nil
}

func (s *Summarize) Head() head.Head { return s.h }

func (s *Summarize) Eval(ctx *Eval) (*Relation, error) {
	rr, err := s.R.Eval(ctx)
	if err != nil {
		return nil, err
	}
	pr, err := s.Per.Eval(ctx)
	if err != nil {
		return nil, err
	}
	idx := index.Sort(rr.Body.All(), s.commonR)
	out := tuple.NewBuf()
	for _, perRow := range pr.Body.All() {
		matched := idx.Match(perRow, s.commonPer)
		vals := make([]value.Value, len(s.Sums))
		for i, agg := range s.Sums {
			agg.Reset()
			for _, t := range matched {
				agg.Update(t)
			}
			vals[i] = agg.Value()
		}
		aggTuple := tuple.New(vals)
		out.Add(tuple.Join(perRow, aggTuple, s.lpos, s.rpos))
	}
	rr.Body.Clean()
	pr.Body.Clean()
	return &Relation{Head: s.h, Body: out}, nil
}

// SummarizeUnary runs every aggregator over the whole of R and returns
// a single output row.
type SummarizeUnary struct {
	R     Node
	Names []string
	Types []value.Type
	Sums  []summary.Sum
	h     head.Head
}

func NewSummarizeUnary(r Node, names []string, types []value.Type, sums []summary.Sum) (*SummarizeUnary, error) {
	if len(names) != len(types) || len(names) != len(sums) {
		return nil, fmt.Errorf("rel: summarize_unary: names/types/sums length mismatch")
	}
	names, types, sums = sortAggregates(names, types, sums)
	attrs := make([]head.Attr, len(names))
	for i, n := range names {
		attrs[i] = head.Attr{Name: n, Type: types[i]}
	}
	h, err := head.New(attrs)
	if err != nil {
		return nil, fmt.Errorf("rel: summarize_unary: %w", err)
	}
	return &SummarizeUnary{R: r, Names: names, Types: types, Sums: sums, h: h}, nil
}

func (s *SummarizeUnary) Head() head.Head { return s.h }

func (s *SummarizeUnary) Eval(ctx *Eval) (*Relation, error) {
	rr, err := s.R.Eval(ctx)
	if err != nil {
		return nil, err
	}
	vals := make([]value.Value, len(s.Sums))
	for i, agg := range s.Sums {
		agg.Reset()
		for _, t := range rr.Body.All() {
			agg.Update(t)
		}
		vals[i] = agg.Value()
	}
	rr.Body.Clean()
	out := tuple.NewBuf()
	out.Add(tuple.New(vals))
	return &Relation{Head: s.h, Body: out}, nil
}
