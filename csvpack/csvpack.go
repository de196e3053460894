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

// Package csvpack implements the CSV encoding used on the HTTP
// surface: a header row of "name type" pairs followed by one tuple
// per line, backslash-escaped so a literal delimiter can appear in a
// string value.
package csvpack

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/tuple"
	"github.com/tabuladb/tabula/value"
)

const delim = ','

// ParseError reports a CSV decoding failure with its 1-based line
// number and the offending attribute name, per §6.
type ParseError struct {
	Line int
	Attr string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Attr != "" {
		return fmt.Sprintf("csvpack: line %d, attribute %q: %v", e.Line, e.Attr, e.Err)
	}
	return fmt.Sprintf("csvpack: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// split breaks a line on unescaped delimiters. A backslash before the
// delimiter (or another backslash) suppresses the split and is
// removed from the output field.
func split(line string) []string {
	var fields []string
	var cur strings.Builder
	esc := false
	for _, r := range line {
		if esc {
			cur.WriteRune(r)
			esc = false
			continue
		}
		if r == '\\' {
			esc = true
			continue
		}
		if r == delim {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	fields = append(fields, cur.String())
	return fields
}

func escape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r == '\\' || r == delim {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Encode writes h as a header row followed by one line per tuple in
// body, in head.Head's (name-sorted) attribute order.
func Encode(w io.Writer, h head.Head, body []tuple.Tuple) error {
	bw := bufio.NewWriter(w)
	attrs := h.Attrs()
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = fmt.Sprintf("%s %s", a.Name, typeName(a.Type))
	}
	if _, err := bw.WriteString(strings.Join(parts, ",") + "\n"); err != nil {
		return err
	}
	for _, t := range body {
		row := make([]string, len(attrs))
		for i := range attrs {
			row[i] = escape(t.Attr(i).String())
		}
		if _, err := bw.WriteString(strings.Join(row, ",") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func typeName(t value.Type) string {
	switch t {
	case value.Int:
		return "int"
	case value.Long:
		return "long"
	case value.Real:
		return "real"
	case value.String:
		return "string"
	default:
		return "?"
	}
}

// Decode parses a CSV header and body into a Head and a tuple slice
// in that Head's sorted attribute order. Trailing blank lines are
// ignored.
func Decode(r io.Reader) (head.Head, []tuple.Tuple, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return head.Head{}, nil, &ParseError{Line: 1, Err: err}
		}
		return head.Head{}, nil, &ParseError{Line: 1, Err: fmt.Errorf("missing header line")}
	}
	headerLine := sc.Text()
	cols := split(headerLine)
	names := make([]string, len(cols))
	attrs := make([]head.Attr, len(cols))
	for i, c := range cols {
		parts := strings.Fields(strings.TrimSpace(c))
		if len(parts) != 2 {
			return head.Head{}, nil, &ParseError{Line: 1, Err: fmt.Errorf("malformed header field %q", c)}
		}
		typ, ok := value.TypeFromString(parts[1])
		if !ok {
			return head.Head{}, nil, &ParseError{Line: 1, Attr: parts[0], Err: fmt.Errorf("unknown type %q", parts[1])}
		}
		names[i] = parts[0]
		attrs[i] = head.Attr{Name: parts[0], Type: typ}
	}

	h, err := head.New(attrs)
	if err != nil {
		return head.Head{}, nil, &ParseError{Line: 1, Err: err}
	}
	// head.New name-sorts attrs; compute, for each CSV column, the
	// position it lands at in the sorted head, so Reord can place
	// decoded values correctly.
	pos := make([]int, len(names))
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return names[order[i]] < names[order[j]] })
	for sortedPos, origIdx := range order {
		pos[origIdx] = sortedPos
	}
	reordPos := make([]int, len(names))
	for origIdx, sortedPos := range pos {
		reordPos[sortedPos] = origIdx
	}

	var body []tuple.Tuple
	line := 1
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := split(text)
		if len(fields) != len(names) {
			return head.Head{}, nil, &ParseError{Line: line, Err: fmt.Errorf("expected %d fields, got %d", len(names), len(fields))}
		}
		vals := make([]value.Value, len(fields))
		for i, f := range fields {
			v, err := value.Parse(attrs[i].Type, f)
			if err != nil {
				return head.Head{}, nil, &ParseError{Line: line, Attr: names[i], Err: err}
			}
			vals[i] = v
		}
		t := tuple.New(vals).Reord(reordPos)
		body = append(body, t)
	}
	if err := sc.Err(); err != nil {
		return head.Head{}, nil, &ParseError{Line: line, Err: err}
	}
	return h, body, nil
}
