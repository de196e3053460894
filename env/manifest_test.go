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

import "testing"

const sampleManifest = `
vars:
  t:
  - name: a
    type: int
  - name: b
    type: string
funcs:
- name: double_a
  read: [t]
  write: [t]
  hasRet: false
  stmts:
  - op: store
    name: t
    child:
      op: extend
      names: [doubled]
      exprs:
      - op: sum
        left: {op: attr, pos: 0, type: int}
        right: {op: attr, pos: 0, type: int}
      child: {op: load, name: t, head: [{name: a, type: int}, {name: b, type: string}]}
`

func TestLoadManifest(t *testing.T) {
	e, err := Load([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h, ok := e.Head("t")
	if !ok {
		t.Fatal("Load should register variable t")
	}
	if h.Find("a") < 0 || h.Find("b") < 0 {
		t.Fatalf("variable t should have attributes a,b: %v", h.Attrs())
	}
	f, ok := e.Func("double_a")
	if !ok {
		t.Fatal("Load should register function double_a")
	}
	if len(f.Read) != 1 || f.Read[0] != "t" {
		t.Fatalf("double_a.Read = %v, want [t]", f.Read)
	}
}

func TestLoadRejectsUnknownType(t *testing.T) {
	bad := `
vars:
  t:
  - name: a
    type: bogus
`
	if _, err := Load([]byte(bad)); err == nil {
		t.Fatal("Load should reject an unknown attribute type")
	}
}

func TestLoadRejectsForwardReferencedCall(t *testing.T) {
	bad := `
vars:
  t:
  - name: a
    type: int
funcs:
- name: caller
  hasRet: false
  stmts:
  - op: call
    callFunc: not_yet_declared
`
	if _, err := Load([]byte(bad)); err == nil {
		t.Fatal("Load should reject a call to a function not yet declared earlier in the manifest")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load([]byte("{not valid yaml: [")); err == nil {
		t.Fatal("Load should reject malformed YAML")
	}
}
