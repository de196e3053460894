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

// End-to-end scenario tests that wire a coordinator, a volume, and an
// executor pool together over loopback TCP, exactly as runStart does,
// and drive them through net/http/httptest instead of a real listener.
package main

import (
	"io"
	"log"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tabuladb/tabula/coordinator"
	"github.com/tabuladb/tabula/env"
	"github.com/tabuladb/tabula/volume"
)

const testManifest = `
vars:
  t:
  - name: a
    type: int
funcs:
- name: add_rows
  write: [t]
  hasRet: false
  relArg:
    name: r
    head:
    - name: a
      type: int
  stmts:
  - op: store
    name: t
    child:
      op: union
      left: {op: load, name: t, head: [{name: a, type: int}]}
      right: {op: load, name: r, head: [{name: a, type: int}]}
- name: all_rows
  read: [t]
  hasRet: true
  stmts:
  - op: load
    name: t
    head: [{name: a, type: int}]
- name: bad_read
  read: [bogus]
  hasRet: true
  stmts:
  - op: load
    name: bogus
    head: [{name: a, type: int}]
`

type harness struct {
	pool  *pool
	coord *coordinator.Coordinator
	stop  chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	e, err := env.Load([]byte(testManifest))
	if err != nil {
		t.Fatalf("env.Load: %v", err)
	}

	coordLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	coordAddr := coordLn.Addr().String()
	c, err := coordinator.New([]byte(testManifest), e.VarNames(), filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	go c.Serve(coordLn)
	t.Cleanup(func() { coordLn.Close() })

	volLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	volAddr := volLn.Addr().String()
	volID, err := volume.IDFromDir(filepath.Join(dir, "vol"))
	if err != nil {
		t.Fatalf("IDFromDir: %v", err)
	}
	v, err := volume.Open(volID, volAddr, filepath.Join(dir, "vol"), coordAddr)
	if err != nil {
		t.Fatalf("volume.Open: %v", err)
	}
	if err := v.CheckCompat([]byte(testManifest)); err != nil {
		t.Fatalf("CheckCompat: %v", err)
	}
	if err := v.Bootstrap(e.VarNames()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := v.SyncOnce(); err != nil {
		t.Fatalf("initial SyncOnce: %v", err)
	}
	stop := make(chan struct{})
	go v.SyncLoop(stop)
	go v.Serve(volLn)
	t.Cleanup(func() { volLn.Close(); close(stop) })

	time.Sleep(50 * time.Millisecond)

	logger := log.New(io.Discard, "", 0)
	p, err := newPool(coordAddr, "127.0.0.1:0", 2, logger)
	if err != nil {
		t.Fatalf("newPool: %v", err)
	}
	return &harness{pool: p, coord: c, stop: stop}
}

func TestScenarioWriteThenRead(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.pool)
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/add_rows", "text/plain", strings.NewReader("a int\n5\n"))
	if err != nil {
		t.Fatalf("POST add_rows: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("add_rows status = %d, want 200", resp.StatusCode)
	}

	resp, err = srv.Client().Post(srv.URL+"/add_rows", "text/plain", strings.NewReader("a int\n9\n"))
	if err != nil {
		t.Fatalf("POST add_rows: %v", err)
	}
	resp.Body.Close()

	resp, err = srv.Client().Get(srv.URL + "/all_rows")
	if err != nil {
		t.Fatalf("GET all_rows: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "5") || !strings.Contains(text, "9") {
		t.Fatalf("all_rows should report both written rows, got %q", text)
	}
}

func TestScenarioEmptyQueryOnFreshVariable(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.pool)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/all_rows")
	if err != nil {
		t.Fatalf("GET all_rows: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("all_rows status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 1 {
		t.Fatalf("a query against an empty relation should produce just the header row, got %q", body)
	}
}

func TestScenarioFnEnumeration(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.pool)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/fn")
	if err != nil {
		t.Fatalf("GET /fn: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), "add_rows,r,a,int") {
		t.Fatalf("/fn should enumerate add_rows's relational parameter, got %q", body)
	}
}

func TestScenarioRejectedTxEnterIsBadRequestNotBroken(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.pool)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/bad_read")
	if err != nil {
		t.Fatalf("GET bad_read: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("a tx_enter rejection should surface as 400, got %d", resp.StatusCode)
	}

	// the processor that served the rejected request must not have been
	// torn down as broken: a subsequent legitimate request on the same
	// pool should still succeed.
	resp, err = srv.Client().Get(srv.URL + "/all_rows")
	if err != nil {
		t.Fatalf("GET all_rows: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("all_rows status = %d, want 200 (pool should not be exhausted by a rejected tx_enter)", resp.StatusCode)
	}
}

func TestScenarioUnknownFunctionIs404(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.pool)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/does_not_exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Fatalf("unknown function should 404, got %d", resp.StatusCode)
	}
}
