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

// Package processor implements the per-request dispatch described by
// §4.10: attach to the coordinator, parse one HTTP request, resolve
// and fetch its read set, run its function, commit its write set, and
// stream the result back as CSV.
//
// A Processor handles requests strictly sequentially — matching the
// single child process the source forks per concurrent request — so
// the relational evaluator it drives is never required to be
// reentrant.
package processor

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tabuladb/tabula/coordinator"
	"github.com/tabuladb/tabula/csvpack"
	"github.com/tabuladb/tabula/env"
	"github.com/tabuladb/tabula/head"
	"github.com/tabuladb/tabula/rel"
	"github.com/tabuladb/tabula/tuple"
	"github.com/tabuladb/tabula/value"
	"github.com/tabuladb/tabula/volume"
)

// Processor is one request handler: the program it runs against and
// the coordinator session it holds open for the lifetime of the
// connection it is attached to.
type Processor struct {
	Env   *env.Env
	Coord *coordinator.Client

	mu     sync.Mutex
	broken bool
}

// Broken reports whether this processor's coordinator connection has
// failed; the executor pool respawns a fresh Processor in its place,
// mirroring the source's respawn-the-child-process discipline.
func (p *Processor) Broken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.broken
}

// New attaches to the coordinator at coordAddr (identifying itself as
// listening on localAddr, for "closest volume" resolution) and fetches
// the authoritative program.
func New(coordAddr, localAddr string) (*Processor, error) {
	c, err := coordinator.Dial(coordAddr, localAddr)
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	src, err := c.FetchSource()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("processor: fetching program: %w", err)
	}
	e, err := env.Load(src)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("processor: loading program: %w", err)
	}
	return &Processor{Env: e, Coord: c}, nil
}

func (p *Processor) Close() error { return p.Coord.Close() }

// ServeHTTP implements the full request lifecycle of §4.10 step 1-14.
// Requests are serialized: this processor is the stand-in for one of
// the source's forked child processes, which only ever handles one
// request at a time.
func (p *Processor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		p.logLine(0, r, start, http.StatusOK)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "fn" || strings.HasPrefix(path, "fn/") {
		p.listFunctions(w, path)
		p.logLine(0, r, start, http.StatusOK)
		return
	}

	status, sid := p.dispatch(w, r, path)
	p.logLine(sid, r, start, status)
}

func (p *Processor) logLine(sid uint64, r *http.Request, start time.Time, status int) {
	log.Printf("sid=%d method=%s path=%s elapsed=%s status=%d",
		sid, r.Method, r.URL.Path, time.Since(start), status)
}

// listFunctions streams the CSV of (fname, pname, pattr, ptype) rows
// for every function whose name starts with prefix: one row per
// primitive parameter (pattr==pname), and one row per attribute of a
// relational parameter's head.
func (p *Processor) listFunctions(w http.ResponseWriter, path string) {
	prefix := strings.TrimPrefix(strings.TrimPrefix(path, "fn"), "/")
	fns := p.Env.Funcs(prefix)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "fname,pname,pattr,ptype\n")
	for _, f := range fns {
		for _, pa := range f.PrimArgs {
			fmt.Fprintf(w, "%s,%s,%s,%s\n", f.Name, pa.Name, pa.Name, pa.Type)
		}
		if f.RelArg != nil {
			for _, a := range f.RelArg.Head.Attrs() {
				fmt.Fprintf(w, "%s,%s,%s,%s\n", f.Name, f.RelArg.Name, a.Name, a.Type)
			}
		}
	}
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}

// dispatch is steps 5-14 of §4.10's processor loop. It returns the
// HTTP status it wrote and the transaction's sid (0 if tx_enter was
// never reached).
func (p *Processor) dispatch(w http.ResponseWriter, r *http.Request, path string) (status int, sid uint64) {
	f, ok := p.Env.Func(path)
	if !ok {
		http.Error(w, "unknown function", http.StatusNotFound)
		return http.StatusNotFound, 0
	}

	needsPost := f.RelArg != nil
	if needsPost && r.Method != http.MethodPost {
		http.Error(w, "function requires POST", http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed, 0
	}
	if !needsPost && r.Method != http.MethodGet {
		http.Error(w, "function requires GET", http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed, 0
	}

	primVals, err := parsePrimArgs(f.PrimArgs, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return http.StatusNotFound, 0
	}

	var relArg *rel.Relation
	if needsPost {
		relArg, err = decodeRelArg(f, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return http.StatusNotFound, 0
		}
	}

	readSet, writeSet := f.Read, f.Write
	txSid, reads, writes, err := p.Coord.Enter(readSet, writeSet)
	if err != nil {
		if errors.Is(err, coordinator.ErrRejected) {
			// the coordinator session is still healthy; it just refused
			// this particular transaction (e.g. an unknown variable).
			http.Error(w, "transaction rejected", http.StatusBadRequest)
			return http.StatusBadRequest, 0
		}
		p.broken = true // p.mu is already held by ServeHTTP
		http.Error(w, "coordinator unreachable", http.StatusInternalServerError)
		return http.StatusInternalServerError, 0
	}
	sid = txSid

	vars := rel.NewVars()
	for _, name := range readSet {
		rr := reads[name]
		data, err := volume.ReadRemote(rr.Addr, name, rr.Version)
		if err != nil {
			p.Coord.Finish(sid, false)
			http.Error(w, "volume read failed", http.StatusInternalServerError)
			return http.StatusInternalServerError, sid
		}
		buf := tuple.NewBuf()
		if _, err := buf.ReadFrom(bytes.NewReader(data)); err != nil {
			p.Coord.Finish(sid, false)
			http.Error(w, "corrupt volume data", http.StatusInternalServerError)
			return http.StatusInternalServerError, sid
		}
		h, _ := p.Env.Head(name)
		vars.Set(name, &rel.Relation{Head: h, Body: buf})
	}
	for _, name := range writeSet {
		if _, ok := vars.Get(name); !ok {
			h, _ := p.Env.Head(name)
			vars.Set(name, &rel.Relation{Head: h, Body: tuple.NewBuf()})
		}
	}

	result, err := rel.Invoke(vars, f, primVals, relArg)
	if err != nil {
		p.Coord.Finish(sid, false)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return http.StatusInternalServerError, sid
	}

	for _, name := range writeSet {
		r, ok := vars.Get(name)
		if !ok {
			continue
		}
		var buf bytes.Buffer
		if _, err := r.Body.WriteTo(&buf); err != nil {
			p.Coord.Finish(sid, false)
			http.Error(w, "encoding write failed", http.StatusInternalServerError)
			return http.StatusInternalServerError, sid
		}
		wr := writes[name]
		if err := volume.WriteRemote(wr.Addr, name, sid, buf.Bytes()); err != nil {
			p.Coord.Finish(sid, false)
			http.Error(w, "volume write failed", http.StatusInternalServerError)
			return http.StatusInternalServerError, sid
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)
	var body []tuple.Tuple
	var outHead head.Head
	if result.Body != nil {
		body = result.Body.All()
		outHead = result.Head
	}
	if err := csvpack.Encode(w, outHead, body); err != nil {
		p.Coord.Finish(sid, false)
		return http.StatusInternalServerError, sid
	}
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
	if err := p.Coord.Finish(sid, true); err != nil {
		return http.StatusInternalServerError, sid
	}
	return http.StatusOK, sid
}

// parsePrimArgs validates the query string against a function's
// declared primitive parameters: every name present exactly once,
// every declared name present, each value parsed into its declared
// scalar type, in declaration order.
func parsePrimArgs(params []rel.PrimParam, r *http.Request) ([]value.Value, error) {
	q := r.URL.Query()
	want := make(map[string]value.Type, len(params))
	for _, p := range params {
		want[p.Name] = p.Type
	}
	for name, vs := range q {
		if _, ok := want[name]; !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		if len(vs) != 1 {
			return nil, fmt.Errorf("duplicate parameter %q", name)
		}
	}
	out := make([]value.Value, len(params))
	for i, p := range params {
		vs, ok := q[p.Name]
		if !ok {
			return nil, fmt.Errorf("missing parameter %q", p.Name)
		}
		v, err := value.Parse(p.Type, vs[0])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// decodeRelArg decodes the POST body as CSV and projects it through
// the function's relational parameter head.
func decodeRelArg(f *rel.Func, r *http.Request) (*rel.Relation, error) {
	bodyHead, rows, err := csvpack.Decode(r.Body)
	if err != nil {
		return nil, fmt.Errorf("malformed body: %w", err)
	}
	proj, pos, err := head.Project(bodyHead, f.RelArg.Head.Names())
	if err != nil {
		return nil, fmt.Errorf("malformed body: %w", err)
	}
	if !head.Eq(proj, f.RelArg.Head) {
		return nil, fmt.Errorf("malformed body: does not match parameter head")
	}
	buf := tuple.NewBuf()
	for _, t := range rows {
		buf.Add(t.Reord(pos))
	}
	return &rel.Relation{Head: f.RelArg.Head, Body: buf}, nil
}
