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

package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tabuladb/tabula/processor"
)

// poolSize mirrors §4.10's fixed pool of N=8 executor threads, each
// driving one long-lived processor attached to the coordinator.
const poolSize = 8

// runExec runs the executor role: `exec -p <port> -t <host:port>`.
func runExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	port := fs.String("p", "8080", "port to listen on")
	coordAddr := fs.String("t", "127.0.0.1:7001", "coordinator host:port")
	if fs.Parse(args) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	pool, err := newPool(*coordAddr, "127.0.0.1:"+*port, poolSize, logger)
	if err != nil {
		logger.Fatalf("exec: %v", err)
	}

	srv := &http.Server{
		Addr:         "127.0.0.1:" + *port,
		Handler:      pool,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Second, // KeepAliveMs per §5
	}
	logger.Printf("exec: listening on %s, coordinator %s", srv.Addr, *coordAddr)
	logger.Fatal(srv.ListenAndServe())
}

// pool is a fixed-size, round-robined set of processors. Each slot
// holds its own coordinator connection and processes one request at a
// time; a slot whose processor has gone bad is respawned, mirroring
// the source's respawn-on-death discipline for its forked children
// (a Go goroutine plays the role the source gives a child process).
type pool struct {
	coordAddr, localAddr string
	logger                *log.Logger

	slots []chan *processor.Processor
}

func newPool(coordAddr, localAddr string, n int, logger *log.Logger) (*pool, error) {
	p := &pool{coordAddr: coordAddr, localAddr: localAddr, logger: logger, slots: make([]chan *processor.Processor, n)}
	for i := range p.slots {
		p.slots[i] = make(chan *processor.Processor, 1)
		proc, err := processor.New(coordAddr, localAddr)
		if err != nil {
			return nil, err
		}
		p.slots[i] <- proc
	}
	return p, nil
}

var nextSlot int

func (p *pool) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	i := nextSlot % len(p.slots)
	nextSlot++
	slot := p.slots[i]
	proc := <-slot
	if proc.Broken() {
		p.logger.Printf("exec: respawning processor %d", i)
		proc.Close()
		np, err := processor.New(p.coordAddr, p.localAddr)
		if err != nil {
			p.logger.Printf("exec: respawn failed: %v", err)
			np = proc // keep the old one rather than leaving the slot empty
		}
		proc = np
	}
	proc.ServeHTTP(w, r)
	slot <- proc
}
