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
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tabuladb/tabula/coordinator"
	"github.com/tabuladb/tabula/env"
	"github.com/tabuladb/tabula/volume"
)

// runStart runs all three roles in one process, wired together over
// loopback TCP: `start -p <port> -d <dir> -c <src> -s <statefile>`.
// This is the all-in-one mode for local development and the six
// end-to-end scenarios driven against a single binary.
func runStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	port := fs.String("p", "8080", "HTTP port to listen on")
	dir := fs.String("d", "./volume-data", "storage directory")
	srcPath := fs.String("c", "", "program source path")
	statePath := fs.String("s", "tabula.state", "state file path")
	if fs.Parse(args) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	if *srcPath == "" {
		logger.Fatal("start: -c <src> is required")
	}
	src, err := os.ReadFile(*srcPath)
	if err != nil {
		logger.Fatalf("start: reading source: %v", err)
	}
	e, err := env.Load(src)
	if err != nil {
		logger.Fatalf("start: parsing source: %v", err)
	}

	coordLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Fatalf("start: listen: %v", err)
	}
	coordAddr := coordLn.Addr().String()

	c, err := coordinator.New(src, e.VarNames(), *statePath)
	if err != nil {
		logger.Fatalf("start: %v", err)
	}
	if err := c.SaveSource(); err != nil {
		logger.Fatalf("start: saving .source: %v", err)
	}
	go func() {
		logger.Fatal(c.Serve(coordLn))
	}()

	volLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Fatalf("start: listen: %v", err)
	}
	volAddr := volLn.Addr().String()
	volID, err := volume.IDFromDir(*dir)
	if err != nil {
		logger.Fatalf("start: %v", err)
	}
	v, err := volume.Open(volID, volAddr, *dir, coordAddr)
	if err != nil {
		logger.Fatalf("start: %v", err)
	}
	if err := v.CheckCompat(src); err != nil {
		logger.Fatalf("start: %v", err)
	}
	if err := v.Bootstrap(e.VarNames()); err != nil {
		logger.Fatalf("start: %v", err)
	}
	if err := v.SyncOnce(); err != nil {
		logger.Fatalf("start: initial sync: %v", err)
	}
	stop := make(chan struct{})
	go v.SyncLoop(stop)
	go func() {
		logger.Fatal(v.Serve(volLn))
	}()

	// give the coordinator and volume listeners a moment to settle
	// before the first executor attaches.
	time.Sleep(50 * time.Millisecond)

	pool, err := newPool(coordAddr, fmt.Sprintf("127.0.0.1:%s", *port), poolSize, logger)
	if err != nil {
		logger.Fatalf("start: %v", err)
	}
	srv := &http.Server{
		Addr:        "127.0.0.1:" + *port,
		Handler:     pool,
		IdleTimeout: 5 * time.Second,
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
		os.Exit(0)
	}()

	logger.Printf("start: http=%s coordinator=%s volume=%s", srv.Addr, coordAddr, volAddr)
	logger.Fatal(srv.ListenAndServe())
}
