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
	"net"
	"os"

	"github.com/tabuladb/tabula/coordinator"
	"github.com/tabuladb/tabula/env"
	"github.com/tabuladb/tabula/volume"
)

// runVol runs the volume role: `vol -p <port> -d <dir> -t <host:port>`.
func runVol(args []string) {
	fs := flag.NewFlagSet("vol", flag.ExitOnError)
	port := fs.String("p", "7002", "port to listen on")
	dir := fs.String("d", "./volume-data", "storage directory")
	coordAddr := fs.String("t", "127.0.0.1:7001", "coordinator host:port")
	if fs.Parse(args) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	ln, err := net.Listen("tcp", "127.0.0.1:"+*port)
	if err != nil {
		logger.Fatalf("vol: listen: %v", err)
	}
	addr := ln.Addr().String()
	id, err := volume.IDFromDir(*dir)
	if err != nil {
		logger.Fatalf("vol: %v", err)
	}

	v, err := volume.Open(id, addr, *dir, *coordAddr)
	if err != nil {
		logger.Fatalf("vol: %v", err)
	}

	client, err := coordinator.Dial(*coordAddr, addr)
	if err != nil {
		logger.Fatalf("vol: dialing coordinator: %v", err)
	}
	coordSrc, err := client.FetchSource()
	client.Close()
	if err != nil {
		logger.Fatalf("vol: fetching program: %v", err)
	}
	if err := v.CheckCompat(coordSrc); err != nil {
		logger.Fatalf("vol: %v", err)
	}

	e, err := env.Load(coordSrc)
	if err != nil {
		logger.Fatalf("vol: parsing program: %v", err)
	}
	if err := v.Bootstrap(e.VarNames()); err != nil {
		logger.Fatalf("vol: %v", err)
	}
	if err := v.SyncOnce(); err != nil {
		logger.Fatalf("vol: initial sync: %v", err)
	}

	stop := make(chan struct{})
	go v.SyncLoop(stop)

	logger.Printf("vol: %s listening on %s, coordinator %s", v.ID, addr, *coordAddr)
	logger.Fatal(v.Serve(ln))
}
