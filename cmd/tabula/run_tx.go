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
)

// runTx runs the coordinator role: `tx -p <port> -c <src> -s <statefile>`.
func runTx(args []string) {
	fs := flag.NewFlagSet("tx", flag.ExitOnError)
	port := fs.String("p", "7001", "port to listen on")
	srcPath := fs.String("c", "", "program source path")
	statePath := fs.String("s", "tabula.state", "state file path")
	if fs.Parse(args) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	if *srcPath == "" {
		logger.Fatal("tx: -c <src> is required")
	}
	src, err := os.ReadFile(*srcPath)
	if err != nil {
		logger.Fatalf("tx: reading source: %v", err)
	}
	e, err := env.Load(src)
	if err != nil {
		logger.Fatalf("tx: parsing source: %v", err)
	}

	c, err := coordinator.New(src, e.VarNames(), *statePath)
	if err != nil {
		logger.Fatalf("tx: %v", err)
	}
	if err := c.SaveSource(); err != nil {
		logger.Fatalf("tx: saving .source: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:"+*port)
	if err != nil {
		logger.Fatalf("tx: listen: %v", err)
	}
	logger.Printf("tx: coordinator listening on %s", ln.Addr())
	logger.Fatal(c.Serve(ln))
}
