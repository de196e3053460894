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
	"io"
	"log"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/tabuladb/tabula/env"
)

// runConvert reads a v4 program manifest on stdin and writes its v5
// equivalent to stdout. The language front end that would otherwise
// parse a source grammar is out of scope here; v4 and v5 share the
// same manifest schema, so convert validates the input against it
// (catching anything env.Load would reject) and re-emits it through
// a canonical marshal, which is the only normalization v4->v5 needs
// once the surrounding grammar is gone.
func runConvert(args []string) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	if fs.Parse(args) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	src, err := io.ReadAll(os.Stdin)
	if err != nil {
		logger.Fatalf("convert: reading stdin: %v", err)
	}
	if _, err := env.Load(src); err != nil {
		logger.Fatalf("convert: invalid v4 program: %v", err)
	}
	var generic interface{}
	if err := yaml.Unmarshal(src, &generic); err != nil {
		logger.Fatalf("convert: %v", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		logger.Fatalf("convert: %v", err)
	}
	if _, err := os.Stdout.Write(out); err != nil {
		logger.Fatalf("convert: writing stdout: %v", err)
	}
}
