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

// Command tabula is the single binary that plays any of the system's
// four roles: tx (coordinator), vol (storage volume), exec (HTTP
// front-end / executor), and start (all three, for local use).
package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/cpu"
)

var version = "development"

func main() {
	if !cpu.X86.HasAVX2 {
		fmt.Fprintln(os.Stderr, "CPU doesn't support AVX2")
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	sub := os.Args[1]
	args := os.Args[2:]
	switch sub {
	case "start":
		runStart(args)
	case "tx":
		runTx(args)
	case "vol":
		runVol(args)
	case "exec":
		runExec(args)
	case "convert":
		runConvert(args)
	case "-v", "--version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "invalid sub-command %q\n", sub)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tabula <start|tx|vol|exec|convert> [flags]")
}
