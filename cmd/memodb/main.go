// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the memodb CLI: a content-addressed memoization
// store with an HTTP server, a memoizing evaluator, and CAR-archive
// import/export.
//
// Usage:
//
//	memodb init                          Create .memodb/config.yaml
//	memodb serve                         Start the HTTP store + evaluator server
//	memodb get <name>                    Fetch a node by /cid, /head or /call URI
//	memodb put                           Store a node read from stdin
//	memodb head <list|get|set|delete>    Manage heads
//	memodb call <list|invalidate>        Manage cached calls
//	memodb eval <func> <cid...>          Evaluate a call against a server
//	memodb export <path.car[.zst]>       Export the store to a CAR archive
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memodb/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	ConfigPath string // explicit path to .memodb/config.yaml
	StoreURI   string // store URI override (memory, car:..., http://...)
	Quiet      bool
	Verbose    int
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .memodb/config.yaml (default: searched upward from cwd)")
		storeURI    = flag.String("store", "", "Store URI override (memory, car:<path>, http://host:port/)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	// Stop parsing at the first non-flag argument so subcommand flags like
	// "eval --batch" reach the subcommand handler.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `memodb - content-addressed memoization store

Usage:
  memodb <command> [options]

Commands:
  init          Create .memodb/config.yaml configuration
  serve         Start the HTTP store + evaluator server
  get           Fetch a node by name URI (/cid/..., /head/..., /call/...)
  put           Store a node read from stdin, print its CID
  head          Manage heads (list, get, set, delete)
  call          Manage cached calls (list, invalidate)
  eval          Evaluate a call against a running server
  export        Export the store to a CAR archive

Global Options:
  -c, --config      Path to .memodb/config.yaml
      --store       Store URI override (memory, car:<path>, http://host:port/)
      --no-color    Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity
  -q, --quiet       Suppress non-essential output
  -V, --version     Show version and exit

Examples:
  memodb init
  memodb serve
  memodb put < value.json
  memodb get /head/latest
  memodb eval square /cid/uAXEAAQM
  memodb export snapshot.car.zst

For detailed command help: memodb <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("memodb version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		os.Exit(0)
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}

	globals := GlobalFlags{
		ConfigPath: *configPath,
		StoreURI:   *storeURI,
		Quiet:      *quiet,
		Verbose:    *verbose,
	}

	ui.InitColors(*noColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	var code int
	switch command {
	case "init":
		code = runInit(cmdArgs, globals)
	case "serve":
		code = runServe(cmdArgs, globals)
	case "get":
		code = runGet(cmdArgs, globals)
	case "put":
		code = runPut(cmdArgs, globals)
	case "head":
		code = runHead(cmdArgs, globals)
	case "call":
		code = runCall(cmdArgs, globals)
	case "eval":
		code = runEval(cmdArgs, globals)
	case "export":
		code = runExport(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		flag.Usage()
		code = 1
	}
	os.Exit(code)
}
