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

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/eval/remote"
	"github.com/kraklabs/memodb/internal/ui"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/store/httpstore"
)

// runEval evaluates one call — or, with --batch, a file of calls — against
// a running memodb server. The client registers the built-in funcs so it
// can cooperatively execute pulled jobs while waiting on the server
// (work-while-waiting keeps a single-client deployment from deadlocking).
func runEval(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	batch := fs.String("batch", "", "File of calls to evaluate, one '<func> <cid>...' per line")
	timeout := fs.Duration("timeout", 10*time.Minute, "Per-call timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	_, cfg, err := openStore(ctx, globals)
	if err != nil {
		ui.Error("eval: %v", err)
		return 1
	}
	baseURL, err := serverURL(globals, cfg)
	if err != nil {
		ui.Error("eval: %v", err)
		return 1
	}

	logLevel := slog.LevelWarn
	if globals.Verbose > 0 {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ev := remote.New(baseURL, *timeout, logger)
	defer ev.Close()
	remoteStore := httpstore.New(baseURL, *timeout)
	defer remoteStore.Close()
	registerBuiltins(ev, remoteStore)

	evalOne := func(fn string, argStrs []string) (cid.CID, error) {
		cids := make([]cid.CID, len(argStrs))
		for i, a := range argStrs {
			c, err := parseArgCID(a)
			if err != nil {
				return cid.CID{}, err
			}
			cids[i] = c
		}
		call, err := name.FromCall(fn, cids)
		if err != nil {
			return cid.CID{}, err
		}
		callCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		return ev.Evaluate(callCtx, call)
	}

	if *batch == "" {
		if fs.NArg() < 2 {
			ui.Error("usage: memodb eval <func> <cid>... (or --batch <file>)")
			return 1
		}
		result, err := evalOne(fs.Arg(0), fs.Args()[1:])
		if err != nil {
			ui.Error("eval: %v", err)
			return 1
		}
		fmt.Println(result.String())
		return 0
	}

	f, err := os.Open(*batch)
	if err != nil {
		ui.Error("eval: %v", err)
		return 1
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		ui.Error("eval: reading %s: %v", *batch, err)
		return 1
	}

	bar := ui.NewProgressBar(int64(len(lines)), "evaluating", globals.Quiet)
	failures := 0
	for _, line := range lines {
		fields := strings.Fields(line)
		result, err := evalOne(fields[0], fields[1:])
		if err != nil {
			failures++
			ui.Warn("eval: %s: %v", line, err)
		} else {
			fmt.Printf("%s\t%s\n", line, result)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	if failures > 0 {
		ui.Error("eval: %d of %d calls failed", failures, len(lines))
		return 1
	}
	if !globals.Quiet {
		ui.Success("evaluated %d calls", len(lines))
	}
	return 0
}

// parseArgCID accepts either a bare multibase CID or a /cid/<...> URI.
func parseArgCID(s string) (cid.CID, error) {
	if strings.HasPrefix(s, "/cid/") {
		n, err := name.Parse(s)
		if err != nil {
			return cid.CID{}, err
		}
		return n.AsCID(), nil
	}
	return cid.Parse(s)
}
