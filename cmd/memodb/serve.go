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
	"context"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memodb/eval/local"
	"github.com/kraklabs/memodb/internal/ui"
	"github.com/kraklabs/memodb/transport/server"
)

// runServe starts the HTTP store + evaluator server on the configured
// address, with the built-in demo functions registered so remote clients
// and workers have something to evaluate out of the box.
func runServe(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "Listen address (overrides config)")
	workers := fs.Int("workers", 0, "Evaluator worker threads (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logLevel := slog.LevelWarn
	switch globals.Verbose {
	case 1:
		logLevel = slog.LevelInfo
	case 2:
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	st, cfg, err := openStore(context.Background(), globals)
	if err != nil {
		ui.Error("serve: %v", err)
		return 1
	}

	if *addr == "" {
		*addr = cfg.Server.Addr
	}
	if *workers == 0 {
		*workers = cfg.Eval.Workers
	}

	ev := local.New(st, *workers, logger)
	defer ev.Close()
	registerBuiltins(ev, st)

	srv := server.New(st, ev, cfg.Server.MaxConnections, logger)

	if !globals.Quiet {
		ui.Success("memodb server listening on %s (%d evaluator workers)", *addr, *workers)
	}
	if err := srv.Run(*addr); err != nil {
		ui.Error("serve: %v", err)
		return 1
	}
	return 0
}
