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
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memodb/internal/ui"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node/json"
)

// runGet resolves a name URI and prints the node it names as MemoDB JSON.
func runGet(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	cidOnly := fs.Bool("cid", false, "Print only the resolved CID, not the node body")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		ui.Error("usage: memodb get [--cid] <name-uri>")
		return 1
	}

	n, err := name.Parse(fs.Arg(0))
	if err != nil {
		ui.Error("get: %v", err)
		return 1
	}

	ctx := context.Background()
	st, _, err := openStore(ctx, globals)
	if err != nil {
		ui.Error("get: %v", err)
		return 1
	}

	c, ok, err := st.ResolveOptional(ctx, n)
	if err != nil {
		ui.Error("get: %v", err)
		return 1
	}
	if !ok {
		ui.Error("get: %s is not bound", fs.Arg(0))
		return 1
	}
	if *cidOnly {
		fmt.Println(c.String())
		return 0
	}

	body, ok, err := st.GetOptional(ctx, c)
	if err != nil {
		ui.Error("get: %v", err)
		return 1
	}
	if !ok {
		ui.Error("get: block %s not found", c)
		return 1
	}
	out, err := json.Save(body)
	if err != nil {
		ui.Error("get: %v", err)
		return 1
	}
	fmt.Fprintln(os.Stdout, string(out))
	return 0
}
