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

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/internal/ui"
	"github.com/kraklabs/memodb/name"
)

// runHead manages mutable head bindings: list, get, set, delete.
func runHead(args []string, globals GlobalFlags) int {
	if len(args) == 0 {
		ui.Error("usage: memodb head <list|get|set|delete> [args]")
		return 1
	}
	ctx := context.Background()
	st, _, err := openStore(ctx, globals)
	if err != nil {
		ui.Error("head: %v", err)
		return 1
	}

	sub, subArgs := args[0], args[1:]
	switch sub {
	case "list":
		err = st.EachHead(ctx, func(headName string, c cid.CID) bool {
			fmt.Printf("/head/%s\t%s\n", headName, c)
			return true
		})
		if err != nil {
			ui.Error("head list: %v", err)
			return 1
		}
		return 0

	case "get":
		if len(subArgs) != 1 {
			ui.Error("usage: memodb head get <name>")
			return 1
		}
		n, err := name.FromHead(subArgs[0])
		if err != nil {
			ui.Error("head get: %v", err)
			return 1
		}
		c, ok, err := st.ResolveOptional(ctx, n)
		if err != nil {
			ui.Error("head get: %v", err)
			return 1
		}
		if !ok {
			ui.Error("head get: %q is not bound", subArgs[0])
			return 1
		}
		fmt.Println(c.String())
		return 0

	case "set":
		if len(subArgs) != 2 {
			ui.Error("usage: memodb head set <name> <cid>")
			return 1
		}
		n, err := name.FromHead(subArgs[0])
		if err != nil {
			ui.Error("head set: %v", err)
			return 1
		}
		c, err := cid.Parse(subArgs[1])
		if err != nil {
			ui.Error("head set: %v", err)
			return 1
		}
		if err := st.Set(ctx, n, c); err != nil {
			ui.Error("head set: %v", err)
			return 1
		}
		if !globals.Quiet {
			ui.Success("/head/%s -> %s", subArgs[0], c)
		}
		return 0

	case "delete":
		if len(subArgs) != 1 {
			ui.Error("usage: memodb head delete <name>")
			return 1
		}
		if err := st.HeadDelete(ctx, subArgs[0]); err != nil {
			ui.Error("head delete: %v", err)
			return 1
		}
		return 0

	default:
		ui.Error("head: unknown subcommand %q", sub)
		return 1
	}
}
