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
	"github.com/kraklabs/memodb/store"
)

// runCall manages cached call bindings: list, invalidate.
func runCall(args []string, globals GlobalFlags) int {
	if len(args) == 0 {
		ui.Error("usage: memodb call <list|invalidate> [func]")
		return 1
	}
	ctx := context.Background()
	st, _, err := openStore(ctx, globals)
	if err != nil {
		ui.Error("call: %v", err)
		return 1
	}

	sub, subArgs := args[0], args[1:]
	switch sub {
	case "list":
		var funcs []string
		if len(subArgs) == 1 {
			funcs = subArgs
		} else {
			fl, ok := st.(store.FuncLister)
			if !ok {
				ui.Error("call list: this backend cannot enumerate funcs; name one explicitly")
				return 1
			}
			funcs, err = fl.ListFuncs(ctx)
			if err != nil {
				ui.Error("call list: %v", err)
				return 1
			}
		}
		for _, fn := range funcs {
			err := st.EachCall(ctx, fn, func(cids []cid.CID, result cid.CID) bool {
				n, err := name.FromCall(fn, cids)
				if err != nil {
					return true
				}
				uri, err := name.Format(n)
				if err != nil {
					return true
				}
				fmt.Printf("%s\t%s\n", uri, result)
				return true
			})
			if err != nil {
				ui.Error("call list: %v", err)
				return 1
			}
		}
		return 0

	case "invalidate":
		if len(subArgs) != 1 {
			ui.Error("usage: memodb call invalidate <func>")
			return 1
		}
		if err := st.CallInvalidate(ctx, subArgs[0]); err != nil {
			ui.Error("call invalidate: %v", err)
			return 1
		}
		if !globals.Quiet {
			ui.Success("invalidated all cached calls of %q", subArgs[0])
		}
		return 0

	default:
		ui.Error("call: unknown subcommand %q", sub)
		return 1
	}
}
