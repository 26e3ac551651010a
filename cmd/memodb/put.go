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
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memodb/internal/ui"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/node/json"
)

// runPut reads a node from stdin (MemoDB JSON by default, raw bytes with
// --raw), stores it, and prints the resulting CID.
func runPut(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	raw := fs.Bool("raw", false, "Treat stdin as a raw byte blob instead of MemoDB JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		ui.Error("put: reading stdin: %v", err)
		return 1
	}

	var n node.Node
	if *raw {
		n = node.Bytes(data)
	} else {
		n, err = json.Load(data)
		if err != nil {
			ui.Error("put: %v", err)
			return 1
		}
	}

	ctx := context.Background()
	st, _, err := openStore(ctx, globals)
	if err != nil {
		ui.Error("put: %v", err)
		return 1
	}
	c, err := st.Put(ctx, n)
	if err != nil {
		ui.Error("put: %v", err)
		return 1
	}
	fmt.Println(c.String())
	return 0
}
