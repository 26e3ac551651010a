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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memodb/internal/ui"
	"github.com/kraklabs/memodb/store/carfile"
)

// runExport writes the store's heads, calls, and every block reachable
// from them to a CAR archive. A .zst suffix compresses the archive.
func runExport(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		ui.Error("usage: memodb export <path.car[.zst]>")
		return 1
	}
	path := fs.Arg(0)

	ctx := context.Background()
	st, _, err := openStore(ctx, globals)
	if err != nil {
		ui.Error("export: %v", err)
		return 1
	}

	root, err := carfile.ExportFile(ctx, path, st)
	if err != nil {
		ui.Error("export: %v", err)
		return 1
	}
	if !globals.Quiet {
		ui.Success("exported to %s", path)
	}
	fmt.Println(root.String())
	return 0
}
