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
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memodb/internal/config"
	"github.com/kraklabs/memodb/internal/ui"
)

// runInit creates .memodb/config.yaml in the current directory.
func runInit(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "Overwrite an existing config")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := globals.ConfigPath
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			ui.Error("init: %v", err)
			return 1
		}
		path = config.Path(cwd)
	}

	if _, err := os.Stat(path); err == nil && !*force {
		ui.Warn("%s already exists (use --force to overwrite)", path)
		return 1
	}

	if err := config.Save(config.Default(), path); err != nil {
		ui.Error("init: %v", err)
		return 1
	}
	if !globals.Quiet {
		ui.Success("Created %s", path)
		fmt.Fprintf(os.Stderr, "Next: start a server with 'memodb serve'\n")
	}
	return 0
}
