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

// Package evalfatal terminates the process when an evaluation requests a
// semantic that cannot be fulfilled: a call whose function has no
// registered implementation and no cached result. Registered functions
// are assumed pure and errorless, so reaching this state is programmer
// error, not a recoverable condition.
package evalfatal

import (
	"fmt"
	"os"
)

var exit = os.Exit

// Fatalf prints a diagnostic to stderr and terminates the process with a
// non-zero status.
func Fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "memodb: fatal: "+format+"\n", args...)
	exit(1)
}

// SetExitForTesting replaces the process-exit hook so tests can observe
// the fatal path without dying, returning a func that restores it.
func SetExitForTesting(f func(code int)) (restore func()) {
	old := exit
	exit = f
	return func() { exit = old }
}
