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
	"strings"

	"github.com/kraklabs/memodb/internal/config"
	"github.com/kraklabs/memodb/store"
	"github.com/kraklabs/memodb/store/open"
)

// openStore resolves the store every data command operates on: the --store
// URI when given, otherwise the backend named by .memodb/config.yaml. It
// also returns the loaded config, since serve and eval need more of it
// than the store URI.
func openStore(ctx context.Context, globals GlobalFlags) (store.Store, *config.Config, error) {
	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if globals.StoreURI != "" {
		s, err := open.Store(ctx, globals.StoreURI)
		if err != nil {
			return nil, nil, err
		}
		return s, cfg, nil
	}
	s, err := open.FromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

// serverURL picks the HTTP server a client command talks to: the --store
// URI when it is http(s), else the first configured remote, else the
// configured listen address on localhost.
func serverURL(globals GlobalFlags, cfg *config.Config) (string, error) {
	if strings.HasPrefix(globals.StoreURI, "http://") || strings.HasPrefix(globals.StoreURI, "https://") {
		return globals.StoreURI, nil
	}
	if len(cfg.Remotes) > 0 {
		return cfg.Remotes[0].URL, nil
	}
	addr := cfg.Server.Addr
	if addr == "" {
		return "", fmt.Errorf("no server address configured; pass --store http://host:port/")
	}
	if addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/", nil
}
