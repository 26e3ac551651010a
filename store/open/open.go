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

// Package open implements Store::open: a URI-scheme
// dispatcher that maps a store URI, or a loaded internal/config.Config, to
// a concrete store.Store backend. It is the one package allowed to import
// every local backend, so it sits above store/memstore and
// store/httpstore rather than inside either.
package open

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kraklabs/memodb/internal/config"
	"github.com/kraklabs/memodb/store"
	"github.com/kraklabs/memodb/store/carfile"
	"github.com/kraklabs/memodb/store/httpstore"
	"github.com/kraklabs/memodb/store/memstore"
)

// DefaultHTTPTimeout is used by Store when a config or URI does not specify
// one explicitly.
const DefaultHTTPTimeout = 30 * time.Second

// Store opens the backend named by uri:
//
//	sqlite:<path>[?mode=memory]   - embedded key-value backend
//	rocksdb:<path>                - embedded key-value backend
//	car:<path>                    - CAR archive, opened read-only
//	http://host:port/             - remote server
//	https://host:port/            - remote server
//	memory                        - this module's own in-memory backend
//
// sqlite and rocksdb are explicitly out of scope for this implementation
// ; opening one of those
// schemes returns ErrUnsupportedBackend rather than a working Store.
func Store(ctx context.Context, uri string) (store.Store, error) {
	scheme, rest, hasScheme := strings.Cut(uri, ":")
	if !hasScheme || scheme == "" {
		scheme = uri
	}

	switch strings.ToLower(scheme) {
	case "memory", "":
		return memstore.New(), nil
	case "http":
		return httpstore.New(uri, DefaultHTTPTimeout), nil
	case "https":
		return httpstore.New(uri, DefaultHTTPTimeout), nil
	case "car":
		return carfile.Open(rest)
	case "sqlite", "rocksdb":
		return nil, fmt.Errorf("%w: scheme %q (path %q) names an external key-value engine this build does not include", ErrUnsupportedBackend, scheme, rest)
	default:
		return nil, fmt.Errorf("store/open: unrecognized scheme %q in %q", scheme, uri)
	}
}

// ErrUnsupportedBackend is returned by Store for a
// recognized-but-unimplemented backend scheme.
var ErrUnsupportedBackend = fmt.Errorf("store/open: backend not implemented by this module")

// FromConfig opens the local block store named by cfg.Store (as loaded by
// internal/config), the same way a server or evaluator process bootstraps
// from .memodb/config.yaml.
func FromConfig(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return memstore.New(), nil
	case "carfile":
		return carfile.Open(cfg.Store.Path)
	default:
		return nil, fmt.Errorf("store/open: unrecognized config store backend %q", cfg.Store.Backend)
	}
}
