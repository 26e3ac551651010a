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

// Package store defines the Store interface shared by every backend (an
// in-memory map, a read-only CAR archive, and a remote HTTP
// store). Backends must be safe for concurrent use from
// multiple goroutines.
package store

import (
	"context"
	"fmt"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
)

// PathElement is one step of a reverse path: either a list index (Integer)
// or a map key (String).
type PathElement = node.Node

// PathTo is one result of ListPathsTo: a root Name plus the reverse path
// from that root down to the queried CID.
type PathTo struct {
	Root name.Name
	Path []PathElement
}

// Store is the contract every backend implements.
type Store interface {
	// GetOptional fetches the block for c, if present.
	GetOptional(ctx context.Context, c cid.CID) (node.Node, bool, error)
	// Has reports whether c's block is present without fetching it.
	Has(ctx context.Context, c cid.CID) (bool, error)

	// ResolveOptional resolves a Name to a CID. For a Name of KindCID this
	// is the identity.
	ResolveOptional(ctx context.Context, n name.Name) (cid.CID, bool, error)

	// Put stores n's block, returning its CID. Idempotent: storing
	// structurally equal nodes yields the same CID.
	Put(ctx context.Context, n node.Node) (cid.CID, error)

	// Set binds a Head or Call name to a CID. Only valid for those two
	// kinds.
	Set(ctx context.Context, n name.Name, c cid.CID) error

	// EachHead iterates every bound Head until f returns false.
	EachHead(ctx context.Context, f func(headName string, c cid.CID) bool) error
	// EachCall iterates every bound Call of fn until f returns false.
	EachCall(ctx context.Context, fn string, f func(args []cid.CID, c cid.CID) bool) error

	// HeadDelete removes a Head binding. Never affects blocks.
	HeadDelete(ctx context.Context, headName string) error
	// CallInvalidate removes every Call binding for fn.
	CallInvalidate(ctx context.Context, fn string) error

	// ListNamesUsing returns every Name whose resolved block either is c or
	// references c in its encoded payload (the reverse index).
	ListNamesUsing(ctx context.Context, c cid.CID) ([]name.Name, error)

	// ListPathsTo returns, for every root Name reaching c, the reverse path
	// from that root to c.
	ListPathsTo(ctx context.Context, c cid.CID) ([]PathTo, error)
}

// FuncLister is an optional extension: backends that can enumerate which
// funcs have cached calls implement it, enabling the wire protocol's
// GET /call listing and CAR export of the full call table. Backends that
// cannot (e.g. the HTTP client against an older server) simply omit it.
type FuncLister interface {
	ListFuncs(ctx context.Context) ([]string, error)
}

// ErrNotFound is returned by GetOptional/ResolveOptional style calls when
// callers ask for the non-optional strict variant and nothing is bound.
var ErrNotFound = fmt.Errorf("store: not found")

// ErrClosed is returned by any operation on a backend after Close.
var ErrClosed = fmt.Errorf("store: backend is closed")

// ErrReadOnly is returned by Set/HeadDelete/CallInvalidate on a read-only
// backend (e.g. a CAR file opened for reading).
var ErrReadOnly = fmt.Errorf("store: backend is read-only")
