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

// Package httpstore implements store.Store over the HTTP wire protocol of
// the wire protocol, via transport/client.
package httpstore

import (
	"context"
	"fmt"
	"time"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/store"
	"github.com/kraklabs/memodb/transport/client"
)

// Store is a store.Store backed by a single remote memodb server.
type Store struct {
	c      *client.Client
	closed bool
}

// New opens a remote Store at baseURL (e.g. "http://host:8765").
func New(baseURL string, timeout time.Duration) *Store {
	return &Store{c: client.New(baseURL, timeout)}
}

func (s *Store) GetOptional(ctx context.Context, c cid.CID) (node.Node, bool, error) {
	return s.c.GetBlock(ctx, c)
}

func (s *Store) Has(ctx context.Context, c cid.CID) (bool, error) {
	_, ok, err := s.c.GetBlock(ctx, c)
	return ok, err
}

func (s *Store) ResolveOptional(ctx context.Context, n name.Name) (cid.CID, bool, error) {
	if n.Kind() == name.KindCID {
		return n.AsCID(), true, nil
	}
	return s.c.ResolveName(ctx, n)
}

func (s *Store) Put(ctx context.Context, n node.Node) (cid.CID, error) {
	return s.c.PutBlock(ctx, n)
}

func (s *Store) Set(ctx context.Context, n name.Name, c cid.CID) error {
	return s.c.SetName(ctx, n, c)
}

// EachHead always returns an error: this client has no call for the
// server's GET /head list, so heads cannot be enumerated through it.
func (s *Store) EachHead(ctx context.Context, f func(headName string, c cid.CID) bool) error {
	return fmt.Errorf("httpstore: EachHead requires a list-heads wire call, not yet implemented client-side")
}

func (s *Store) EachCall(ctx context.Context, fn string, f func(args []cid.CID, c cid.CID) bool) error {
	return fmt.Errorf("httpstore: EachCall requires a list-calls wire call, not yet implemented client-side")
}

func (s *Store) HeadDelete(ctx context.Context, headName string) error {
	return s.c.HeadDelete(ctx, headName)
}

func (s *Store) CallInvalidate(ctx context.Context, fn string) error {
	return s.c.CallInvalidate(ctx, fn)
}

// ListNamesUsing has no endpoint in the wire protocol: the
// reverse index is a server-local structure, not exposed remotely. Callers
// needing it against a remote store should open it as a local backend
// instead.
func (s *Store) ListNamesUsing(ctx context.Context, c cid.CID) ([]name.Name, error) {
	return nil, fmt.Errorf("httpstore: ListNamesUsing is not supported over the wire protocol")
}

func (s *Store) ListPathsTo(ctx context.Context, c cid.CID) ([]store.PathTo, error) {
	return nil, fmt.Errorf("httpstore: ListPathsTo is not supported over the wire protocol")
}

func (s *Store) Close() error {
	s.closed = true
	return nil
}
