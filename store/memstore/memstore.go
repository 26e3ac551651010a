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

// Package memstore is the in-memory Store backend: a block table keyed by
// CID, a name table keyed by Head/Call, and a reverse index used to answer
// ListNamesUsing without scanning every block.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/ipld"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/store"
)

// callKey identifies a single Call binding: function name plus its argument
// CIDs, joined into one string so it can key a Go map.
type callKey struct {
	fn   string
	args string // joined, base32-encoded CIDs
}

// Store is an in-memory Store implementation. It is the reference backend:
// ListNamesUsing and ListPathsTo here are the ones the other backends are
// checked against.
type Store struct {
	mu     sync.RWMutex
	closed bool

	blocks map[string]node.Node // CID string -> node
	bytes  map[string][]byte    // CID string -> packaged bytes (empty for identity hash)

	heads map[string]cid.CID
	calls map[callKey]cid.CID

	// reverse maps a referenced CID's bucket (xxhash of its string form) to
	// the set of (target CID, referencing Name) pairs sharing that bucket,
	// for ListNamesUsing. The hash only shards the map; membership is still
	// decided by comparing the full CID, so hash collisions never produce
	// false positives.
	reverse map[uint64][]reverseEntry
}

type reverseEntry struct {
	target cid.CID
	n      name.Name
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		blocks:  make(map[string]node.Node),
		bytes:   make(map[string][]byte),
		heads:   make(map[string]cid.CID),
		calls:   make(map[callKey]cid.CID),
		reverse: make(map[uint64][]reverseEntry),
	}
}

func bucketOf(c cid.CID) uint64 {
	return xxhash.Sum64String(c.String())
}

func (s *Store) GetOptional(_ context.Context, c cid.CID) (node.Node, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return node.Node{}, false, store.ErrClosed
	}
	n, ok := s.blocks[c.String()]
	return n, ok, nil
}

func (s *Store) Has(ctx context.Context, c cid.CID) (bool, error) {
	_, ok, err := s.GetOptional(ctx, c)
	return ok, err
}

func (s *Store) ResolveOptional(_ context.Context, n name.Name) (cid.CID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return cid.CID{}, false, store.ErrClosed
	}
	switch n.Kind() {
	case name.KindCID:
		return n.AsCID(), true, nil
	case name.KindHead:
		c, ok := s.heads[n.HeadName()]
		return c, ok, nil
	case name.KindCall:
		c, ok := s.calls[callKeyOf(n)]
		return c, ok, nil
	default:
		return cid.CID{}, false, fmt.Errorf("memstore: unknown name kind")
	}
}

func callKeyOf(n name.Name) callKey {
	args := n.CallArgs()
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return callKey{fn: n.CallFunc(), args: strings.Join(parts, ",")}
}

// Put stores n's block and returns its CID. Storing a structurally equal
// node twice returns the same CID and is a no-op on the second call.
func (s *Store) Put(_ context.Context, n node.Node) (cid.CID, error) {
	packaged, err := ipld.SaveAsIPLD(n, true)
	if err != nil {
		return cid.CID{}, fmt.Errorf("memstore: put: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cid.CID{}, store.ErrClosed
	}
	key := packaged.CID.String()
	if _, exists := s.blocks[key]; !exists {
		s.blocks[key] = n
		s.bytes[key] = packaged.Bytes
		s.indexReferencesLocked(packaged.CID, n)
	}
	return packaged.CID, nil
}

// indexReferencesLocked records, for every Link found inside n (at any
// depth), that the CID owning n references it — the reverse index
// ListNamesUsing queries. Caller must hold s.mu.
func (s *Store) indexReferencesLocked(owner cid.CID, n node.Node) {
	ownerName := name.FromCID(owner)
	walkLinks(n, func(target cid.CID) {
		s.addReverseLocked(target, ownerName)
	})
}

func (s *Store) addReverseLocked(target cid.CID, n name.Name) {
	b := bucketOf(target)
	for _, existing := range s.reverse[b] {
		if existing.target.Equal(target) && name.Equal(existing.n, n) {
			return
		}
	}
	s.reverse[b] = append(s.reverse[b], reverseEntry{target: target, n: n})
}

// removeReverseLocked drops the (target, n) reverse-index entry, if
// present. Called when a Head/Call binding is re-pointed or deleted, so
// ListNamesUsing never reports a name that no longer resolves to target.
// Caller must hold s.mu.
func (s *Store) removeReverseLocked(target cid.CID, n name.Name) {
	b := bucketOf(target)
	entries := s.reverse[b]
	for i, existing := range entries {
		if existing.target.Equal(target) && name.Equal(existing.n, n) {
			s.reverse[b] = append(entries[:i], entries[i+1:]...)
			if len(s.reverse[b]) == 0 {
				delete(s.reverse, b)
			}
			return
		}
	}
}

func walkLinks(n node.Node, f func(cid.CID)) {
	switch n.Kind() {
	case node.KindLink:
		f(n.AsLink())
	case node.KindList:
		for _, item := range n.AsList() {
			walkLinks(item, f)
		}
	case node.KindMap:
		for _, e := range n.AsMap() {
			walkLinks(e.Value, f)
		}
	}
}

// Set binds a Head or Call name to a CID.
func (s *Store) Set(_ context.Context, n name.Name, c cid.CID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	switch n.Kind() {
	case name.KindHead:
		if old, ok := s.heads[n.HeadName()]; ok && !old.Equal(c) {
			s.removeReverseLocked(old, n)
		}
		s.heads[n.HeadName()] = c
	case name.KindCall:
		if old, ok := s.calls[callKeyOf(n)]; ok && !old.Equal(c) {
			s.removeReverseLocked(old, n)
		}
		s.calls[callKeyOf(n)] = c
	default:
		return fmt.Errorf("memstore: Set only supports Head and Call names")
	}
	s.addReverseLocked(c, n)
	return nil
}

func (s *Store) EachHead(_ context.Context, f func(headName string, c cid.CID) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	names := make([]string, 0, len(s.heads))
	for hn := range s.heads {
		names = append(names, hn)
	}
	sort.Strings(names)
	for _, hn := range names {
		if !f(hn, s.heads[hn]) {
			return nil
		}
	}
	return nil
}

func (s *Store) EachCall(_ context.Context, fn string, f func(args []cid.CID, c cid.CID) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	type row struct {
		key callKey
		c   cid.CID
	}
	var rows []row
	for k, c := range s.calls {
		if k.fn == fn {
			rows = append(rows, row{k, c})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key.args < rows[j].key.args })
	for _, r := range rows {
		args, err := parseCallArgs(r.key.args)
		if err != nil {
			return err
		}
		if !f(args, r.c) {
			return nil
		}
	}
	return nil
}

func parseCallArgs(joined string) ([]cid.CID, error) {
	if joined == "" {
		return nil, nil
	}
	parts := strings.Split(joined, ",")
	out := make([]cid.CID, len(parts))
	for i, p := range parts {
		c, err := cid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("memstore: parsing call args: %w", err)
		}
		out[i] = c
	}
	return out, nil
}

// ListFuncs returns every func with at least one cached call, sorted,
// implementing the optional store.FuncLister extension.
func (s *Store) ListFuncs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	seen := map[string]bool{}
	var out []string
	for k := range s.calls {
		if !seen[k.fn] {
			seen[k.fn] = true
			out = append(out, k.fn)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) HeadDelete(_ context.Context, headName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if old, ok := s.heads[headName]; ok {
		if n, err := name.FromHead(headName); err == nil {
			s.removeReverseLocked(old, n)
		}
	}
	delete(s.heads, headName)
	return nil
}

func (s *Store) CallInvalidate(_ context.Context, fn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	for k, c := range s.calls {
		if k.fn == fn {
			if args, err := parseCallArgs(k.args); err == nil {
				if n, err := name.FromCall(k.fn, args); err == nil {
					s.removeReverseLocked(c, n)
				}
			}
			delete(s.calls, k)
		}
	}
	return nil
}

func (s *Store) ListNamesUsing(_ context.Context, c cid.CID) ([]name.Name, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	var out []name.Name
	for _, e := range s.reverse[bucketOf(c)] {
		if e.target.Equal(c) {
			out = append(out, e.n)
		}
	}
	return out, nil
}

func (s *Store) ListPathsTo(ctx context.Context, c cid.CID) ([]store.PathTo, error) {
	return store.DefaultListPathsTo(ctx, s, c)
}

// Close marks the store closed; subsequent operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
