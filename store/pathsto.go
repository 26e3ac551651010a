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

package store

import (
	"context"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
)

// DefaultListPathsTo is the shared ListPathsTo implementation: it "recursively
// recursively walks parents using list_names_using". Backends with no
// cheaper way to answer ListPathsTo can call this directly.
func DefaultListPathsTo(ctx context.Context, s Store, target cid.CID) ([]PathTo, error) {
	var results []PathTo
	visited := map[string]bool{}

	var walk func(current cid.CID, pathSoFar []PathElement) error
	walk = func(current cid.CID, pathSoFar []PathElement) error {
		names, err := s.ListNamesUsing(ctx, current)
		if err != nil {
			return err
		}
		for _, n := range names {
			switch n.Kind() {
			case name.KindCID, name.KindHead, name.KindCall:
				resolved, ok, err := s.ResolveOptional(ctx, n)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if resolved.Equal(current) {
					results = append(results, PathTo{Root: n, Path: reversePath(pathSoFar)})
					continue
				}
				key := resolved.String()
				if visited[key] {
					continue
				}
				container, ok, err := s.GetOptional(ctx, resolved)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				elem, found := locateChild(container, current)
				if !found {
					continue
				}
				visited[key] = true
				if err := walk(resolved, append([]PathElement{elem}, pathSoFar...)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(target, nil); err != nil {
		return nil, err
	}
	return results, nil
}

func locateChild(container node.Node, target cid.CID) (node.Node, bool) {
	switch container.Kind() {
	case node.KindList:
		for i, item := range container.AsList() {
			if item.Kind() == node.KindLink && item.AsLink().Equal(target) {
				return node.Int(int64(i)), true
			}
		}
	case node.KindMap:
		for _, e := range container.AsMap() {
			if e.Value.Kind() == node.KindLink && e.Value.AsLink().Equal(target) {
				return node.MustString(e.Key), true
			}
		}
	}
	return node.Node{}, false
}

func reversePath(path []PathElement) []PathElement {
	cp := make([]PathElement, len(path))
	copy(cp, path)
	return cp
}
