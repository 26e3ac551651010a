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

package pdg

import "github.com/kraklabs/memodb/internal/toyir"

// domTree is the ordinary (forward) dominator tree, rooted at the
// function's entry block. isOutlinable's legality check
// needs forward dominance, distinct from the corrected post-dominator
// postdom computes; built with the same Cooper/Harvey/Kennedy iterative
// algorithm as postdom.Build, specialized here for a single-root graph
// that needs no synthetic sink.
type domTree struct {
	idom []int
}

func buildDomTree(fn *toyir.Function) *domTree {
	n := len(fn.Blocks)
	succs := make([][]int, n)
	preds := make([][]int, n)
	for _, b := range fn.Blocks {
		succs[b.Index] = append(succs[b.Index], b.Succs...)
		preds[b.Index] = append(preds[b.Index], b.Preds...)
	}

	order, postNum := reversePostorderFrom(n, fn.Entry, succs)

	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[fn.Entry] = fn.Entry

	changed := true
	for changed {
		changed = false
		for _, v := range order {
			if v == fn.Entry {
				continue
			}
			newIdom := -1
			for _, p := range preds[v] {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
					continue
				}
				newIdom = intersectDom(idom, postNum, newIdom, p)
			}
			if newIdom != -1 && idom[v] != newIdom {
				idom[v] = newIdom
				changed = true
			}
		}
	}
	idom[fn.Entry] = -1
	return &domTree{idom: idom}
}

func intersectDom(idom, postNum []int, a, b int) int {
	for a != b {
		for postNum[a] < postNum[b] {
			a = idom[a]
		}
		for postNum[b] < postNum[a] {
			b = idom[b]
		}
	}
	return a
}

func reversePostorderFrom(n, root int, succs [][]int) (order []int, postNum []int) {
	visited := make([]bool, n)
	postNum = make([]int, n)
	for i := range postNum {
		postNum[i] = -1
	}
	var postorder []int
	var visit func(int)
	visit = func(u int) {
		visited[u] = true
		for _, v := range succs[u] {
			if !visited[v] {
				visit(v)
			}
		}
		postorder = append(postorder, u)
	}
	visit(root)

	order = make([]int, len(postorder))
	for i, u := range postorder {
		rev := len(postorder) - 1 - i
		order[rev] = u
		postNum[u] = i
	}
	return order, postNum
}

// Dominates reports whether block a dominates block b (forward CFG), a
// may equal b (every block dominates itself).
func (t *domTree) Dominates(a, b int) bool {
	if a == b {
		return true
	}
	cur := t.idom[b]
	for cur != -1 {
		if cur == a {
			return true
		}
		cur = t.idom[cur]
	}
	return false
}
