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

// Package postdom computes post-dominance over an augmented CFG that adds
// a synthetic implicit-sink node for control flow LLVM's stock
// post-dominator misses (throws, non-returning calls).
package postdom

import (
	"github.com/kraklabs/memodb/internal/toyir"
)

// CFGNode is a node of the augmented graph: either a
// real basic block or the synthetic implicit-sink.
type CFGNode struct {
	IsSink bool
	Block  int // valid when !IsSink
}

func Regular(block int) CFGNode { return CFGNode{Block: block} }

var ImplicitSink = CFGNode{IsSink: true}

// id maps a CFGNode to a dense integer: blocks keep their index, the sink
// gets numBlocks.
func (n CFGNode) id(numBlocks int) int {
	if n.IsSink {
		return numBlocks
	}
	return n.Block
}

func nodeFromID(id, numBlocks int) CFGNode {
	if id == numBlocks {
		return ImplicitSink
	}
	return Regular(id)
}

// Tree is a post-dominator tree over the augmented CFG of one function.
type Tree struct {
	numBlocks int
	// idom[v] is the immediate post-dominator's dense id, or -1 for the
	// virtual root itself (which has no post-dominator).
	idom []int
	// root is the dense id of the virtual exit, the root of the tree.
	root int
}

// Build constructs the post-dominator tree of fn's augmented CFG: every block, plus one implicit-sink node fed by every block
// marked HasImplicitControlFlow, post-dominance computed via the
// iterative dataflow dominator algorithm (Cooper, Harvey & Kennedy) over a
// synthetic virtual-exit root connecting every true exit (a block with no
// successors and no implicit control flow) and the implicit sink.
func Build(fn *toyir.Function) *Tree {
	n := len(fn.Blocks)
	sink := n
	virtualExit := n + 1
	total := n + 2

	// Forward successors of the augmented graph (blocks + sink), used to
	// derive the reverse graph the dominator algorithm actually walks.
	fwdSuccs := make([][]int, total)
	for _, b := range fn.Blocks {
		fwdSuccs[b.Index] = append(fwdSuccs[b.Index], b.Succs...)
		if fn.HasImplicitControlFlow(b.Index) {
			fwdSuccs[b.Index] = append(fwdSuccs[b.Index], sink)
		}
		if len(b.Succs) == 0 && !fn.HasImplicitControlFlow(b.Index) {
			fwdSuccs[b.Index] = append(fwdSuccs[b.Index], virtualExit)
		}
	}
	fwdSuccs[sink] = append(fwdSuccs[sink], virtualExit)

	revPreds := make([][]int, total)
	for u, succs := range fwdSuccs {
		for _, v := range succs {
			revPreds[v] = append(revPreds[v], u)
		}
	}

	// Post-dominance is dominance on the reversed graph: a node's reversed
	// successors are its forward predecessors (revPreds) and its reversed
	// predecessors are its forward successors (fwdSuccs).
	idom := computeDominators(total, virtualExit, fwdSuccs, revPreds)
	return &Tree{numBlocks: n, idom: idom, root: virtualExit}
}

// computeDominators implements the iterative fixpoint dominator algorithm
// (Cooper/Harvey/Kennedy, "A Simple, Fast Dominance Algorithm"),
// so this is written directly from the well-known algorithm rather than
// the full Lengauer–Tarjan union-find machinery — equivalent
// asymptotically for the CFG sizes this project's outliner ever sees, and
// considerably simpler to get right without a reference implementation to
// check against. preds/succs are the predecessor/successor adjacency of the
// graph being dominated (not necessarily the original CFG's own forward
// edges — callers computing post-dominance pass the reversed graph).
func computeDominators(total, root int, preds, succs [][]int) []int {
	order, postNum := reversePostorder(total, root, succs)

	idom := make([]int, total)
	for i := range idom {
		idom[i] = -1
	}
	idom[root] = root

	changed := true
	for changed {
		changed = false
		for _, v := range order {
			if v == root {
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
				newIdom = intersect(idom, postNum, newIdom, p)
			}
			if newIdom != -1 && idom[v] != newIdom {
				idom[v] = newIdom
				changed = true
			}
		}
	}
	idom[root] = -1
	return idom
}

func intersect(idom, postNum []int, a, b int) int {
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

// reversePostorder returns a DFS-reverse-postorder traversal from root
// (the algorithm requires processing predecessors before successors in
// rank, which reverse postorder guarantees for a reducible graph) plus
// each node's position within it.
func reversePostorder(total, root int, succs [][]int) (order []int, postNum []int) {
	visited := make([]bool, total)
	postNum = make([]int, total)
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

// ImmediatePostDominator returns n's immediate post-dominator, and false if
// n is unreachable from any exit (dead code) or is the virtual root.
func (t *Tree) ImmediatePostDominator(n CFGNode) (CFGNode, bool) {
	id := n.id(t.numBlocks)
	idom := t.idom[id]
	if idom == -1 || idom == t.root {
		// Unreachable from any exit, or post-dominated only by the virtual
		// exit (no real CFGNode above it).
		return CFGNode{}, false
	}
	return nodeFromID(idom, t.numBlocks), true
}

// ProperlyDominates reports whether a properly post-dominates b (a != b,
// and every path from b to an exit passes through a).
func (t *Tree) ProperlyDominates(a, b CFGNode) bool {
	aID, bID := a.id(t.numBlocks), b.id(t.numBlocks)
	if aID == bID {
		return false
	}
	cur := t.idom[bID]
	for cur != -1 {
		if cur == aID {
			return true
		}
		cur = t.idom[cur]
	}
	return false
}
