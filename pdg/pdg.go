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

// Package pdg builds the outlining program dependence graph:
// control, data and memory dependence edges over a function's
// instructions, plus the legality predicate and external-value analysis
// the outliner needs.
package pdg

import (
	"github.com/kraklabs/memodb/internal/toyir"
	"github.com/kraklabs/memodb/postdom"
)

// NodeKind distinguishes the three kinds of PDG node the node
// ordering emits per block.
type NodeKind int

const (
	NodeBlockHeader NodeKind = iota
	NodeMemoryPhi
	NodeInstruction
)

// Node is one PDG node: a block header, a block's memory-phi, or a real
// instruction.
type Node struct {
	Kind   NodeKind
	Block  int
	InstID int // valid when Kind == NodeInstruction
}

// Graph is the program dependence graph of one function: node indices are
// dense integers into Nodes, arena-plus-indices, with
// sparse bitvectors as the edge-set primitive.
type Graph struct {
	fn *toyir.Function

	Nodes []Node

	blockHeaderID map[int]int
	memoryPhiID   map[int]int
	instNodeID    map[int]int // toyir instruction ID -> pdg node ID

	ForcedDepends     []*BitVector
	DominatingDepends []*BitVector
	DataDepends       []*BitVector
	DataUsedBy        []*BitVector // reverse of DataDepends
	ArgDepends        [][]int      // per node, argument indices it depends on

	PreventsOutlining *BitVector

	dom *domTree
	pd  *postdom.Tree
}

// Build constructs the PDG for fn, given its corrected post-dominator
// tree. The forward dominator tree is built internally, since
// isOutlinable's legality check needs ordinary dominance.
func Build(fn *toyir.Function, pd *postdom.Tree) *Graph {
	g := &Graph{
		fn:            fn,
		blockHeaderID: make(map[int]int),
		memoryPhiID:   make(map[int]int),
		instNodeID:    make(map[int]int),
		pd:            pd,
		dom:           buildDomTree(fn),
	}
	g.assignNodes()
	g.PreventsOutlining = NewBitVector()
	g.PreventsOutlining.Set(g.blockHeaderID[fn.Entry])

	n := len(g.Nodes)
	g.ForcedDepends = make([]*BitVector, n)
	g.DominatingDepends = make([]*BitVector, n)
	g.DataDepends = make([]*BitVector, n)
	g.DataUsedBy = make([]*BitVector, n)
	g.ArgDepends = make([][]int, n)
	for i := range g.Nodes {
		g.ForcedDepends[i] = NewBitVector()
		g.DominatingDepends[i] = NewBitVector()
		g.DataDepends[i] = NewBitVector()
		g.DataUsedBy[i] = NewBitVector()
	}

	g.buildIntraBlockForcedDepends()
	g.buildDataAndArgDepends()
	g.buildMemoryDepends()
	g.buildControlDepends()

	return g
}

// assignNodes walks the CFG in a stable pre-order from the entry block,
// emitting (block-header, optional memory-phi, instructions...) per block,
// so node IDs follow program order.
func (g *Graph) assignNodes() {
	visited := make([]bool, len(g.fn.Blocks))
	var visit func(blockIdx int)
	visit = func(blockIdx int) {
		if visited[blockIdx] {
			return
		}
		visited[blockIdx] = true

		b := g.fn.Block(blockIdx)

		headerID := len(g.Nodes)
		g.Nodes = append(g.Nodes, Node{Kind: NodeBlockHeader, Block: blockIdx})
		g.blockHeaderID[blockIdx] = headerID

		if len(b.Preds) >= 2 {
			phiID := len(g.Nodes)
			g.Nodes = append(g.Nodes, Node{Kind: NodeMemoryPhi, Block: blockIdx})
			g.memoryPhiID[blockIdx] = phiID
		}

		for _, instID := range b.Instructions {
			nodeID := len(g.Nodes)
			g.Nodes = append(g.Nodes, Node{Kind: NodeInstruction, Block: blockIdx, InstID: instID})
			g.instNodeID[instID] = nodeID
		}

		for _, succ := range b.Succs {
			visit(succ)
		}
	}
	visit(g.fn.Entry)
	// Unreachable blocks (dead code) still need node identities so callers
	// indexing by block never panic.
	for idx := range g.fn.Blocks {
		visit(idx)
	}
}

// buildIntraBlockForcedDepends records the intra-block ordering edges:
// instruction onto its header, header onto its memory-phi, and every
// following instruction onto an instruction that may not transfer to its
// successor.
func (g *Graph) buildIntraBlockForcedDepends() {
	for blockIdx := range g.fn.Blocks {
		b := g.fn.Block(blockIdx)
		headerID := g.blockHeaderID[blockIdx]

		if phiID, ok := g.memoryPhiID[blockIdx]; ok {
			g.ForcedDepends[headerID].Set(phiID)
		}

		lastImplicit := -1
		for _, instID := range b.Instructions {
			nodeID := g.instNodeID[instID]
			g.ForcedDepends[nodeID].Set(headerID)

			if lastImplicit != -1 {
				g.ForcedDepends[nodeID].Set(lastImplicit)
			}
			if g.fn.Inst(instID).HasImplicitControlFlow() {
				lastImplicit = nodeID
			}
		}
	}
}

// buildDataAndArgDepends records SSA data dependences and
// function-argument reads.
func (g *Graph) buildDataAndArgDepends() {
	for instID := range g.fn.Instructions {
		inst := g.fn.Inst(instID)
		nodeID := g.instNodeID[instID]

		operands := append([]toyir.Value{}, inst.Operands...)
		operands = append(operands, inst.PhiIncoming...)

		for _, v := range operands {
			switch v.Kind {
			case toyir.ValueInst:
				useNodeID := g.instNodeID[v.InstID]
				g.DataDepends[nodeID].Set(useNodeID)
				g.DataUsedBy[useNodeID].Set(nodeID)
				g.DominatingDepends[nodeID].Set(useNodeID)
			case toyir.ValueArg:
				g.ArgDepends[nodeID] = append(g.ArgDepends[nodeID], v.ArgIndex)
			}
		}
	}
}

// buildMemoryDepends threads a
// simplified memory-SSA over the CFG in pre-order. Back-edges (loop
// bodies revisiting an already-processed predecessor) are not re-chained
// once the loop header has been finalized — a documented simplification
// for this toy analysis.
func (g *Graph) buildMemoryDepends() {
	lastMemOf := make(map[int]int) // block index -> pdg node ID of last memory access leaving it
	processed := make([]bool, len(g.fn.Blocks))

	var process func(blockIdx int)
	process = func(blockIdx int) {
		if processed[blockIdx] {
			return
		}
		processed[blockIdx] = true

		b := g.fn.Block(blockIdx)
		headerID := g.blockHeaderID[blockIdx]

		var current int
		switch {
		case len(b.Preds) == 0:
			current = headerID // function entry: the initial memory state
		case len(b.Preds) == 1:
			pred := b.Preds[0]
			process(pred)
			if v, ok := lastMemOf[pred]; ok {
				current = v
			} else {
				current = g.blockHeaderID[pred]
			}
		default:
			phiID := g.memoryPhiID[blockIdx]
			for _, pred := range b.Preds {
				process(pred)
				var incoming int
				if v, ok := lastMemOf[pred]; ok {
					incoming = v
				} else {
					incoming = g.blockHeaderID[pred]
				}
				g.DominatingDepends[phiID].Set(incoming)
			}
			current = phiID
		}

		for _, instID := range b.Instructions {
			if !g.fn.Inst(instID).IsMemoryOp() {
				continue
			}
			nodeID := g.instNodeID[instID]
			g.DominatingDepends[nodeID].Set(current)
			current = nodeID
		}
		lastMemOf[blockIdx] = current
	}

	for idx := range g.fn.Blocks {
		process(idx)
	}
}

// buildControlDepends records control dependences: standard
// Ferrante–Ottenstein–Warren control dependence computed over the
// corrected post-dominator tree, so implicit-exit paths contribute.
func (g *Graph) buildControlDepends() {
	for blockIdx := range g.fn.Blocks {
		b := g.fn.Block(blockIdx)
		if len(b.Succs) < 2 {
			continue // not a branch; nothing is control-dependent on it
		}
		branchTerminator := g.terminatorNodeID(blockIdx)
		ipdomA, ipdomAOk := g.pd.ImmediatePostDominator(postdom.Regular(blockIdx))

		for _, succ := range b.Succs {
			runner := postdom.Regular(succ)
			for {
				if ipdomAOk && runner == ipdomA {
					break
				}
				if runner.IsSink {
					break
				}
				g.DominatingDepends[g.blockHeaderID[runner.Block]].Set(branchTerminator)

				next, ok := g.pd.ImmediatePostDominator(runner)
				if !ok {
					break
				}
				runner = next
			}
		}
	}
}

func (g *Graph) terminatorNodeID(blockIdx int) int {
	termInstID := g.fn.TerminatorID(blockIdx)
	if termInstID < 0 {
		return g.blockHeaderID[blockIdx]
	}
	return g.instNodeID[termInstID]
}

// ComputeTransitiveClosures tightens ForcedDepends and DominatingDepends
// to their transitive closure, which is optional but
// speeds up repeated isOutlinable checks during candidate enumeration
// since a single pass over a node's (now-closed) dependency set is enough.
func (g *Graph) ComputeTransitiveClosures() {
	g.ForcedDepends = closeAll(g.ForcedDepends)
	g.DominatingDepends = closeAll(g.DominatingDepends)
}

func closeAll(depends []*BitVector) []*BitVector {
	closed := make([]*BitVector, len(depends))
	memo := make([]*BitVector, len(depends))
	var closure func(i int) *BitVector
	closure = func(i int) *BitVector {
		if memo[i] != nil {
			return memo[i]
		}
		acc := depends[i].Clone()
		memo[i] = acc // break cycles: a cycle back to i sees the partial set
		depends[i].Each(func(j int) {
			if j == i {
				return
			}
			acc.Union(closure(j))
		})
		return acc
	}
	for i := range depends {
		closed[i] = closure(i)
	}
	return closed
}

// IsOutlinable reports whether bv is a legal outlining candidate per
// the three-part legality predicate.
func (g *Graph) IsOutlinable(bv *BitVector) bool {
	if bv.Intersects(g.PreventsOutlining) {
		return false
	}

	legal := true
	bv.Each(func(i int) {
		if !legal {
			return
		}
		g.ForcedDepends[i].Each(func(j int) {
			if !bv.Has(j) {
				legal = false
			}
		})
	})
	if !legal {
		return false
	}

	bv.Each(func(i int) {
		if !legal {
			return
		}
		g.DominatingDepends[i].Each(func(j int) {
			if !bv.Has(j) && !g.commonDominator(j, bv) {
				legal = false
			}
		})
	})
	return legal
}

// commonDominator reports whether node j dominates every node in bv. Nodes
// in the same block are assigned in program order (header, memory-phi,
// instructions), so within a block dominance reduces to "j's node ID comes
// no later than k's"; across blocks it's ordinary forward dominance of the
// owning blocks.
func (g *Graph) commonDominator(j int, bv *BitVector) bool {
	jBlock := g.Nodes[j].Block
	ok := true
	bv.Each(func(k int) {
		if !ok {
			return
		}
		kBlock := g.Nodes[k].Block
		if jBlock == kBlock {
			if j > k {
				ok = false
			}
			return
		}
		if !g.dom.Dominates(jBlock, kBlock) {
			ok = false
		}
	})
	return ok
}

// GetExternals computes the set of
// function-argument inputs, externally-sourced data inputs, and
// externally-consumed data outputs for candidate bv.
func (g *Graph) GetExternals(bv *BitVector) (argInputs []int, externalInputs, externalOutputs *BitVector) {
	argSet := map[int]bool{}
	externalInputs = NewBitVector()
	externalOutputs = NewBitVector()

	bv.Each(func(i int) {
		for _, a := range g.ArgDepends[i] {
			argSet[a] = true
		}
		g.DataDepends[i].Each(func(j int) {
			if !bv.Has(j) {
				externalInputs.Set(j)
			}
		})
		g.DataUsedBy[i].Each(func(consumer int) {
			if !bv.Has(consumer) {
				externalOutputs.Set(i)
			}
		})
	})

	for a := range argSet {
		argInputs = append(argInputs, a)
	}
	return argInputs, externalInputs, externalOutputs
}
