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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memodb/internal/toyir"
	"github.com/kraklabs/memodb/postdom"
)

// buildLoadAddStore builds a three-block function
// entry -> body -> exit, where body computes
// %a = load p; %b = add %a 1; store %b p. It returns the function plus the
// PDG node IDs for the load, add and store instructions.
func buildLoadAddStore(t *testing.T) (*toyir.Function, func() *Graph, int, int, int) {
	t.Helper()
	b := toyir.NewBuilder("f", []toyir.Type{toyir.TypePointer}, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	body := b.AddBlock("body")
	exit := b.AddBlock("exit")
	b.SetEntry(entry)
	b.Connect(entry, body)
	b.Connect(body, exit)

	b.AddInst(entry, toyir.Instruction{Op: toyir.OpBr, BranchTargets: []int{body}})
	loadID := b.AddInst(body, toyir.Instruction{
		Op: toyir.OpLoad, Type: toyir.TypeInt,
		Operands: []toyir.Value{toyir.ArgValue(0)},
	})
	addID := b.AddInst(body, toyir.Instruction{
		Op: toyir.OpAdd, Type: toyir.TypeInt,
		Operands: []toyir.Value{toyir.InstValue(loadID), toyir.ConstValue(1)},
	})
	storeID := b.AddInst(body, toyir.Instruction{
		Op:       toyir.OpStore,
		Operands: []toyir.Value{toyir.InstValue(addID), toyir.ArgValue(0)},
	})
	b.AddInst(body, toyir.Instruction{Op: toyir.OpBr, BranchTargets: []int{exit}})
	b.AddInst(exit, toyir.Instruction{Op: toyir.OpRet})
	fn := b.Finish()

	build := func() *Graph {
		pd := postdom.Build(fn)
		return Build(fn, pd)
	}
	return fn, build, loadID, addID, storeID
}

func TestLoadAddStoreDependences(t *testing.T) {
	_, build, loadID, addID, storeID := buildLoadAddStore(t)
	g := build()

	load := g.instNodeID[loadID]
	add := g.instNodeID[addID]
	store := g.instNodeID[storeID]

	require.True(t, g.DominatingDepends[add].Has(load), "%%b dominating-depends on %%a")
	require.True(t, g.DataDepends[add].Has(load))
	require.True(t, g.DominatingDepends[store].Has(add), "store dominating-depends on %%b")
	require.True(t, g.DataDepends[store].Has(add))
}

// TestIsOutlinableMirrorsWorkedExample checks the three IsOutlinable
// results for the load/add/store function. Every candidate here includes
// body's block header, since ForcedDepends §4.8 point 4 makes every
// instruction forced-depend on its own block's header.
func TestIsOutlinableMirrorsWorkedExample(t *testing.T) {
	_, build, loadID, addID, storeID := buildLoadAddStore(t)
	g := build()

	bodyHeader := g.blockHeaderID[g.fn.Inst(loadID).Block]
	load := g.instNodeID[loadID]
	add := g.instNodeID[addID]
	store := g.instNodeID[storeID]

	justLoad := NewBitVector()
	justLoad.Set(bodyHeader)
	justLoad.Set(load)
	require.True(t, g.IsOutlinable(justLoad), "isOutlinable({%%a}) must be legal")

	loadAndAdd := NewBitVector()
	loadAndAdd.Set(bodyHeader)
	loadAndAdd.Set(load)
	loadAndAdd.Set(add)
	require.True(t, g.IsOutlinable(loadAndAdd), "isOutlinable({%%a, %%b}) must be legal")

	loadAndStoreWithoutAdd := NewBitVector()
	loadAndStoreWithoutAdd.Set(bodyHeader)
	loadAndStoreWithoutAdd.Set(load)
	loadAndStoreWithoutAdd.Set(store)
	require.False(t, g.IsOutlinable(loadAndStoreWithoutAdd),
		"isOutlinable({%%a, store}) without %%b must be illegal: store dominating-depends on %%b")
}

func TestPreventsOutliningIncludesEntryHeader(t *testing.T) {
	_, build, _, _, _ := buildLoadAddStore(t)
	g := build()

	entryHeader := g.blockHeaderID[g.fn.Entry]
	bv := NewBitVector()
	bv.Set(entryHeader)
	require.False(t, g.IsOutlinable(bv), "the entry block header is always in PreventsOutlining")
}

func TestGetExternalsOfLoadAndAddReportsArgAndStoreConsumer(t *testing.T) {
	_, build, loadID, addID, storeID := buildLoadAddStore(t)
	g := build()

	load := g.instNodeID[loadID]
	add := g.instNodeID[addID]
	store := g.instNodeID[storeID]

	bv := NewBitVector()
	bv.Set(load)
	bv.Set(add)

	argInputs, externalInputs, externalOutputs := g.GetExternals(bv)
	require.Equal(t, []int{0}, argInputs, "load reads function argument 0 (the pointer p)")
	require.False(t, externalInputs.Has(store), "store is not a data dependency of load or add")
	require.True(t, externalOutputs.Has(add), "add's result is consumed outside the set, by store")
	require.False(t, externalOutputs.Has(load), "load's result is only consumed by add, which is inside the set")
}

// buildDiamond builds entry -> {left, right} -> join, where entry's branch
// condition selects left or right; both reconverge at join. This exercises
// control dependence (FOW over the corrected post-dominator tree) and the
// memory-phi placement at a join with two predecessors.
func buildDiamond(t *testing.T) (*toyir.Function, *Graph, int) {
	t.Helper()
	b := toyir.NewBuilder("f", []toyir.Type{toyir.TypeInt, toyir.TypePointer}, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	left := b.AddBlock("left")
	right := b.AddBlock("right")
	join := b.AddBlock("join")
	b.SetEntry(entry)
	b.Connect(entry, left)
	b.Connect(entry, right)
	b.Connect(left, join)
	b.Connect(right, join)

	b.AddInst(entry, toyir.Instruction{
		Op: toyir.OpCondBr, Operands: []toyir.Value{toyir.ArgValue(0)},
		BranchTargets: []int{left, right},
	})
	storeID := b.AddInst(left, toyir.Instruction{
		Op:       toyir.OpStore,
		Operands: []toyir.Value{toyir.ConstValue(1), toyir.ArgValue(1)},
	})
	b.AddInst(left, toyir.Instruction{Op: toyir.OpBr, BranchTargets: []int{join}})
	b.AddInst(right, toyir.Instruction{Op: toyir.OpBr, BranchTargets: []int{join}})
	b.AddInst(join, toyir.Instruction{Op: toyir.OpRet})
	fn := b.Finish()

	pd := postdom.Build(fn)
	g := Build(fn, pd)
	return fn, g, storeID
}

func TestControlDependenceOverDiamond(t *testing.T) {
	fn, g, storeID := buildDiamond(t)

	leftBlock := fn.Inst(storeID).Block
	leftHeader := g.blockHeaderID[leftBlock]
	entryTerm := g.terminatorNodeID(fn.Entry)

	require.True(t, g.DominatingDepends[leftHeader].Has(entryTerm),
		"left's header is control-dependent on entry's branch")

	joinBlockIdx := fn.Block(leftBlock).Succs[0]
	joinHeader := g.blockHeaderID[joinBlockIdx]
	require.False(t, g.DominatingDepends[joinHeader].Has(entryTerm),
		"join post-dominates entry, so it is not control-dependent on the branch")
}

func TestMemoryPhiPlacedAtJoinWithMultiplePredecessors(t *testing.T) {
	fn, g, _ := buildDiamond(t)

	var joinIdx int
	for idx, blk := range fn.Blocks {
		if len(blk.Preds) >= 2 {
			joinIdx = idx
		}
	}
	_, ok := g.memoryPhiID[joinIdx]
	require.True(t, ok, "a block with 2+ predecessors gets a memory-phi node")
}
