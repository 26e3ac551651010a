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

// Package extractor materializes a chosen outlining candidate into a new
// callee function and a rewritten caller.
//
// Scope: this extractor handles candidates whose instruction nodes all
// belong to a single basic block — the shape candidates.Enumerate
// produces in the common case,
// since growth follows dominating-depends chains that are overwhelmingly
// intra-block for straight-line data and memory dependence. Candidates
// spanning multiple blocks' instructions are rejected with
// ErrMultiBlockUnsupported rather than attempting an unverified general
// CFG-splitting clone.
package extractor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/internal/toyir"
	"github.com/kraklabs/memodb/pdg"
)

// ErrNotOutlinable is returned when bv fails the isOutlinable predicate —
// an analysis invariant violation the caller must handle by
// re-enumerating.
var ErrNotOutlinable = errors.New("extractor: bitvector is not outlinable")

// ErrMultiBlockUnsupported is returned when bv's instructions span more
// than one basic block.
var ErrMultiBlockUnsupported = errors.New("extractor: candidate spans more than one basic block")

// Result is the materialized callee plus the rewritten caller.
type Result struct {
	CalleeName string
	Callee     *toyir.Function
	Caller     *toyir.Function
}

// Extract materializes candidate bv of fn into a new callee and a caller
// rewritten to call it. typeSignatureKey
// should be the same key Candidate.TypeSignatureKey carries; it is part
// of the mangled callee name (see mangleName).
func Extract(fn *toyir.Function, g *pdg.Graph, bv *pdg.BitVector, typeSignatureKey string) (*Result, error) {
	if !g.IsOutlinable(bv) {
		return nil, ErrNotOutlinable
	}

	nodes := g.Nodes

	var instIDs []int
	blocks := map[int]bool{}
	bv.Each(func(i int) {
		n := nodes[i]
		if n.Kind == pdg.NodeInstruction {
			instIDs = append(instIDs, n.InstID)
			blocks[n.Block] = true
		}
	})
	sort.Ints(instIDs)
	if len(blocks) > 1 {
		return nil, ErrMultiBlockUnsupported
	}
	var block int
	for b := range blocks {
		block = b
	}
	inSet := make(map[int]bool, len(instIDs))
	for _, id := range instIDs {
		inSet[id] = true
	}

	argInputs, externalInputs, externalOutputs := g.GetExternals(bv)
	sort.Ints(argInputs)

	var extInstIDs []int
	externalInputs.Each(func(nodeID int) {
		if n := nodes[nodeID]; n.Kind == pdg.NodeInstruction {
			extInstIDs = append(extInstIDs, n.InstID)
		}
	})
	sort.Ints(extInstIDs)

	var externalOutputInstIDs []int
	externalOutputs.Each(func(nodeID int) {
		if n := nodes[nodeID]; n.Kind == pdg.NodeInstruction {
			externalOutputInstIDs = append(externalOutputInstIDs, n.InstID)
		}
	})
	sort.Ints(externalOutputInstIDs)

	// Parameter list: ArgInputs ‖ ExternalInputs.
	// A phi chosen for outlining that receives a value from outside the set
	// already surfaces that value as an ordinary ExternalInputs entry (phi
	// incoming values are ordinary data operands to the PDG, see
	// pdg.buildDataAndArgDepends), so input-phis need no separate parameter
	// category here.
	paramTypes := make([]toyir.Type, 0, len(argInputs)+len(extInstIDs))
	argParamIdx := make(map[int]int, len(argInputs))
	for _, a := range argInputs {
		argParamIdx[a] = len(paramTypes)
		t := toyir.TypeInt
		if a < len(fn.ArgTypes) {
			t = fn.ArgTypes[a]
		}
		paramTypes = append(paramTypes, t)
	}
	instParamIdx := make(map[int]int, len(extInstIDs))
	for _, id := range extInstIDs {
		instParamIdx[id] = len(paramTypes)
		paramTypes = append(paramTypes, fn.Inst(id).Type)
	}

	// The block's own terminator, if it happens to be part of the
	// candidate, determines how control leaves the callee.
	termID := fn.TerminatorID(block)
	var term *toyir.Instruction
	if termID >= 0 && inSet[termID] {
		term = fn.Inst(termID)
	}

	var exitTargets []int
	if term != nil {
		switch term.Op {
		case toyir.OpBr, toyir.OpCondBr:
			exitTargets = append(exitTargets, term.BranchTargets...)
		}
	}
	selector := len(exitTargets) == 2 // our toy IR's only multi-way branch is OpCondBr's two targets

	resultTypes := make([]toyir.Type, 0, len(externalOutputInstIDs)+1)
	for _, id := range externalOutputInstIDs {
		resultTypes = append(resultTypes, fn.Inst(id).Type)
	}

	// The branch selector, when present, is part of the returned values: it
	// encodes which exit the outlined terminator took.
	effectiveResults := resultTypes
	if selector {
		effectiveResults = append([]toyir.Type{toyir.TypeInt}, resultTypes...)
	}

	returnType := toyir.TypeVoid
	switch {
	case len(effectiveResults) == 1:
		returnType = effectiveResults[0]
	case len(effectiveResults) > 1:
		// The toy IR has no aggregate/tuple type, so when more than one
		// external output is live, they are packed into a single TypeInt
		// return instead of a real struct. A target with an aggregate ABI
		// would lower this to ExternalOutputs ‖ output-phis properly; this
		// toy model approximates it, documented here rather than silently.
		returnType = toyir.TypeInt
	}

	calleeName := mangleName(fn.Name, bv, typeSignatureKey)

	callee, err := buildCallee(calleeName, paramTypes, returnType, fn, instIDs, termID, term, selector, exitTargets, argParamIdx, instParamIdx, externalOutputInstIDs)
	if err != nil {
		return nil, err
	}

	caller := rewriteCaller(fn, block, inSet, instIDs, argInputs, extInstIDs, externalOutputInstIDs, term, selector, calleeName, returnType)

	return &Result{CalleeName: calleeName, Callee: callee, Caller: caller}, nil
}

func buildCallee(
	name string,
	paramTypes []toyir.Type,
	returnType toyir.Type,
	fn *toyir.Function,
	instIDs []int,
	termID int,
	term *toyir.Instruction,
	selector bool,
	exitTargets []int,
	argParamIdx, instParamIdx map[int]int,
	externalOutputInstIDs []int,
) (*toyir.Function, error) {
	cb := toyir.NewBuilder(name, paramTypes, returnType)
	entry := cb.AddBlock("entry")
	cb.SetEntry(entry)

	cloneID := make(map[int]int, len(instIDs))
	remap := func(v toyir.Value) toyir.Value {
		switch v.Kind {
		case toyir.ValueInst:
			if id, ok := cloneID[v.InstID]; ok {
				return toyir.InstValue(id)
			}
			if idx, ok := instParamIdx[v.InstID]; ok {
				return toyir.ArgValue(idx)
			}
			return v
		case toyir.ValueArg:
			if idx, ok := argParamIdx[v.ArgIndex]; ok {
				return toyir.ArgValue(idx)
			}
			return v
		default:
			return v
		}
	}

	for _, id := range instIDs {
		if id == termID {
			continue // the terminator is replaced by synthesized returns below
		}
		orig := fn.Inst(id)
		clone := toyir.Instruction{Op: orig.Op, Type: orig.Type}
		for _, o := range orig.Operands {
			clone.Operands = append(clone.Operands, remap(o))
		}
		for _, o := range orig.PhiIncoming {
			clone.PhiIncoming = append(clone.PhiIncoming, remap(o))
		}
		newID := cb.AddInst(entry, clone)
		cloneID[id] = newID
	}

	outputs := func(sel int, hasSel bool) []toyir.Value {
		var ops []toyir.Value
		if hasSel {
			ops = append(ops, toyir.ConstValue(int64(sel)))
		}
		for _, id := range externalOutputInstIDs {
			ops = append(ops, remap(toyir.InstValue(id)))
		}
		return ops
	}

	switch {
	case term == nil:
		// Control falls through to the caller's remaining, non-outlined
		// instructions in the same block: a single implicit exit, no
		// selector needed.
		cb.AddInst(entry, toyir.Instruction{Op: toyir.OpRet, Type: returnType, Operands: outputs(0, false)})

	case term.Op == toyir.OpRet:
		// The outlined region already contained the function's true exit.
		ops := append([]toyir.Value{}, externalOutputInstIDs2Values(remap, externalOutputInstIDs)...)
		for _, o := range term.Operands {
			ops = append(ops, remap(o))
		}
		cb.AddInst(entry, toyir.Instruction{Op: toyir.OpRet, Type: returnType, Operands: ops})

	case term.Op == toyir.OpBr:
		cb.AddInst(entry, toyir.Instruction{Op: toyir.OpRet, Type: returnType, Operands: outputs(0, false)})

	case term.Op == toyir.OpCondBr && selector:
		trueBlk := cb.AddBlock("sel_true")
		falseBlk := cb.AddBlock("sel_false")
		cond := remap(term.Operands[0])
		cb.AddInst(entry, toyir.Instruction{
			Op: toyir.OpCondBr, Type: toyir.TypeVoid,
			Operands:      []toyir.Value{cond},
			BranchTargets: []int{trueBlk, falseBlk},
		})
		cb.Connect(entry, trueBlk)
		cb.Connect(entry, falseBlk)
		cb.AddInst(trueBlk, toyir.Instruction{Op: toyir.OpRet, Type: returnType, Operands: outputs(0, true)})
		cb.AddInst(falseBlk, toyir.Instruction{Op: toyir.OpRet, Type: returnType, Operands: outputs(1, true)})

	default:
		return nil, fmt.Errorf("extractor: unsupported terminator shape for outlining: %v", term.Op)
	}

	return cb.Finish(), nil
}

func externalOutputInstIDs2Values(remap func(toyir.Value) toyir.Value, ids []int) []toyir.Value {
	out := make([]toyir.Value, len(ids))
	for i, id := range ids {
		out[i] = remap(toyir.InstValue(id))
	}
	return out
}

// rewriteCaller replaces the outlined instructions of block with a call to
// callee, dispatching any selector back to the original exit targets and
// rewiring consumers of the now-removed instructions' results to the
// call's return value.
func rewriteCaller(
	fn *toyir.Function,
	block int,
	inSet map[int]bool,
	instIDs []int,
	argInputs, extInstIDs, externalOutputInstIDs []int,
	term *toyir.Instruction,
	selector bool,
	calleeName string,
	returnType toyir.Type,
) *toyir.Function {
	caller := &toyir.Function{
		Name:       fn.Name,
		ArgTypes:   append([]toyir.Type{}, fn.ArgTypes...),
		ReturnType: fn.ReturnType,
		Entry:      fn.Entry,
	}
	caller.Blocks = make([]toyir.BasicBlock, len(fn.Blocks))
	for i, b := range fn.Blocks {
		nb := b
		nb.Instructions = append([]int{}, b.Instructions...)
		nb.Preds = append([]int{}, b.Preds...)
		nb.Succs = append([]int{}, b.Succs...)
		caller.Blocks[i] = nb
	}
	caller.Instructions = append([]toyir.Instruction{}, fn.Instructions...)

	addInst := func(blockIdx int, inst toyir.Instruction) int {
		id := len(caller.Instructions)
		inst.ID = id
		inst.Block = blockIdx
		caller.Instructions = append(caller.Instructions, inst)
		caller.Blocks[blockIdx].Instructions = append(caller.Blocks[blockIdx].Instructions, id)
		return id
	}

	callOperands := make([]toyir.Value, 0, len(argInputs)+len(extInstIDs))
	for _, a := range argInputs {
		callOperands = append(callOperands, toyir.ArgValue(a))
	}
	for _, id := range extInstIDs {
		callOperands = append(callOperands, toyir.InstValue(id))
	}
	callID := addInst(block, toyir.Instruction{
		Op:       toyir.OpCall,
		Type:     returnType,
		Operands: callOperands,
		Callee:   calleeName,
	})

	// Remove the outlined instructions from the block's instruction list,
	// keeping whatever precedes/follows them (the call was just appended at
	// the end; reorder it to where the first outlined instruction was).
	kept := caller.Blocks[block].Instructions[:0]
	inserted := false
	for _, id := range fn.Block(block).Instructions {
		if inSet[id] {
			if !inserted {
				kept = append(kept, callID)
				inserted = true
			}
			continue
		}
		kept = append(kept, id)
	}
	if !inserted {
		kept = append(kept, callID)
	}
	caller.Blocks[block].Instructions = kept

	if term != nil {
		switch {
		case term.Op == toyir.OpRet:
			retOps := []toyir.Value{toyir.InstValue(callID)}
			if returnType == toyir.TypeVoid {
				retOps = nil
			}
			dispatchID := addInst(block, toyir.Instruction{Op: toyir.OpRet, Type: fn.ReturnType, Operands: retOps})
			caller.Blocks[block].Instructions = append(caller.Blocks[block].Instructions, dispatchID)

		case term.Op == toyir.OpBr:
			dispatchID := addInst(block, toyir.Instruction{Op: toyir.OpBr, BranchTargets: term.BranchTargets})
			caller.Blocks[block].Instructions = append(caller.Blocks[block].Instructions, dispatchID)

		case term.Op == toyir.OpCondBr && selector:
			dispatchID := addInst(block, toyir.Instruction{
				Op:            toyir.OpCondBr,
				Operands:      []toyir.Value{toyir.InstValue(callID)},
				BranchTargets: term.BranchTargets,
			})
			caller.Blocks[block].Instructions = append(caller.Blocks[block].Instructions, dispatchID)
		}
	}

	// Rewire every remaining reference to a removed instruction's result to
	// the call's return value. When more than one external output exists
	// this collapses onto the same packed integer return every consumer
	// reads from — the same toy-IR aggregate-type simplification buildCallee
	// documents.
	outputSet := make(map[int]bool, len(externalOutputInstIDs))
	for _, id := range externalOutputInstIDs {
		outputSet[id] = true
	}
	rewriteValue := func(v toyir.Value) toyir.Value {
		if v.Kind == toyir.ValueInst && outputSet[v.InstID] {
			return toyir.InstValue(callID)
		}
		return v
	}
	for i := range caller.Instructions {
		inst := &caller.Instructions[i]
		if inSet[inst.ID] {
			continue
		}
		for j, o := range inst.Operands {
			inst.Operands[j] = rewriteValue(o)
		}
		for j, o := range inst.PhiIncoming {
			inst.PhiIncoming[j] = rewriteValue(o)
		}
	}

	return caller
}

// mangleName derives the callee's symbolic name from the parent function's
// name, a stable hash of the candidate's bitvector, and the type-signature
// key, so extracting the same candidate of the same function with the same
// key always yields the same callee name. The parent name is a prefix, so
// candidates taken from differently named functions get different names.
func mangleName(parent string, bv *pdg.BitVector, typeSignatureKey string) string {
	var buf []byte
	bv.Each(func(i int) {
		buf = append(buf, byte(i), byte(i>>8), byte(i>>16), byte(i>>24))
	})
	buf = append(buf, typeSignatureKey...)
	c, err := cid.Calculate(cid.Raw, buf, cid.Blake2b256)
	if err != nil {
		// cid.Calculate only fails for an unsupported hash codec, which
		// Blake2b256 never is.
		panic(err)
	}
	return fmt.Sprintf("%s.outlined.%s", parent, hex.EncodeToString(c.Digest[:8]))
}
