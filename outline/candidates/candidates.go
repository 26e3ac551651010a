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

// Package candidates enumerates legal outlining candidates from a
// function's PDG and scores them for profitability.
package candidates

import (
	"encoding/base64"

	"github.com/kraklabs/memodb/globalrefs"
	"github.com/kraklabs/memodb/internal/toyir"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/node/cbor"
	"github.com/kraklabs/memodb/outline/sizemodel"
	"github.com/kraklabs/memodb/pdg"
)

// Candidate is one legal, scored outlining opportunity.
type Candidate struct {
	Nodes *pdg.BitVector

	ArgTypes    []toyir.Type
	ResultTypes []toyir.Type

	CalleeSize    int
	CallerSavings int

	GlobalsUsed []string

	// TypeSignatureKey groups candidates by (argTypes, resultTypes) for
	// cross-function deduplication.
	TypeSignatureKey string
}

// Enumerate walks fn's PDG in reverse program order, seeding a candidate
// at each node and growing it by pulling in dominating-depends
// predecessors while legality holds. Candidates whose caller savings are
// not positive are dropped unless sizeModelDisabled is true. model may be
// nil to use sizemodel.Default.
func Enumerate(fn *toyir.Function, g *pdg.Graph, model sizemodel.Model, sizeModelDisabled bool) []Candidate {
	if model == nil {
		model = sizemodel.Default{}
	}

	instSizes := make([]int, len(g.Nodes))
	for id, n := range g.Nodes {
		if n.Kind == pdg.NodeInstruction {
			instSizes[id] = model.InstructionSize(fn.Inst(n.InstID).Op)
		}
	}
	calleeBase := sizemodel.FunctionSizeWithCallees(model, fn)

	var out []Candidate
	seen := map[string]bool{}

	for i := len(g.Nodes) - 1; i >= 0; i-- {
		seed := pdg.NewBitVector()
		seed.Set(i)
		seed.Union(g.ForcedDepends[i])

		bv := seed
		for {
			key := encodeBitVectorKey(bv)
			if !seen[key] {
				seen[key] = true
				if g.IsOutlinable(bv) {
					if c := score(fn, g, bv, model, instSizes, calleeBase); Profitable(c, sizeModelDisabled) {
						out = append(out, c)
					}
				}
			}

			next, grew := grow(g, bv)
			if !grew {
				break
			}
			bv = next
		}
	}
	return out
}

// grow looks for one predecessor — a node that is a dominating-depend of
// some node already in bv — whose addition makes the set legal, and returns the
// enlarged set. Candidates are grown one node at a time so every
// intermediate legal size is itself emitted.
func grow(g *pdg.Graph, bv *pdg.BitVector) (*pdg.BitVector, bool) {
	frontier := pdg.NewBitVector()
	bv.Each(func(i int) {
		frontier.Union(g.DominatingDepends[i])
	})

	var found = -1
	frontier.Each(func(j int) {
		if found != -1 || bv.Has(j) {
			return
		}
		candidate := bv.Clone()
		candidate.Set(j)
		candidate.Union(g.ForcedDepends[j])
		if g.IsOutlinable(candidate) {
			found = j
		}
	})
	if found == -1 {
		return nil, false
	}
	next := bv.Clone()
	next.Set(found)
	next.Union(g.ForcedDepends[found])
	return next, true
}

func score(fn *toyir.Function, g *pdg.Graph, bv *pdg.BitVector, model sizemodel.Model, instSizes []int, calleeBase int) Candidate {
	argIdx, _, externalOutputs := g.GetExternals(bv)

	var instSum int
	bv.Each(func(i int) { instSum += instSizes[i] })

	c := Candidate{
		Nodes:         bv.Clone(),
		CalleeSize:    calleeBase + instSum + model.CallInstructionSize(),
		CallerSavings: instSum - model.CallInstructionSize(),
		GlobalsUsed:   globalrefs.UsedByNodes(fn, g, bv),
	}

	argTypeSet := map[toyir.Type]bool{}
	for _, a := range argIdx {
		if a < len(fn.ArgTypes) {
			argTypeSet[fn.ArgTypes[a]] = true
		}
	}
	for t := range argTypeSet {
		c.ArgTypes = append(c.ArgTypes, t)
	}
	externalOutputs.Each(func(i int) {
		if g.Nodes[i].Kind == pdg.NodeInstruction {
			c.ResultTypes = append(c.ResultTypes, fn.Inst(g.Nodes[i].InstID).Type)
		}
	})

	c.TypeSignatureKey = typeSignatureKey(c.ArgTypes, c.ResultTypes)
	return c
}

// Profitable reports whether c is worth outlining; disabled=true bypasses
// the check.
func Profitable(c Candidate, disabled bool) bool {
	return disabled || c.CallerSavings > 0
}

// typeSignatureKey canonicalizes (argTypes, resultTypes) as a CBOR pair and
// base64pad-encodes it.
func typeSignatureKey(argTypes, resultTypes []toyir.Type) string {
	encode := func(types []toyir.Type) node.Node {
		items := make([]node.Node, len(types))
		for i, t := range types {
			items[i] = node.Int(int64(t))
		}
		return node.List(items)
	}
	pair := node.List([]node.Node{encode(argTypes), encode(resultTypes)})
	return base64.StdEncoding.EncodeToString(cbor.Save(pair))
}

func encodeBitVectorKey(bv *pdg.BitVector) string {
	buf := make([]byte, 0, bv.Len()*4)
	bv.Each(func(i int) {
		buf = append(buf, byte(i), byte(i>>8), byte(i>>16), byte(i>>24))
	})
	return string(buf)
}
