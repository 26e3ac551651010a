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

package candidates

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memodb/internal/toyir"
	"github.com/kraklabs/memodb/pdg"
	"github.com/kraklabs/memodb/postdom"
)

// buildLoadAddStore mirrors the function pdg_test.go builds: entry -> body
// -> exit, body computing %a = load p; %b = add %a 1; store %b p.
func buildLoadAddStore() (*toyir.Function, *pdg.Graph) {
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
	b.AddInst(body, toyir.Instruction{
		Op:       toyir.OpStore,
		Operands: []toyir.Value{toyir.InstValue(addID), toyir.ArgValue(0)},
	})
	b.AddInst(body, toyir.Instruction{Op: toyir.OpBr, BranchTargets: []int{exit}})
	b.AddInst(exit, toyir.Instruction{Op: toyir.OpRet})
	fn := b.Finish()

	pd := postdom.Build(fn)
	g := pdg.Build(fn, pd)
	return fn, g
}

func TestEnumerateProducesOnlyLegalGrowingCandidates(t *testing.T) {
	fn, g := buildLoadAddStore()
	cands := Enumerate(fn, g, nil, true)

	require.NotEmpty(t, cands)
	for _, c := range cands {
		require.True(t, g.IsOutlinable(c.Nodes), "every emitted candidate must itself be legal")
	}

	found := false
	for _, c := range cands {
		if len(c.ArgTypes) == 1 && c.ArgTypes[0] == toyir.TypePointer {
			found = true
			require.Equal(t, []toyir.Type{toyir.TypeInt}, c.ResultTypes,
				"the load, consumed externally by %%b which isn't in the set, is the candidate's result")
		}
	}
	require.True(t, found, "the header+load candidate (the legal isOutlinable({%%a}) case) must be enumerated")
}

func TestEnumerateDeduplicatesByBitVector(t *testing.T) {
	fn, g := buildLoadAddStore()
	cands := Enumerate(fn, g, nil, true)

	seen := map[string]bool{}
	for _, c := range cands {
		key := encodeBitVectorKey(c.Nodes)
		require.False(t, seen[key], "Enumerate must not emit the same node set twice")
		seen[key] = true
	}
}

func TestTypeSignatureKeyGroupsIdenticalShapesAndSeparatesDifferentOnes(t *testing.T) {
	fn, g := buildLoadAddStore()
	cands := Enumerate(fn, g, nil, true)

	var withArg, withoutArg []Candidate
	for _, c := range cands {
		if len(c.ArgTypes) > 0 {
			withArg = append(withArg, c)
		} else {
			withoutArg = append(withoutArg, c)
		}
	}
	require.NotEmpty(t, withArg)
	require.True(t, len(withoutArg) >= 2, "several candidates here read no argument and produce no external result")

	for _, c := range withoutArg[1:] {
		require.Equal(t, withoutArg[0].TypeSignatureKey, c.TypeSignatureKey,
			"candidates with identical (empty) argTypes/resultTypes share a dedup key")
	}
	require.NotEqual(t, withoutArg[0].TypeSignatureKey, withArg[0].TypeSignatureKey)
}

func TestEnumerateDropsUnprofitableCandidates(t *testing.T) {
	fn, g := buildLoadAddStore()

	filtered := Enumerate(fn, g, nil, false)
	require.NotEmpty(t, filtered, "multi-instruction candidates outweigh the call overhead and survive")
	for _, c := range filtered {
		require.Greater(t, c.CallerSavings, 0, "with the size model enabled only profitable candidates are emitted")
	}

	// Disabling the size model re-admits the single-instruction seeds the
	// default model prices below the call overhead.
	all := Enumerate(fn, g, nil, true)
	require.Greater(t, len(all), len(filtered))
}

func TestProfitableBypassedWhenDisabled(t *testing.T) {
	unprofitable := Candidate{CallerSavings: -3}
	require.False(t, Profitable(unprofitable, false))
	require.True(t, Profitable(unprofitable, true), "disabled=true bypasses the caller-savings check")

	profitable := Candidate{CallerSavings: 5}
	require.True(t, Profitable(profitable, false))
}
