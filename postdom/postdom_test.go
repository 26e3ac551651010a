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

package postdom

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memodb/internal/toyir"
)

// buildLinear builds entry -> body -> exit, the minimal straight-line
// chain.
func buildLinear() *toyir.Function {
	b := toyir.NewBuilder("f", nil, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	body := b.AddBlock("body")
	exit := b.AddBlock("exit")
	b.SetEntry(entry)
	b.Connect(entry, body)
	b.Connect(body, exit)
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpBr, BranchTargets: []int{body}})
	b.AddInst(body, toyir.Instruction{Op: toyir.OpBr, BranchTargets: []int{exit}})
	b.AddInst(exit, toyir.Instruction{Op: toyir.OpRet})
	return b.Finish()
}

func TestLinearChainPostDominance(t *testing.T) {
	fn := buildLinear()
	tree := Build(fn)

	require.True(t, tree.ProperlyDominates(Regular(2), Regular(1)), "exit post-dominates body")
	require.True(t, tree.ProperlyDominates(Regular(2), Regular(0)), "exit post-dominates entry")
	require.True(t, tree.ProperlyDominates(Regular(1), Regular(0)), "body post-dominates entry")
	require.False(t, tree.ProperlyDominates(Regular(0), Regular(2)))
}

// TestImplicitSinkStrictlyPostDominatesThrowingBlock builds entry -> [ok,
// bad]; bad ends in OpThrow. The implicit sink must strictly
// sink to strictly post-dominate any instruction not guaranteed to
// transfer — so the "bad" block's terminator must be post-dominated by the
// synthetic sink, not by ordinary fallthrough successors.
func TestImplicitSinkStrictlyPostDominatesThrowingBlock(t *testing.T) {
	b := toyir.NewBuilder("f", nil, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	ok := b.AddBlock("ok")
	bad := b.AddBlock("bad")
	b.SetEntry(entry)
	b.Connect(entry, ok)
	b.Connect(entry, bad)
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpCondBr, BranchTargets: []int{ok, bad}})
	b.AddInst(ok, toyir.Instruction{Op: toyir.OpRet})
	b.AddInst(bad, toyir.Instruction{Op: toyir.OpThrow})
	fn := b.Finish()

	tree := Build(fn)
	require.True(t, tree.ProperlyDominates(ImplicitSink, Regular(bad)))
}

func TestTrapIsNotImplicitControlFlow(t *testing.T) {
	b := toyir.NewBuilder("f", nil, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	b.SetEntry(entry)
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpTrap})
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpRet})
	fn := b.Finish()

	require.False(t, fn.HasImplicitControlFlow(entry), "OpTrap must not be treated as implicit control flow")
}

func TestUnreachableBlockHasNoPostDominator(t *testing.T) {
	b := toyir.NewBuilder("f", nil, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	dead := b.AddBlock("dead")
	b.SetEntry(entry)
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpRet})
	b.AddInst(dead, toyir.Instruction{Op: toyir.OpRet})
	fn := b.Finish()

	tree := Build(fn)
	_, ok := tree.ImmediatePostDominator(Regular(dead))
	require.False(t, ok)
}
