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

package sizemodel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memodb/internal/toyir"
)

func TestDefaultModelConstants(t *testing.T) {
	m := Default{}
	require.Equal(t, 4, m.InstructionSize(toyir.OpAdd))
	require.Equal(t, 4, m.InstructionSize(toyir.OpCall), "InstructionSize is flat regardless of opcode")
	require.Equal(t, 5, m.CallInstructionSize())
	require.Equal(t, 16, m.FunctionPrologueSize())
}

func TestFunctionSizeWithCalleesAddsCallOverheadOnTopOfInstructionCost(t *testing.T) {
	b := toyir.NewBuilder("f", nil, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	b.SetEntry(entry)
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpAdd})
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpCall, Callee: "helper"})
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpRet})
	fn := b.Finish()

	got := FunctionSizeWithCallees(Default{}, fn)
	// prologue(16) + 3 instructions * 4 + one call's extra 5 bytes.
	require.Equal(t, 16+3*4+5, got)
}

type stubModel struct{}

func (stubModel) InstructionSize(op toyir.Opcode) int {
	if op == toyir.OpCall {
		return 8
	}
	return 2
}
func (stubModel) CallInstructionSize() int  { return 20 }
func (stubModel) FunctionPrologueSize() int { return 0 }

func TestFunctionSizeWithCalleesHonorsCustomModel(t *testing.T) {
	b := toyir.NewBuilder("f", nil, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	b.SetEntry(entry)
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpCall, Callee: "helper"})
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpRet})
	fn := b.Finish()

	got := FunctionSizeWithCallees(stubModel{}, fn)
	require.Equal(t, 0+8+20+2, got)
}
