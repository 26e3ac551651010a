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

// Package sizemodel supplies the estimated compiled-code sizes candidate
// enumeration needs to judge profitability. The real
// per-target codegen size API is the single point where target-specific
// behavior would enter the analyses; target discovery itself
// is out of scope, so only the conservative default model is implemented
// here, behind the same interface a target-specific model would satisfy.
package sizemodel

import "github.com/kraklabs/memodb/internal/toyir"

// Model estimates compiled-code sizes in bytes. Implementations specific
// to a codegen backend can be registered in place of Default.
type Model interface {
	InstructionSize(op toyir.Opcode) int
	CallInstructionSize() int
	FunctionPrologueSize() int
}

// Default is the conservative fallback model for targets with no codegen
// size oracle: a
// flat per-instruction cost and a fixed prologue, used whenever no
// target-specific model is available.
type Default struct{}

const (
	defaultInstructionBytes = 4
	defaultPrologueBytes    = 16
	defaultCallBytes        = 5
)

func (Default) InstructionSize(op toyir.Opcode) int { return defaultInstructionBytes }
func (Default) CallInstructionSize() int            { return defaultCallBytes }
func (Default) FunctionPrologueSize() int           { return defaultPrologueBytes }

// FunctionSizeWithCallees estimates fn's total compiled size including its
// outgoing call overhead, the inputs to a candidate's callee-size
// estimate.
func FunctionSizeWithCallees(m Model, fn *toyir.Function) int {
	total := m.FunctionPrologueSize()
	for _, inst := range fn.Instructions {
		total += m.InstructionSize(inst.Op)
		if inst.Op == toyir.OpCall {
			total += m.CallInstructionSize()
		}
	}
	return total
}
