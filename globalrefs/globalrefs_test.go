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

package globalrefs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memodb/internal/toyir"
	"github.com/kraklabs/memodb/pdg"
	"github.com/kraklabs/memodb/postdom"
)

func TestWalkFollowsFunctionOperandsTransitively(t *testing.T) {
	m := toyir.NewModule()
	m.Globals["table"] = &toyir.Global{Name: "table", Kind: toyir.GlobalVariable}
	m.Globals["helper"] = &toyir.Global{
		Name: "helper", Kind: toyir.GlobalVariable,
		Operands: []toyir.Value{toyir.GlobalValue("table")},
	}

	b := toyir.NewBuilder("main", nil, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	b.SetEntry(entry)
	b.AddInst(entry, toyir.Instruction{
		Op:       toyir.OpLoad,
		Operands: []toyir.Value{toyir.GlobalValue("helper")},
	})
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpRet})
	m.Globals["main"] = &toyir.Global{Name: "main", Kind: toyir.GlobalFunction, Function: b.Finish()}

	referenced, colocated := Walk(m, "main")
	require.ElementsMatch(t, []string{"helper", "table"}, referenced)
	require.Empty(t, colocated)
}

func TestWalkColocatesAliasee(t *testing.T) {
	m := toyir.NewModule()
	m.Globals["real"] = &toyir.Global{Name: "real", Kind: toyir.GlobalVariable}
	m.Globals["alias"] = &toyir.Global{Name: "alias", Kind: toyir.GlobalAlias, Aliasee: "real"}

	referenced, colocated := Walk(m, "alias")
	require.Empty(t, referenced)
	require.Equal(t, []string{"real"}, colocated)
}

func TestWalkDoesNotRevisitAlreadySeenGlobal(t *testing.T) {
	m := toyir.NewModule()
	m.Globals["leaf"] = &toyir.Global{Name: "leaf", Kind: toyir.GlobalVariable}

	b := toyir.NewBuilder("main", nil, toyir.TypeVoid)
	entry := b.AddBlock("entry")
	b.SetEntry(entry)
	b.AddInst(entry, toyir.Instruction{
		Op:       toyir.OpAdd,
		Operands: []toyir.Value{toyir.GlobalValue("leaf"), toyir.GlobalValue("leaf")},
	})
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpRet})
	m.Globals["main"] = &toyir.Global{Name: "main", Kind: toyir.GlobalFunction, Function: b.Finish()}

	referenced, _ := Walk(m, "main")
	require.Equal(t, []string{"leaf"}, referenced, "a global referenced twice from the same function appears once")
}

func TestUsedByNodesScopedToCandidateBitVector(t *testing.T) {
	b := toyir.NewBuilder("f", nil, toyir.TypeInt)
	entry := b.AddBlock("entry")
	b.SetEntry(entry)
	loadID := b.AddInst(entry, toyir.Instruction{
		Op:       toyir.OpLoad,
		Operands: []toyir.Value{toyir.GlobalValue("counter")},
	})
	b.AddInst(entry, toyir.Instruction{
		Op:       toyir.OpStore,
		Operands: []toyir.Value{toyir.ConstValue(0), toyir.GlobalValue("other")},
	})
	b.AddInst(entry, toyir.Instruction{Op: toyir.OpRet})
	fn := b.Finish()

	pd := postdom.Build(fn)
	g := pdg.Build(fn, pd)

	bv := pdg.NewBitVector()
	for nodeID, n := range g.Nodes {
		if n.Kind == pdg.NodeInstruction && n.InstID == loadID {
			bv.Set(nodeID)
		}
	}

	used := UsedByNodes(fn, g, bv)
	require.Equal(t, []string{"counter"}, used, "only the outlined load's global is reported, not the store's")
}
