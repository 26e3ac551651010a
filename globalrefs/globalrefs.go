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

// Package globalrefs walks the set of module-level values a global
// transitively references, for linker-side packaging and for the
// outliner's Candidate.globals_used.
package globalrefs

import (
	"sort"

	"github.com/kraklabs/memodb/internal/toyir"
	"github.com/kraklabs/memodb/pdg"
)

// Walk returns every global (other than root itself) transitively
// referenced by root's constant operands, or — if root is a function — by
// any instruction operand in it. Aliases/ifuncs contribute their aliasee
// as a colocation requirement rather than a reference.
func Walk(m *toyir.Module, root string) (referenced []string, colocated []string) {
	seenRef := map[string]bool{}
	seenColoc := map[string]bool{}

	var visit func(name string)
	visit = func(name string) {
		g, ok := m.Globals[name]
		if !ok {
			return
		}
		switch g.Kind {
		case toyir.GlobalAlias:
			if g.Aliasee != "" && !seenColoc[g.Aliasee] {
				seenColoc[g.Aliasee] = true
				colocated = append(colocated, g.Aliasee)
				visit(g.Aliasee)
			}
		case toyir.GlobalFunction:
			for _, inst := range g.Function.Instructions {
				walkOperands(inst.Operands, &seenRef, &referenced, visit)
				walkOperands(inst.PhiIncoming, &seenRef, &referenced, visit)
			}
		case toyir.GlobalVariable:
			walkOperands(g.Operands, &seenRef, &referenced, visit)
		}
	}
	seenRef[root] = true
	visit(root)

	sort.Strings(referenced)
	sort.Strings(colocated)
	return referenced, colocated
}

func walkOperands(operands []toyir.Value, seen *map[string]bool, out *[]string, visit func(string)) {
	for _, v := range operands {
		if v.Kind != toyir.ValueGlobal {
			continue
		}
		if (*seen)[v.GlobalName] {
			continue
		}
		(*seen)[v.GlobalName] = true
		*out = append(*out, v.GlobalName)
		visit(v.GlobalName)
	}
}

// UsedByNodes returns the sorted, deduplicated set of global names
// directly referenced by the instructions in bv — the per-candidate
// globals_used an outlining Candidate carries, scoped to
// just the nodes being outlined rather than a whole-module walk.
func UsedByNodes(fn *toyir.Function, g *pdg.Graph, bv *pdg.BitVector) []string {
	seen := map[string]bool{}
	var out []string
	bv.Each(func(nodeID int) {
		n := g.Nodes[nodeID]
		if n.Kind != pdg.NodeInstruction {
			return
		}
		inst := fn.Inst(n.InstID)
		for _, v := range append(append([]toyir.Value{}, inst.Operands...), inst.PhiIncoming...) {
			if v.Kind == toyir.ValueGlobal && !seen[v.GlobalName] {
				seen[v.GlobalName] = true
				out = append(out, v.GlobalName)
			}
		}
	})
	sort.Strings(out)
	return out
}
