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

package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memodb/cid"
)

func TestCompareOrdersByKindTagFirst(t *testing.T) {
	c, err := cid.Calculate(cid.Raw, []byte{0x01}, cid.Identity)
	require.NoError(t, err)

	// One representative per kind, in tag order.
	ordered := []Node{
		Null(),
		Bool(true),
		Int(999),
		Float(0.5),
		Bytes([]byte{0xff}),
		MustString("a"),
		List([]Node{Int(1)}),
		mustMap(t, map[string]Node{"k": Int(1)}),
		Link(c),
	}
	for i := range ordered {
		for j := range ordered {
			switch {
			case i < j:
				require.Negative(t, Compare(ordered[i], ordered[j]), "%s < %s", ordered[i].Kind(), ordered[j].Kind())
			case i > j:
				require.Positive(t, Compare(ordered[i], ordered[j]), "%s > %s", ordered[i].Kind(), ordered[j].Kind())
			default:
				require.Zero(t, Compare(ordered[i], ordered[j]))
			}
		}
	}
}

func mustMap(t *testing.T, entries map[string]Node) Node {
	t.Helper()
	n, err := Map(entries)
	require.NoError(t, err)
	return n
}

func TestCompareWithinKindIsLexicographic(t *testing.T) {
	require.Negative(t, Compare(Bool(false), Bool(true)))
	require.Negative(t, Compare(Int(-2), Int(3)))
	require.Negative(t, Compare(Float(1.5), Float(2.5)))
	require.Negative(t, Compare(Bytes([]byte{0x01}), Bytes([]byte{0x01, 0x00})))
	require.Negative(t, Compare(MustString("ab"), MustString("b")))
	require.Negative(t, Compare(List([]Node{Int(1)}), List([]Node{Int(1), Int(0)})))
	require.Positive(t, Compare(MustString("b"), MustString("ab")))
}

func TestEqualIsStructural(t *testing.T) {
	a := List([]Node{Int(1), mustMap(t, map[string]Node{"x": MustString("v")})})
	b := List([]Node{Int(1), mustMap(t, map[string]Node{"x": MustString("v")})})
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, List([]Node{Int(1)})))
	require.False(t, Equal(Int(1), Float(1)))
	require.False(t, Equal(Null(), Bool(false)))
}

func TestMapCanonicalizesKeyOrder(t *testing.T) {
	n := mustMap(t, map[string]Node{"b": Int(2), "a": Int(1), "c": Int(3)})
	entries := n.AsMap()
	require.Len(t, entries, 3)
	require.Equal(t, "a", entries[0].Key)
	require.Equal(t, "b", entries[1].Key)
	require.Equal(t, "c", entries[2].Key)
}

func TestMapFromEntriesDeduplicatesLastWriteWins(t *testing.T) {
	n, err := MapFromEntries([]MapEntry{
		{Key: "b", Value: Int(1)},
		{Key: "a", Value: Int(2)},
		{Key: "b", Value: Int(3)},
	})
	require.NoError(t, err)
	entries := n.AsMap()
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Key)
	require.Equal(t, "b", entries[1].Key)
	require.Equal(t, int64(3), entries[1].Value.AsInt())
}

func TestNonUTF8KeysAndStringsAreRejected(t *testing.T) {
	bad := string([]byte{0xff, 0xfe})

	_, err := String(bad)
	require.Error(t, err)
	require.Panics(t, func() { MustString(bad) })

	_, err = Map(map[string]Node{bad: Int(1)})
	require.Error(t, err)
	_, err = MapFromEntries([]MapEntry{{Key: bad, Value: Int(1)}})
	require.Error(t, err)
}

func TestAccessorsPanicOnKindMismatch(t *testing.T) {
	require.Panics(t, func() { Int(1).AsString() })
	require.Panics(t, func() { MustString("x").AsInt() })
	require.Panics(t, func() { Null().AsList() })
	require.Panics(t, func() { Bool(true).AsLink() })
	require.NotPanics(t, func() { Int(1).AsInt() })
}

func TestBytesAndListConstructorsCopyInput(t *testing.T) {
	raw := []byte{1, 2, 3}
	n := Bytes(raw)
	raw[0] = 9
	require.Equal(t, []byte{1, 2, 3}, n.AsBytes())

	items := []Node{Int(1)}
	l := List(items)
	items[0] = Int(2)
	require.Equal(t, int64(1), l.AsList()[0].AsInt())
}
