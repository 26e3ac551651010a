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

package cbor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/node"
)

func roundTrip(t *testing.T, n node.Node) node.Node {
	t.Helper()
	data := Save(n)
	got, err := Load(data)
	require.NoError(t, err)
	return got
}

func TestRoundTripScalars(t *testing.T) {
	require.True(t, node.Equal(node.Null(), roundTrip(t, node.Null())))
	require.True(t, node.Equal(node.Bool(true), roundTrip(t, node.Bool(true))))
	require.True(t, node.Equal(node.Bool(false), roundTrip(t, node.Bool(false))))
	require.True(t, node.Equal(node.Int(0), roundTrip(t, node.Int(0))))
	require.True(t, node.Equal(node.Int(-1), roundTrip(t, node.Int(-1))))
	require.True(t, node.Equal(node.Int(math.MaxInt64), roundTrip(t, node.Int(math.MaxInt64))))
	require.True(t, node.Equal(node.Int(math.MinInt64), roundTrip(t, node.Int(math.MinInt64))))
	require.True(t, node.Equal(node.Float(3.5), roundTrip(t, node.Float(3.5))))
	require.True(t, node.Equal(node.Float(math.NaN()), roundTrip(t, node.Float(math.NaN()))) ||
		math.IsNaN(roundTrip(t, node.Float(math.NaN())).AsFloat()))
	require.True(t, node.Equal(node.Bytes([]byte{1, 2, 3}), roundTrip(t, node.Bytes([]byte{1, 2, 3}))))
	require.True(t, node.Equal(node.MustString("hello"), roundTrip(t, node.MustString("hello"))))
}

func TestRoundTripListAndMap(t *testing.T) {
	list := node.List([]node.Node{node.Int(1), node.MustString("a"), node.Bool(true)})
	require.True(t, node.Equal(list, roundTrip(t, list)))

	m, err := node.Map(map[string]node.Node{
		"b": node.Int(2),
		"a": node.Int(1),
	})
	require.NoError(t, err)
	require.True(t, node.Equal(m, roundTrip(t, m)))
}

func TestRoundTripLink(t *testing.T) {
	c, err := cid.Calculate(cid.Raw, []byte("x"), cid.Blake2b256)
	require.NoError(t, err)
	n := node.Link(c)
	got := roundTrip(t, n)
	require.Equal(t, node.KindLink, got.Kind())
	require.True(t, c.Equal(got.AsLink()))
}

func TestInlineCIDExampleFromSpec(t *testing.T) {
	n := node.Null()
	data := Save(n)
	require.Equal(t, []byte{0xf6}, data)

	c, err := cid.Calculate(cid.DagCBOR, data, cid.Identity)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x71, 0x00, 0x01, 0xf6}, c.AsBytes())
}

func TestBlake2bCIDExampleFromSpec(t *testing.T) {
	n := node.Null()
	data := Save(n)
	c, err := cid.Calculate(cid.Raw, data, cid.Blake2b256)
	require.NoError(t, err)
	b := c.AsBytes()
	require.Equal(t, []byte{0x01, 0x55, 0xA0, 0xE4, 0x02, 0x20}, b[:6])
}

func TestIntegerBoundariesOnePastAreRejected(t *testing.T) {
	// Unsigned 2^63 (one past MaxInt64) and 2^64-1 are valid CBOR but not
	// representable as int64.
	_, err := Load([]byte{0x1b, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	require.Error(t, err)
	_, err = Load([]byte{0x1b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.Error(t, err)

	// Negative N=2^63 encodes -1-2^63, one past MinInt64.
	_, err = Load([]byte{0x3b, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	require.Error(t, err)

	// The exact limits themselves decode.
	n, err := Load([]byte{0x1b, 0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), n.AsInt())
	n, err = Load([]byte{0x3b, 0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), n.AsInt())
}

func TestRejectsExtraTrailingBytes(t *testing.T) {
	data := append(Save(node.Int(1)), 0x00)
	_, err := Load(data)
	require.Error(t, err)
}

func TestRejectsMapWithNonStringKey(t *testing.T) {
	// Hand-build: map(1){ 0x00 (unsigned int key) : null }
	data := []byte{0xa1, 0x00, 0xf6}
	_, err := Load(data)
	require.Error(t, err)
}

func TestRejectsUnsupportedTag(t *testing.T) {
	data := []byte{0xd8, 0x2b, 0x41, 0x00} // tag 43, bytes{0x00}
	_, err := Load(data)
	require.Error(t, err)
}

func TestIndefiniteLengthStringConcatenates(t *testing.T) {
	// (_ "ab" "cd") per RFC 8949 indefinite-length text string
	data := []byte{0x7f, 0x62, 'a', 'b', 0x62, 'c', 'd', 0xff}
	got, err := Load(data)
	require.NoError(t, err)
	require.Equal(t, "abcd", got.AsString())
}
