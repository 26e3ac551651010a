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

package multibase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allBases = []Base{
	Base2, Base8, Base16, Base16Upper,
	Base32, Base32Upper, Base32Hex, Base32HexUpper, Base32HexPad, Base32Pad,
	Base32Z, Base64, Base64Pad, Base64URL, Base64URLPad, Proquint,
}

func TestRoundTripEveryBase(t *testing.T) {
	samples := [][]byte{
		{},
		{0x00},
		{0xff},
		[]byte("hello world"),
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
	}
	for _, base := range allBases {
		for _, sample := range samples {
			encoded, err := Encode(base, sample)
			require.NoError(t, err, "base %s", Names[base])
			gotBase, decoded, err := Decode(encoded)
			require.NoError(t, err, "base %s encoded=%q", Names[base], encoded)
			require.Equal(t, base, gotBase)
			require.Equal(t, sample, decoded, "base %s", Names[base])
		}
	}
}

func TestEmptyByteString(t *testing.T) {
	for _, base := range allBases {
		encoded, err := Encode(base, nil)
		require.NoError(t, err)
		want := string(rune(base))
		if base == Proquint {
			want += "ro" // every proquint body carries the leading "ro" marker
		}
		require.Equal(t, want, encoded)
	}
}

func TestBase32EmptyBodyHasOnlyPrefix(t *testing.T) {
	encoded, err := Encode(Base32, []byte{})
	require.NoError(t, err)
	require.Equal(t, "b", encoded)
}

func TestBase64PadKnownVectors(t *testing.T) {
	encoded, err := Encode(Base64Pad, []byte{0x00})
	require.NoError(t, err)
	require.Equal(t, "MAA==", encoded)

	_, decoded, err := Decode("MAA==")
	require.NoError(t, err)
	require.Equal(t, []byte{0x00}, decoded)
}

func TestDecodeRejectsDataAfterPadding(t *testing.T) {
	_, err := DecodeWithoutPrefix(Base64Pad, "MAA=A")
	require.Error(t, err)
}

func TestDecodeRejectsWrongPaddingCount(t *testing.T) {
	// "AA==" is the canonical base64pad body for {0x00}: one fewer or one
	// more '=' is insufficient or excess padding.
	decoded, err := DecodeWithoutPrefix(Base64Pad, "AA==")
	require.NoError(t, err)
	require.Equal(t, []byte{0x00}, decoded)

	for _, body := range []string{"AA", "AA=", "AA==="} {
		_, err := DecodeWithoutPrefix(Base64Pad, body)
		require.Error(t, err, "base64pad body %q", body)
	}

	// A data length the encoder can never produce is rejected even when
	// the '=' count would fill out the group.
	_, err = DecodeWithoutPrefix(Base64Pad, "A===")
	require.Error(t, err)

	decoded, err = DecodeWithoutPrefix(Base32Pad, "aa======")
	require.NoError(t, err)
	require.Equal(t, []byte{0x00}, decoded)
	for _, body := range []string{"aa", "aa=====", "aa======="} {
		_, err := DecodeWithoutPrefix(Base32Pad, body)
		require.Error(t, err, "base32pad body %q", body)
	}
}

func TestDecodeRejectsPaddingInUnpaddedBase(t *testing.T) {
	for _, base := range []Base{Base64, Base64URL, Base32, Base32Hex} {
		_, err := DecodeWithoutPrefix(base, "aa==")
		require.Error(t, err, "base %q", string(base))
	}
}

func TestDecodeRejectsUnknownCharacter(t *testing.T) {
	_, err := DecodeWithoutPrefix(Base32, "!!!!")
	require.Error(t, err)
}

func TestDecodeUnknownScheme(t *testing.T) {
	_, _, err := Decode("?notabase")
	require.Error(t, err)
}

func TestProquintOddByteCount(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe}
	encoded, err := Encode(Proquint, data)
	require.NoError(t, err)
	_, decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestProquintRejectsMissingPrefix(t *testing.T) {
	_, err := DecodeWithoutPrefix(Proquint, "lusab-babad")
	require.Error(t, err)
}
