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

// Package multibase implements text <-> bytes codecs distinguished by a
// single leading scheme character, following the Multibase convention used
// throughout the content-addressing stack (CIDs, multihashes).
package multibase

import (
	"fmt"
)

// Base identifies one multibase encoding scheme.
type Base rune

const (
	Base2          Base = '0'
	Base8          Base = '7'
	Base16         Base = 'f'
	Base16Upper    Base = 'F'
	Base32         Base = 'b'
	Base32Upper    Base = 'B'
	Base32Hex      Base = 'v'
	Base32HexUpper Base = 'V'
	Base32HexPad   Base = 't'
	Base32Pad      Base = 'c'
	Base32Z        Base = 'h'
	Base64         Base = 'm'
	Base64Pad      Base = 'M'
	Base64URL      Base = 'u'
	Base64URLPad   Base = 'U'
	Proquint       Base = 'p'
)

// Names maps every supported base to a human-readable name, used in error
// messages and CLI help text.
var Names = map[Base]string{
	Base2:          "base2",
	Base8:          "base8",
	Base16:         "base16",
	Base16Upper:    "base16upper",
	Base32:         "base32",
	Base32Upper:    "base32upper",
	Base32Hex:      "base32hex",
	Base32HexUpper: "base32hexupper",
	Base32HexPad:   "base32hexpad",
	Base32Pad:      "base32pad",
	Base32Z:        "base32z",
	Base64:         "base64",
	Base64Pad:      "base64pad",
	Base64URL:      "base64url",
	Base64URLPad:   "base64urlpad",
	Proquint:       "proquint",
}

// codec is the per-base encode/decode pair, operating on the body of the
// string (the part after the one-character prefix).
type codec struct {
	encode func([]byte) string
	decode func(string) ([]byte, error)
}

var codecs map[Base]codec

func init() {
	codecs = map[Base]codec{
		Base2:          {encodeBase2, decodeBase2},
		Base8:          {encodeBase8, decodeBase8},
		Base16:         {encodeBase16(lowerHex), decodeBaseX(lowerHex, 4, false)},
		Base16Upper:    {encodeBase16(upperHex), decodeBaseX(upperHex, 4, false)},
		Base32:         {encodeBaseX(rfc4648Alphabet, 5, false), decodeBaseX(rfc4648Alphabet, 5, false)},
		Base32Upper:    {encodeBaseX(rfc4648AlphabetUpper, 5, false), decodeBaseX(rfc4648AlphabetUpper, 5, false)},
		Base32Hex:      {encodeBaseX(rfc4648HexAlphabet, 5, false), decodeBaseX(rfc4648HexAlphabet, 5, false)},
		Base32HexUpper: {encodeBaseX(rfc4648HexAlphabetUpper, 5, false), decodeBaseX(rfc4648HexAlphabetUpper, 5, false)},
		Base32HexPad:   {encodeBaseX(rfc4648HexAlphabet, 5, true), decodeBaseX(rfc4648HexAlphabet, 5, true)},
		Base32Pad:      {encodeBaseX(rfc4648Alphabet, 5, true), decodeBaseX(rfc4648Alphabet, 5, true)},
		Base32Z:        {encodeBaseX(z32Alphabet, 5, false), decodeBaseX(z32Alphabet, 5, false)},
		Base64:         {encodeBaseX(base64Alphabet, 6, false), decodeBaseX(base64Alphabet, 6, false)},
		Base64Pad:      {encodeBaseX(base64Alphabet, 6, true), decodeBaseX(base64Alphabet, 6, true)},
		Base64URL:      {encodeBaseX(base64URLAlphabet, 6, false), decodeBaseX(base64URLAlphabet, 6, false)},
		Base64URLPad:   {encodeBaseX(base64URLAlphabet, 6, true), decodeBaseX(base64URLAlphabet, 6, true)},
		Proquint:       {encodeProquint, decodeProquint},
	}
}

// Encode encodes data in the given base, returning the prefixed string.
func Encode(base Base, data []byte) (string, error) {
	body, err := EncodeWithoutPrefix(base, data)
	if err != nil {
		return "", err
	}
	return string(rune(base)) + body, nil
}

// EncodeWithoutPrefix encodes data in the given base without prepending the
// scheme character.
func EncodeWithoutPrefix(base Base, data []byte) (string, error) {
	c, ok := codecs[base]
	if !ok {
		return "", fmt.Errorf("multibase: unknown base %q", rune(base))
	}
	return c.encode(data), nil
}

// Decode peels the leading scheme character off s and decodes the rest,
// returning the base that was used.
func Decode(s string) (Base, []byte, error) {
	if len(s) == 0 {
		return 0, nil, fmt.Errorf("multibase: empty string")
	}
	base := Base(s[0])
	data, err := DecodeWithoutPrefix(base, s[1:])
	if err != nil {
		return 0, nil, err
	}
	return base, data, nil
}

// DecodeWithoutPrefix decodes body (the string with its scheme prefix
// already removed) using the given base.
func DecodeWithoutPrefix(base Base, body string) ([]byte, error) {
	c, ok := codecs[base]
	if !ok {
		return nil, fmt.Errorf("multibase: unknown base %q", rune(base))
	}
	return c.decode(body)
}
