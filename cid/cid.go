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

// Package cid implements the self-describing content identifiers used to
// name blocks in the store: version, content codec, hash codec and digest,
// framed as
//
//	<version-varint><content-codec-varint><hash-codec-varint><length-varint><digest>
//
// Binary framing and the parse/decode split are modeled directly on the
// github.com/ipfs/go-cid; this package implements only the narrower codec and hash
// set this project needs rather than importing the full upstream module.
package cid

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/kraklabs/memodb/multibase"
)

// ContentCodec identifies how the referenced content is framed.
type ContentCodec uint64

const (
	// Raw content codec: the block is an uninterpreted byte string.
	Raw ContentCodec = 0x55
	// DagCBOR content codec: the block is a DAG-CBOR encoded Node.
	DagCBOR ContentCodec = 0x71
)

func (c ContentCodec) String() string {
	switch c {
	case Raw:
		return "raw"
	case DagCBOR:
		return "dag-cbor"
	default:
		return fmt.Sprintf("unknown-content-codec(0x%x)", uint64(c))
	}
}

// HashCodec identifies the digest function used to produce a CID's digest.
type HashCodec uint64

const (
	// Identity: the digest bytes are the content verbatim (no hashing).
	// Only valid when the content is short enough to inline economically.
	Identity HashCodec = 0x00
	// Blake2b256: a 32-byte Blake2b digest of the content.
	Blake2b256 HashCodec = 0xb220
)

func (h HashCodec) String() string {
	switch h {
	case Identity:
		return "identity"
	case Blake2b256:
		return "blake2b-256"
	default:
		return fmt.Sprintf("unknown-hash-codec(0x%x)", uint64(h))
	}
}

// Version is the only supported CID version.
const Version = 1

// CID is a self-describing content identifier.
type CID struct {
	ContentCodec ContentCodec
	HashCodec    HashCodec
	Digest       []byte
}

// Undef is the zero-value CID, used to signal "no CID" in optional returns.
var Undef = CID{}

// Defined reports whether c is a non-zero CID.
func (c CID) Defined() bool {
	return c.Digest != nil
}

// Equal reports structural equality.
func (c CID) Equal(other CID) bool {
	return c.ContentCodec == other.ContentCodec &&
		c.HashCodec == other.HashCodec &&
		bytes.Equal(c.Digest, other.Digest)
}

// Calculate computes the digest of content under hashCodec and builds the
// resulting CID. Identity-hashed CIDs inline content verbatim; callers are
// responsible for only requesting Identity when the content is small.
func Calculate(contentCodec ContentCodec, content []byte, hashCodec HashCodec) (CID, error) {
	switch hashCodec {
	case Identity:
		digest := make([]byte, len(content))
		copy(digest, content)
		return CID{ContentCodec: contentCodec, HashCodec: Identity, Digest: digest}, nil
	case Blake2b256:
		sum := blake2b.Sum256(content)
		return CID{ContentCodec: contentCodec, HashCodec: Blake2b256, Digest: sum[:]}, nil
	default:
		return Undef, fmt.Errorf("cid: unsupported hash codec 0x%x", uint64(hashCodec))
	}
}

// AsBytes returns the canonical binary form:
// version | content-codec | hash-codec | length | digest (all varints
// except digest itself).
func (c CID) AsBytes() []byte {
	buf := make([]byte, 0, 4+len(c.Digest))
	buf = appendUvarint(buf, Version)
	buf = appendUvarint(buf, uint64(c.ContentCodec))
	buf = appendUvarint(buf, uint64(c.HashCodec))
	buf = appendUvarint(buf, uint64(len(c.Digest)))
	buf = append(buf, c.Digest...)
	return buf
}

// FromBytes parses the canonical binary form produced by AsBytes. Extra
// trailing bytes, length mismatches and unknown codecs are all parse
// failures.
func FromBytes(b []byte) (CID, error) {
	version, n, err := readUvarint(b)
	if err != nil {
		return Undef, fmt.Errorf("cid: reading version: %w", err)
	}
	if version != Version {
		return Undef, fmt.Errorf("cid: unsupported version %d", version)
	}
	b = b[n:]

	contentCodec, n, err := readUvarint(b)
	if err != nil {
		return Undef, fmt.Errorf("cid: reading content codec: %w", err)
	}
	b = b[n:]

	hashCodec, n, err := readUvarint(b)
	if err != nil {
		return Undef, fmt.Errorf("cid: reading hash codec: %w", err)
	}
	b = b[n:]

	if cc := ContentCodec(contentCodec); cc != Raw && cc != DagCBOR {
		return Undef, fmt.Errorf("cid: unknown content codec 0x%x", contentCodec)
	}
	if hc := HashCodec(hashCodec); hc != Identity && hc != Blake2b256 {
		return Undef, fmt.Errorf("cid: unknown hash codec 0x%x", hashCodec)
	}

	length, n, err := readUvarint(b)
	if err != nil {
		return Undef, fmt.Errorf("cid: reading digest length: %w", err)
	}
	b = b[n:]

	if uint64(len(b)) < length {
		return Undef, fmt.Errorf("cid: digest shorter than declared length")
	}
	if uint64(len(b)) != length {
		return Undef, fmt.Errorf("cid: %d extra trailing bytes", uint64(len(b))-length)
	}

	digest := make([]byte, length)
	copy(digest, b)

	return CID{
		ContentCodec: ContentCodec(contentCodec),
		HashCodec:    HashCodec(hashCodec),
		Digest:       digest,
	}, nil
}

// AsString returns the standard multibase encoding of the binary form.
func (c CID) AsString(base multibase.Base) (string, error) {
	return multibase.Encode(base, c.AsBytes())
}

// Parse recognizes the multibase-encoded binary form of a CID. (Legacy
// bare-base58 CIDv0 strings are out of scope: this project mints only the
// narrower Raw/DAG-CBOR, Identity/Blake2b-256 combination from §4.2, which
// never appears in CIDv0 form.)
func Parse(s string) (CID, error) {
	if len(s) < 2 {
		return Undef, fmt.Errorf("cid: string too short")
	}
	_, data, err := multibase.Decode(s)
	if err != nil {
		return Undef, fmt.Errorf("cid: decoding multibase: %w", err)
	}
	return FromBytes(data)
}

// String renders the CID using base32 (lowercase, unpadded), the
// conventional default textual form.
func (c CID) String() string {
	s, err := c.AsString(multibase.Base32)
	if err != nil {
		return fmt.Sprintf("<invalid cid: %v>", err)
	}
	return s
}
