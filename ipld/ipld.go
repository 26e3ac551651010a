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

// Package ipld packages Node values for storage: choosing a content codec
// and hash codec, and recovering a Node from its packaged bytes. It is a separate package from node so that it can
// depend on both node/cbor and cid without creating an import cycle.
package ipld

import (
	"fmt"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/node/cbor"
)

// IdentityThresholdBytes is the largest encoded size, in bytes, for which
// SaveAsIPLD will use an identity hash (inlining content into the CID)
// rather than Blake2b-256. The cutoff is policy, not wire format. At 64
// bytes an identity CID is at most 68 bytes long, against 38 bytes for a
// Blake2b-256 CID, and the inlined content needs no separately stored
// block (a one-byte `null` CBOR encoding comfortably fits).
const IdentityThresholdBytes = 64

// Packaged is the result of SaveAsIPLD: the encoded bytes and the CID that
// names them.
type Packaged struct {
	CID   cid.CID
	Bytes []byte
}

// SaveAsIPLD encodes n and computes its CID. Bytes nodes use the Raw content
// codec (the block is exactly the byte string); everything else uses
// DAG-CBOR. allowIdentity lets the caller request an identity hash, which is
// only honored when the encoded form is at most IdentityThresholdBytes.
func SaveAsIPLD(n node.Node, allowIdentity bool) (Packaged, error) {
	var contentCodec cid.ContentCodec
	var encoded []byte
	if n.Kind() == node.KindBytes {
		contentCodec = cid.Raw
		encoded = n.AsBytes()
	} else {
		contentCodec = cid.DagCBOR
		encoded = cbor.Save(n)
	}

	hashCodec := cid.Blake2b256
	if allowIdentity && len(encoded) <= IdentityThresholdBytes {
		hashCodec = cid.Identity
	}

	c, err := cid.Calculate(contentCodec, encoded, hashCodec)
	if err != nil {
		return Packaged{}, fmt.Errorf("ipld: %w", err)
	}
	return Packaged{CID: c, Bytes: encoded}, nil
}

// LoadFromIPLD reconstructs a Node from its packaged bytes, given the CID
// that was computed for them. For an identity-hash CID, bytes may be nil:
// the CID's digest already carries the payload.
func LoadFromIPLD(c cid.CID, bytes []byte) (node.Node, error) {
	payload := bytes
	if c.HashCodec == cid.Identity {
		payload = c.Digest
	}
	switch c.ContentCodec {
	case cid.Raw:
		return node.Bytes(payload), nil
	case cid.DagCBOR:
		return cbor.Load(payload)
	default:
		return node.Node{}, fmt.Errorf("ipld: unsupported content codec %s", c.ContentCodec)
	}
}
