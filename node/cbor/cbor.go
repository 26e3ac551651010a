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

// Package cbor implements the DAG-CBOR-compatible binary codec for Node
// values: a deterministic subset of CBOR (RFC 8949)
// with a reserved tag for content-identifier links.
//
// The major-type/additional-info head parsing here follows the same table
// github.com/fxamacker/cbor/v2 implements; Node/Link framing on top of it
// is bespoke, since a generic CBOR codec does not understand DAG-CBOR's
// canonical map ordering or tag-42 link convention.
package cbor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/node"
)

const (
	majorUnsigned = 0
	majorNegative = 1
	majorBytes    = 2
	majorString   = 3
	majorList     = 4
	majorMap      = 5
	majorTag      = 6
	majorSimple   = 7
)

const (
	simpleFalse = 20
	simpleTrue  = 21
	simpleNull  = 22
)

// linkTag is the CBOR tag reserved for CID links.
const linkTag = 42

// Save encodes n into its canonical DAG-CBOR binary form.
func Save(n node.Node) []byte {
	var buf bytes.Buffer
	writeNode(&buf, n)
	return buf.Bytes()
}

func writeHead(buf *bytes.Buffer, major byte, value uint64) {
	switch {
	case value < 24:
		buf.WriteByte(major<<5 | byte(value))
	case value <= math.MaxUint8:
		buf.WriteByte(major<<5 | 24)
		buf.WriteByte(byte(value))
	case value <= math.MaxUint16:
		buf.WriteByte(major<<5 | 25)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(value))
		buf.Write(b[:])
	case value <= math.MaxUint32:
		buf.WriteByte(major<<5 | 26)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(value))
		buf.Write(b[:])
	default:
		buf.WriteByte(major<<5 | 27)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], value)
		buf.Write(b[:])
	}
}

func writeNode(buf *bytes.Buffer, n node.Node) {
	switch n.Kind() {
	case node.KindNull:
		buf.WriteByte(majorSimple<<5 | simpleNull)
	case node.KindBoolean:
		if n.AsBool() {
			buf.WriteByte(majorSimple<<5 | simpleTrue)
		} else {
			buf.WriteByte(majorSimple<<5 | simpleFalse)
		}
	case node.KindInteger:
		v := n.AsInt()
		if v >= 0 {
			writeHead(buf, majorUnsigned, uint64(v))
		} else {
			writeHead(buf, majorNegative, uint64(-1-v))
		}
	case node.KindFloat:
		buf.WriteByte(majorSimple<<5 | 27)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(n.AsFloat()))
		buf.Write(b[:])
	case node.KindBytes:
		data := n.AsBytes()
		writeHead(buf, majorBytes, uint64(len(data)))
		buf.Write(data)
	case node.KindString:
		data := []byte(n.AsString())
		writeHead(buf, majorString, uint64(len(data)))
		buf.Write(data)
	case node.KindList:
		items := n.AsList()
		writeHead(buf, majorList, uint64(len(items)))
		for _, item := range items {
			writeNode(buf, item)
		}
	case node.KindMap:
		entries := n.AsMap()
		writeHead(buf, majorMap, uint64(len(entries)))
		for _, e := range entries {
			writeHead(buf, majorString, uint64(len(e.Key)))
			buf.WriteString(e.Key)
			writeNode(buf, e.Value)
		}
	case node.KindLink:
		writeHead(buf, majorTag, linkTag)
		c := n.AsLink()
		payload := append([]byte{0x00}, c.AsBytes()...)
		writeHead(buf, majorBytes, uint64(len(payload)))
		buf.Write(payload)
	default:
		panic(fmt.Sprintf("cbor: unknown node kind %v", n.Kind()))
	}
}

// Load decodes a single Node from data. Any bytes remaining after the
// top-level value is fully consumed are an error.
func Load(data []byte) (node.Node, error) {
	d := &decoder{buf: data}
	n, err := d.readNode()
	if err != nil {
		return node.Node{}, err
	}
	if d.pos != len(d.buf) {
		return node.Node{}, fmt.Errorf("cbor: %d extra bytes after top-level node", len(d.buf)-d.pos)
	}
	return n, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("cbor: unexpected end of input")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("cbor: unexpected end of input")
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

// readHead reads a major-type/additional-info head, returning the major
// type, the decoded argument, and whether the length is indefinite (for
// bytes/string/list/map only — additional info 31).
func (d *decoder) readHead() (major byte, value uint64, indefinite bool, err error) {
	b, err := d.byte()
	if err != nil {
		return 0, 0, false, err
	}
	major = b >> 5
	info := b & 0x1f
	switch {
	case info < 24:
		return major, uint64(info), false, nil
	case info == 24:
		v, err := d.byte()
		return major, uint64(v), false, err
	case info == 25:
		bs, err := d.take(2)
		if err != nil {
			return 0, 0, false, err
		}
		return major, uint64(binary.BigEndian.Uint16(bs)), false, nil
	case info == 26:
		bs, err := d.take(4)
		if err != nil {
			return 0, 0, false, err
		}
		return major, uint64(binary.BigEndian.Uint32(bs)), false, nil
	case info == 27:
		bs, err := d.take(8)
		if err != nil {
			return 0, 0, false, err
		}
		return major, binary.BigEndian.Uint64(bs), false, nil
	case info == 31:
		return major, 0, true, nil
	default:
		return 0, 0, false, fmt.Errorf("cbor: reserved additional info %d", info)
	}
}

func (d *decoder) readNode() (node.Node, error) {
	start := d.pos
	major, value, indefinite, err := d.readHead()
	if err != nil {
		return node.Node{}, err
	}
	switch major {
	case majorUnsigned:
		if value > math.MaxInt64 {
			return node.Node{}, fmt.Errorf("cbor: unsigned integer exceeds signed 64-bit range")
		}
		return node.Int(int64(value)), nil
	case majorNegative:
		// CBOR negative int N encodes -1-N; reject if that would overflow
		// signed 64-bit. N = 2^63-1 is in range: it decodes to MinInt64.
		if value > math.MaxInt64 {
			return node.Node{}, fmt.Errorf("cbor: negative integer exceeds signed 64-bit range")
		}
		return node.Int(-1 - int64(value)), nil
	case majorBytes:
		data, err := d.readByteSegments(value, indefinite)
		if err != nil {
			return node.Node{}, err
		}
		return node.Bytes(data), nil
	case majorString:
		data, err := d.readByteSegments(value, indefinite)
		if err != nil {
			return node.Node{}, err
		}
		if !utf8.Valid(data) {
			return node.Node{}, fmt.Errorf("cbor: string is not valid UTF-8")
		}
		return node.MustString(string(data)), nil
	case majorList:
		if indefinite {
			return d.readIndefiniteList()
		}
		items := make([]node.Node, 0, value)
		for i := uint64(0); i < value; i++ {
			item, err := d.readNode()
			if err != nil {
				return node.Node{}, err
			}
			items = append(items, item)
		}
		return node.List(items), nil
	case majorMap:
		if indefinite {
			return node.Node{}, fmt.Errorf("cbor: indefinite-length maps are not supported")
		}
		entries := make([]node.MapEntry, 0, value)
		for i := uint64(0); i < value; i++ {
			keyNode, err := d.readNode()
			if err != nil {
				return node.Node{}, err
			}
			if keyNode.Kind() != node.KindString {
				return node.Node{}, fmt.Errorf("cbor: map key is not a string")
			}
			val, err := d.readNode()
			if err != nil {
				return node.Node{}, err
			}
			entries = append(entries, node.MapEntry{Key: keyNode.AsString(), Value: val})
		}
		return node.MapFromEntries(entries)
	case majorTag:
		if value != linkTag {
			return node.Node{}, fmt.Errorf("cbor: unsupported tag %d", value)
		}
		inner, err := d.readNode()
		if err != nil {
			return node.Node{}, err
		}
		if inner.Kind() != node.KindBytes {
			return node.Node{}, fmt.Errorf("cbor: link tag must wrap a bytes value")
		}
		payload := inner.AsBytes()
		if len(payload) == 0 || payload[0] != 0x00 {
			return node.Node{}, fmt.Errorf("cbor: link payload missing multibase-identity prefix")
		}
		c, err := cid.FromBytes(payload[1:])
		if err != nil {
			return node.Node{}, fmt.Errorf("cbor: decoding link CID: %w", err)
		}
		return node.Link(c), nil
	case majorSimple:
		return d.readSimple(value, indefinite, start)
	default:
		return node.Node{}, fmt.Errorf("cbor: unknown major type %d", major)
	}
}

func (d *decoder) readSimple(value uint64, indefinite bool, start int) (node.Node, error) {
	// readHead has already consumed a float's 2, 4 or 8 payload bytes into
	// value; the head byte's additional info says which width it was.
	info := d.buf[start] & 0x1f
	switch {
	case indefinite:
		return node.Node{}, fmt.Errorf("cbor: unsupported break code outside indefinite container")
	case info == 25: // half-precision float
		return node.Float(float64(decodeHalfFloat(uint16(value)))), nil
	case info == 26: // single-precision float
		return node.Float(float64(math.Float32frombits(uint32(value)))), nil
	case info == 27: // double-precision float
		return node.Float(math.Float64frombits(value)), nil
	case value == simpleFalse:
		return node.Bool(false), nil
	case value == simpleTrue:
		return node.Bool(true), nil
	case value == simpleNull:
		return node.Null(), nil
	default:
		return node.Node{}, fmt.Errorf("cbor: unsupported simple value %d", value)
	}
}

// readByteSegments reads a definite-length byte/string payload, or, if
// indefinite is set, concatenates a sequence of definite-length chunks
// terminated by a break code.
func (d *decoder) readByteSegments(value uint64, indefinite bool) ([]byte, error) {
	if !indefinite {
		return d.take(int(value))
	}
	var out []byte
	for {
		if d.pos >= len(d.buf) {
			return nil, fmt.Errorf("cbor: unexpected end of input in indefinite-length string")
		}
		if d.buf[d.pos] == 0xff {
			d.pos++
			return out, nil
		}
		major, chunkLen, chunkIndefinite, err := d.readHead()
		if err != nil {
			return nil, err
		}
		if chunkIndefinite || (major != majorBytes && major != majorString) {
			return nil, fmt.Errorf("cbor: invalid chunk in indefinite-length string")
		}
		chunk, err := d.take(int(chunkLen))
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
}

func (d *decoder) readIndefiniteList() (node.Node, error) {
	var items []node.Node
	for {
		if d.pos >= len(d.buf) {
			return node.Node{}, fmt.Errorf("cbor: unexpected end of input in indefinite-length list")
		}
		if d.buf[d.pos] == 0xff {
			d.pos++
			return node.List(items), nil
		}
		item, err := d.readNode()
		if err != nil {
			return node.Node{}, err
		}
		items = append(items, item)
	}
}

func decodeHalfFloat(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	var bits uint32
	switch exp {
	case 0:
		if frac == 0 {
			bits = sign << 31
		} else {
			// subnormal
			for frac&0x400 == 0 {
				frac <<= 1
				exp--
			}
			exp++
			frac &= 0x3ff
			bits = sign<<31 | (exp+112)<<23 | frac<<13
		}
	case 0x1f:
		bits = sign<<31 | 0xff<<23 | frac<<13
	default:
		bits = sign<<31 | (exp+112)<<23 | frac<<13
	}
	return math.Float32frombits(bits)
}
