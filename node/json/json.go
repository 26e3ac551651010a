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

// Package json implements the "MemoDB JSON" representation of Node values
// : plain JSON for null/bool/integer/string/list, and tagged
// single-key wrapper objects ("float", "base64", "map", "cid") for the kinds
// that don't have a lossless native JSON form.
package json

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/multibase"
	"github.com/kraklabs/memodb/node"
)

// Save renders n as MemoDB JSON.
func Save(n node.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeNode(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n node.Node) error {
	switch n.Kind() {
	case node.KindNull:
		buf.WriteString("null")
	case node.KindBoolean:
		if n.AsBool() {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case node.KindInteger:
		buf.WriteString(strconv.FormatInt(n.AsInt(), 10))
	case node.KindFloat:
		buf.WriteString(`{"float":`)
		writeJSONString(buf, formatFloat(n.AsFloat()))
		buf.WriteByte('}')
	case node.KindBytes:
		buf.WriteString(`{"base64":`)
		writeJSONString(buf, base64.StdEncoding.EncodeToString(n.AsBytes()))
		buf.WriteByte('}')
	case node.KindString:
		writeJSONString(buf, n.AsString())
	case node.KindList:
		buf.WriteByte('[')
		for i, item := range n.AsList() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case node.KindMap:
		buf.WriteString(`{"map":{`)
		for i, e := range n.AsMap() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, e.Key)
			buf.WriteByte(':')
			if err := writeNode(buf, e.Value); err != nil {
				return err
			}
		}
		buf.WriteString("}}")
	case node.KindLink:
		s, err := n.AsLink().AsString(multibase.Base64URL)
		if err != nil {
			return fmt.Errorf("json: encoding link CID: %w", err)
		}
		buf.WriteString(`{"cid":`)
		writeJSONString(buf, s)
		buf.WriteByte('}')
	default:
		return fmt.Errorf("json: unknown node kind %v", n.Kind())
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// formatFloat renders v as a stable, shortest round-tripping decimal (a
// Ryu-class representation), with IEEE-754 special cases spelled out as
// the wire format requires.
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}

// Load parses MemoDB JSON back into a Node.
func Load(data []byte) (node.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return node.Node{}, fmt.Errorf("json: %w", err)
	}
	if dec.More() {
		return node.Node{}, fmt.Errorf("json: extra data after top-level value")
	}
	return fromRaw(raw)
}

func fromRaw(raw interface{}) (node.Node, error) {
	switch v := raw.(type) {
	case nil:
		return node.Null(), nil
	case bool:
		return node.Bool(v), nil
	case json.Number:
		i, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			return node.Node{}, fmt.Errorf("json: integer %q out of signed 64-bit range", v.String())
		}
		return node.Int(i), nil
	case string:
		return node.String(v)
	case []interface{}:
		items := make([]node.Node, len(v))
		for i, raw := range v {
			n, err := fromRaw(raw)
			if err != nil {
				return node.Node{}, err
			}
			items[i] = n
		}
		return node.List(items), nil
	case map[string]interface{}:
		return fromObject(v)
	default:
		return node.Node{}, fmt.Errorf("json: unsupported JSON value of type %T", raw)
	}
}

func fromObject(m map[string]interface{}) (node.Node, error) {
	if len(m) != 1 {
		return node.Node{}, fmt.Errorf("json: bare JSON objects are not a valid node encoding")
	}
	if raw, ok := m["float"]; ok {
		s, ok := raw.(string)
		if !ok {
			return node.Node{}, fmt.Errorf("json: \"float\" value must be a string")
		}
		v, err := parseFloatValue(s)
		if err != nil {
			return node.Node{}, err
		}
		return node.Float(v), nil
	}
	if raw, ok := m["base64"]; ok {
		s, ok := raw.(string)
		if !ok {
			return node.Node{}, fmt.Errorf("json: \"base64\" value must be a string")
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return node.Node{}, fmt.Errorf("json: decoding base64: %w", err)
		}
		return node.Bytes(data), nil
	}
	if raw, ok := m["map"]; ok {
		inner, ok := raw.(map[string]interface{})
		if !ok {
			return node.Node{}, fmt.Errorf("json: \"map\" value must be an object")
		}
		entries := make([]node.MapEntry, 0, len(inner))
		for k, rawV := range inner {
			v, err := fromRaw(rawV)
			if err != nil {
				return node.Node{}, err
			}
			entries = append(entries, node.MapEntry{Key: k, Value: v})
		}
		return node.MapFromEntries(entries)
	}
	if raw, ok := m["cid"]; ok {
		s, ok := raw.(string)
		if !ok {
			return node.Node{}, fmt.Errorf("json: \"cid\" value must be a string")
		}
		if len(s) == 0 || s[0] != byte(multibase.Base64URL) {
			return node.Node{}, fmt.Errorf("json: link CID must be encoded as base64url (\"u...\")")
		}
		c, err := cid.Parse(s)
		if err != nil {
			return node.Node{}, fmt.Errorf("json: parsing link CID: %w", err)
		}
		return node.Link(c), nil
	}
	return node.Node{}, fmt.Errorf("json: object has no recognized wrapper key")
}

func parseFloatValue(s string) (float64, error) {
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("json: invalid float literal %q", s)
		}
		return v, nil
	}
}
