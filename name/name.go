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

// Package name implements the tagged union CID | Head | Call that
// identifies anything the store can resolve to a CID, along with its
// canonical URI form.
package name

import (
	"fmt"
	"strings"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/multibase"
	"github.com/kraklabs/memodb/uri"
)

// Kind distinguishes the three alternatives of a Name.
type Kind int

const (
	KindCID Kind = iota
	KindHead
	KindCall
)

// Name is CID | Head(name) | Call(func, args).
type Name struct {
	kind     Kind
	cidValue cid.CID
	headName string
	callFunc string
	callArgs []cid.CID
}

func FromCID(c cid.CID) Name { return Name{kind: KindCID, cidValue: c} }

// FromHead builds a Head name. name must be non-empty.
func FromHead(headName string) (Name, error) {
	if headName == "" {
		return Name{}, fmt.Errorf("name: head name must be non-empty")
	}
	return Name{kind: KindHead, headName: headName}, nil
}

// FromCall builds a Call name. args must be non-empty.
func FromCall(fn string, args []cid.CID) (Name, error) {
	if fn == "" {
		return Name{}, fmt.Errorf("name: call func must be non-empty")
	}
	if len(args) == 0 {
		return Name{}, fmt.Errorf("name: call must have at least one argument")
	}
	cp := make([]cid.CID, len(args))
	copy(cp, args)
	return Name{kind: KindCall, callFunc: fn, callArgs: cp}, nil
}

func (n Name) Kind() Kind { return n.kind }

func (n Name) AsCID() cid.CID {
	mustKind(n, KindCID)
	return n.cidValue
}

func (n Name) HeadName() string {
	mustKind(n, KindHead)
	return n.headName
}

func (n Name) CallFunc() string {
	mustKind(n, KindCall)
	return n.callFunc
}

func (n Name) CallArgs() []cid.CID {
	mustKind(n, KindCall)
	return n.callArgs
}

func mustKind(n Name, k Kind) {
	if n.kind != k {
		panic(fmt.Sprintf("name: wrong kind, expected %d got %d", k, n.kind))
	}
}

// Equal reports structural equality.
func Equal(a, b Name) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindCID:
		return a.cidValue.Equal(b.cidValue)
	case KindHead:
		return a.headName == b.headName
	case KindCall:
		if a.callFunc != b.callFunc || len(a.callArgs) != len(b.callArgs) {
			return false
		}
		for i := range a.callArgs {
			if !a.callArgs[i].Equal(b.callArgs[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Format renders the canonical URI form of n:
//
//	/cid/<multibase CID>
//	/head/<percent-encoded name>     (slashes inside the name are not escaped)
//	/call/<func>/<cid1>,<cid2>,...
func Format(n Name) (string, error) {
	switch n.kind {
	case KindCID:
		s, err := n.cidValue.AsString(multibase.Base32)
		if err != nil {
			return "", err
		}
		return "/cid/" + s, nil
	case KindHead:
		return "/head/" + uri.PercentEncodeSegment(n.headName, false), nil
	case KindCall:
		parts := make([]string, len(n.callArgs))
		for i, a := range n.callArgs {
			s, err := a.AsString(multibase.Base32)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "/call/" + uri.PercentEncodeSegment(n.callFunc, false) + "/" + strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("name: unknown kind %d", n.kind)
	}
}

// Parse recognizes the three canonical forms.
func Parse(s string) (Name, error) {
	switch {
	case strings.HasPrefix(s, "/cid/"):
		c, err := cid.Parse(s[len("/cid/"):])
		if err != nil {
			return Name{}, fmt.Errorf("name: parsing /cid/: %w", err)
		}
		return FromCID(c), nil
	case strings.HasPrefix(s, "/head/"):
		rest := s[len("/head/"):]
		if rest == "" {
			return Name{}, fmt.Errorf("name: head name must be non-empty")
		}
		decoded, err := uri.PercentDecode(rest)
		if err != nil {
			return Name{}, fmt.Errorf("name: parsing /head/: %w", err)
		}
		return FromHead(decoded)
	case strings.HasPrefix(s, "/call/"):
		rest := s[len("/call/"):]
		slashIdx := strings.LastIndexByte(rest, '/')
		if slashIdx < 0 {
			return Name{}, fmt.Errorf("name: /call/ requires <func>/<args>")
		}
		fnEncoded, argsStr := rest[:slashIdx], rest[slashIdx+1:]
		fn, err := uri.PercentDecode(fnEncoded)
		if err != nil {
			return Name{}, fmt.Errorf("name: parsing call func: %w", err)
		}
		if argsStr == "" {
			return Name{}, fmt.Errorf("name: call must have at least one argument")
		}
		argStrs := strings.Split(argsStr, ",")
		args := make([]cid.CID, len(argStrs))
		for i, as := range argStrs {
			c, err := cid.Parse(as)
			if err != nil {
				return Name{}, fmt.Errorf("name: parsing call arg %d: %w", i, err)
			}
			args[i] = c
		}
		return FromCall(fn, args)
	default:
		return Name{}, fmt.Errorf("name: unrecognized form %q", s)
	}
}
