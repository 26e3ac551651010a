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

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/kraklabs/memodb/eval"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/store"
)

// registerBuiltins binds the demo functions every memodb process ships
// with: square (integer squaring) and wordcount (whitespace-separated word
// count of a string). They give a fresh deployment something to memoize
// and let eval's worker-pull loop execute jobs without custom code.
func registerBuiltins(ev eval.Evaluator, st store.Store) {
	ev.RegisterFunc("square", func(ctx context.Context, _ eval.Evaluator, call name.Name) (node.Node, error) {
		arg, err := singleArg(ctx, st, call)
		if err != nil {
			return node.Node{}, err
		}
		if arg.Kind() != node.KindInteger {
			return node.Node{}, fmt.Errorf("square: argument is %s, want integer", arg.Kind())
		}
		v := arg.AsInt()
		return node.Int(v * v), nil
	})
	ev.RegisterFunc("wordcount", func(ctx context.Context, _ eval.Evaluator, call name.Name) (node.Node, error) {
		arg, err := singleArg(ctx, st, call)
		if err != nil {
			return node.Node{}, err
		}
		if arg.Kind() != node.KindString {
			return node.Node{}, fmt.Errorf("wordcount: argument is %s, want string", arg.Kind())
		}
		return node.Int(int64(len(strings.Fields(arg.AsString())))), nil
	})
}

func singleArg(ctx context.Context, st store.Store, call name.Name) (node.Node, error) {
	args := call.CallArgs()
	if len(args) != 1 {
		return node.Node{}, fmt.Errorf("%s takes exactly one argument, got %d", call.CallFunc(), len(args))
	}
	arg, ok, err := st.GetOptional(ctx, args[0])
	if err != nil {
		return node.Node{}, err
	}
	if !ok {
		return node.Node{}, fmt.Errorf("%s: argument block %s not found", call.CallFunc(), args[0])
	}
	return arg, nil
}
