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

package local

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/eval"
	"github.com/kraklabs/memodb/internal/evalfatal"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/store/memstore"
)

func TestEvaluateMemoizesAndInvokesOnce(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	ev := New(st, 2, nil)
	defer ev.Close()

	var invocations int64
	ev.RegisterFunc("square", func(ctx context.Context, e eval.Evaluator, call name.Name) (node.Node, error) {
		atomic.AddInt64(&invocations, 1)
		arg, ok, err := st.GetOptional(ctx, call.CallArgs()[0])
		require.NoError(t, err)
		require.True(t, ok)
		return node.Int(arg.AsInt() * arg.AsInt()), nil
	})

	argCID, err := st.Put(ctx, node.Int(3))
	require.NoError(t, err)
	call, err := name.FromCall("square", []cid.CID{argCID})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]cid.CID, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := ev.Evaluate(ctx, call)
			require.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range results[1:] {
		require.True(t, c.Equal(results[0]))
	}
	require.Equal(t, int64(1), atomic.LoadInt64(&invocations), "square must run at most once for the same call")

	resolved, ok, err := st.ResolveOptional(ctx, call)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, resolved.Equal(results[0]))

	n, ok, err := st.GetOptional(ctx, resolved)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), n.AsInt())
}

func TestZeroWorkersDrivesLazily(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	ev := New(st, 0, nil)
	defer ev.Close()

	ev.RegisterFunc("identity", func(ctx context.Context, e eval.Evaluator, call name.Name) (node.Node, error) {
		arg, ok, err := st.GetOptional(ctx, call.CallArgs()[0])
		require.NoError(t, err)
		require.True(t, ok)
		return arg, nil
	})

	argCID, err := st.Put(ctx, node.MustString("hello"))
	require.NoError(t, err)
	call, err := name.FromCall("identity", []cid.CID{argCID})
	require.NoError(t, err)

	c, err := ev.Evaluate(ctx, call)
	require.NoError(t, err)
	require.True(t, c.Equal(argCID))
}

func TestEvaluateAsyncFutureObservesResult(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	ev := New(st, 1, nil)
	defer ev.Close()

	ev.RegisterFunc("double", func(ctx context.Context, e eval.Evaluator, call name.Name) (node.Node, error) {
		arg, _, err := st.GetOptional(ctx, call.CallArgs()[0])
		require.NoError(t, err)
		return node.Int(arg.AsInt() * 2), nil
	})

	argCID, err := st.Put(ctx, node.Int(21))
	require.NoError(t, err)
	call, err := name.FromCall("double", []cid.CID{argCID})
	require.NoError(t, err)

	f := ev.EvaluateAsync(ctx, call)
	c, err := f.Get(ctx)
	require.NoError(t, err)

	n, ok, err := st.GetOptional(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), n.AsInt())

	f.FreeNode() // no-op for the local future; must not panic or alter the result

	c2, ok := f.CheckForResult()
	require.True(t, ok)
	require.True(t, c2.Equal(c))
}

func TestEvaluateUnregisteredFuncIsFatal(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	// Zero workers: the call is driven on this goroutine by Get, so the
	// stubbed exit hook fires synchronously.
	ev := New(st, 0, nil)
	defer ev.Close()

	var exitCode int
	exited := false
	restore := evalfatal.SetExitForTesting(func(code int) {
		exited = true
		exitCode = code
	})
	defer restore()

	argCID, err := st.Put(ctx, node.Int(1))
	require.NoError(t, err)
	call, err := name.FromCall("missing", []cid.CID{argCID})
	require.NoError(t, err)

	_, err = ev.Evaluate(ctx, call)
	require.True(t, exited, "a missing implementation with nothing cached must terminate the process")
	require.Equal(t, 1, exitCode)
	require.ErrorIs(t, err, eval.ErrNoSuchFunc)
}

func TestCloseDrainsQueueBeforeExiting(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	ev := New(st, 1, nil)

	ev.RegisterFunc("noop", func(ctx context.Context, e eval.Evaluator, call name.Name) (node.Node, error) {
		return node.Null(), nil
	})

	argCID, err := st.Put(ctx, node.Int(1))
	require.NoError(t, err)
	call, err := name.FromCall("noop", []cid.CID{argCID})
	require.NoError(t, err)

	f := ev.EvaluateAsync(ctx, call)
	require.NoError(t, ev.Close())

	_, err = f.Get(ctx)
	require.NoError(t, err)
}
