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

// Package remote implements eval.Evaluator as an HTTP client against a
// server hosting transport/server: evaluate polls POST .../evaluate, and
// while waiting may itself pull and run a job via POST /worker to avoid
// deadlocking a single-client deployment.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/eval"
	"github.com/kraklabs/memodb/internal/evalfatal"
	"github.com/kraklabs/memodb/internal/metrics"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/transport/client"
)

// PollInterval is the fixed delay between evaluate retries on 202
// Accepted.
const PollInterval = time.Second

// Evaluator drives evaluation through a remote server. RegisterFunc still
// binds local implementations: a remote.Evaluator can itself act as a
// worker by answering PullWork, which is exactly how the "work while
// waiting" behavior is implemented.
type Evaluator struct {
	c      *client.Client
	logger *slog.Logger

	mu       sync.Mutex
	funcs    map[string]eval.Func
	progress eval.Progress

	descriptor     cid.CID
	descriptorOnce sync.Once
	descriptorErr  error
}

// New creates an Evaluator that talks to the server at baseURL.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		c:      client.New(baseURL, timeout),
		logger: logger,
		funcs:  make(map[string]eval.Func),
	}
}

func (e *Evaluator) RegisterFunc(fn string, f eval.Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[fn] = f
}

// workerDescriptor lazily stores {funcs: [registered names...]} and returns
// its CID, so PullWork requests can identify this Evaluator's capabilities
// to the server.
func (e *Evaluator) workerDescriptor(ctx context.Context) (cid.CID, error) {
	e.descriptorOnce.Do(func() {
		e.mu.Lock()
		names := make([]node.Node, 0, len(e.funcs))
		for fn := range e.funcs {
			names = append(names, node.MustString(fn))
		}
		e.mu.Unlock()

		descriptorNode, err := node.Map(map[string]node.Node{"funcs": node.List(names)})
		if err != nil {
			e.descriptorErr = err
			return
		}
		e.descriptor, e.descriptorErr = e.c.PutBlock(ctx, descriptorNode)
	})
	return e.descriptor, e.descriptorErr
}

func (e *Evaluator) Evaluate(ctx context.Context, call name.Name) (cid.CID, error) {
	e.progress.Queued()
	metrics.Eval.Queued.Inc()
	e.progress.Started()
	metrics.Eval.Started.Inc()
	e.logBestEffort("starting", call)
	defer func() {
		e.progress.Finished()
		metrics.Eval.Finished.Inc()
		e.logBestEffort("finished", call)
	}()

	for {
		result, ready, err := e.c.Evaluate(ctx, call)
		if err != nil {
			return cid.Undef, err
		}
		if ready {
			return result, nil
		}

		if worked, err := e.pullAndRunOne(ctx); err != nil {
			e.logger.Warn("remote evaluator: worker pull failed", "error", err)
		} else if worked {
			continue // try the original call again without sleeping
		}

		select {
		case <-time.After(PollInterval):
		case <-ctx.Done():
			return cid.Undef, ctx.Err()
		}
	}
}

// pullAndRunOne polls /worker once; if a job is handed back, it runs the
// locally registered function for it and PUTs the result. This is how a
// remote.Evaluator avoids deadlocking when it is the only client able to
// run the very function its own Evaluate call is waiting on.
func (e *Evaluator) pullAndRunOne(ctx context.Context) (bool, error) {
	descriptor, err := e.workerDescriptor(ctx)
	if err != nil {
		return false, err
	}
	job, ok, err := e.c.PullWork(ctx, descriptor)
	if err != nil || !ok {
		return false, err
	}

	e.mu.Lock()
	fn, ok := e.funcs[job.CallFunc()]
	e.mu.Unlock()
	if !ok {
		// The server only hands out jobs matching our advertised funcs;
		// being given one we cannot run is programmer error, and the call
		// has no cached result or it would not be pending. Terminate with
		// a diagnostic. The error return below is only reachable under
		// evalfatal's test hook.
		evalfatal.Fatalf("no implementation registered for %q and no cached result", job.CallFunc())
		return false, fmt.Errorf("%w: %s", eval.ErrNoSuchFunc, job.CallFunc())
	}

	resultNode, err := fn(ctx, e, job)
	if err != nil {
		return false, fmt.Errorf("eval/remote: function %s failed: %w", job.CallFunc(), err)
	}
	resultCID, err := e.c.PutBlock(ctx, resultNode)
	if err != nil {
		return false, err
	}
	if err := e.c.SetName(ctx, job, resultCID); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Evaluator) EvaluateAsync(ctx context.Context, call name.Name) eval.Future {
	f := &future{done: make(chan struct{})}
	go func() {
		f.result, f.err = e.Evaluate(ctx, call)
		close(f.done)
	}()
	return f
}

func (e *Evaluator) logBestEffort(phase string, call name.Name) {
	if e.mu.TryLock() {
		e.mu.Unlock()
		e.logger.Info(e.progress.Line(phase, call))
	}
}

func (e *Evaluator) Close() error { return nil }

// future adapts a single background Evaluate call to eval.Future.
type future struct {
	done   chan struct{}
	result cid.CID
	err    error
}

func (f *future) Get(ctx context.Context) (cid.CID, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return cid.Undef, ctx.Err()
	}
}

func (f *future) Wait(ctx context.Context) error {
	_, err := f.Get(ctx)
	return err
}

func (f *future) CheckForResult() (cid.CID, bool) {
	select {
	case <-f.done:
		return f.result, f.err == nil
	default:
		return cid.Undef, false
	}
}

func (f *future) GetCID() (cid.CID, error) {
	<-f.done
	return f.result, f.err
}

func (f *future) FreeNode() {}
