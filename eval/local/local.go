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

// Package local implements eval.Evaluator with a mutex-protected FIFO queue
// drained by a fixed worker pool.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/eval"
	"github.com/kraklabs/memodb/internal/evalfatal"
	"github.com/kraklabs/memodb/internal/metrics"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/store"
)

// Evaluator is the local thread-pool implementation.
type Evaluator struct {
	st     store.Store
	logger *slog.Logger

	mu    sync.Mutex
	funcs map[string]eval.Func

	progress eval.Progress

	queue   []*future
	queueCV *sync.Cond

	closing bool
	wg      sync.WaitGroup

	// inflight de-duplicates concurrent Evaluate calls for the same Call
	// string, so the function runs at most once per distinct call.
	inflight map[string]*future
}

// New creates an Evaluator backed by st, running workers goroutines. A
// workers value of 0 means futures are only driven lazily by Future.Get.
func New(st store.Store, workers int, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{
		st:       st,
		logger:   logger,
		funcs:    make(map[string]eval.Func),
		inflight: make(map[string]*future),
	}
	e.queueCV = sync.NewCond(&e.mu)
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.workerLoop()
	}
	return e
}

func (e *Evaluator) RegisterFunc(fn string, f eval.Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[fn] = f
}

// future is the local implementation of eval.Future: a call plus a oneshot
// result channel, driven either by a worker goroutine or lazily by Get.
type future struct {
	e    *Evaluator
	call name.Name
	key  string

	once   sync.Once
	done   chan struct{}
	result cid.CID
	err    error
}

func (e *Evaluator) Evaluate(ctx context.Context, call name.Name) (cid.CID, error) {
	f := e.EvaluateAsync(ctx, call)
	return f.Get(ctx)
}

func (e *Evaluator) EvaluateAsync(ctx context.Context, call name.Name) eval.Future {
	key := callKey(call)

	e.mu.Lock()
	if existing, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		return existing
	}
	f := &future{e: e, call: call, key: key, done: make(chan struct{})}
	e.inflight[key] = f
	e.progress.Queued()
	metrics.Eval.Queued.Inc()

	e.queue = append(e.queue, f)
	e.queueCV.Signal()
	e.mu.Unlock()

	return f
}

func callKey(n name.Name) string {
	s, err := name.Format(n)
	if err != nil {
		return fmt.Sprintf("%v", n)
	}
	return s
}

func (e *Evaluator) workerLoop() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closing {
			e.queueCV.Wait()
		}
		if len(e.queue) == 0 && e.closing {
			e.mu.Unlock()
			return
		}
		f := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(f)
	}
}

// run drives f to completion. It is safe to call concurrently for distinct
// futures, and safe to call more than once for the same future (the
// sync.Once guard makes every call after the first a no-op wait).
func (e *Evaluator) run(f *future) {
	f.once.Do(func() {
		e.progress.Started()
		metrics.Eval.Started.Inc()
		metrics.Eval.InFlight.Inc()
		e.logBestEffort("starting", f.call)

		c, err := e.evaluateOnce(context.Background(), f.call)

		metrics.Eval.InFlight.Dec()
		e.progress.Finished()
		metrics.Eval.Finished.Inc()
		e.logBestEffort("finished", f.call)

		f.result, f.err = c, err
		close(f.done)

		e.mu.Lock()
		delete(e.inflight, f.key)
		e.mu.Unlock()
	})
}

// evaluateOnce is the evaluate algorithm: resolve first,
// otherwise run the registered function, put, set.
func (e *Evaluator) evaluateOnce(ctx context.Context, call name.Name) (cid.CID, error) {
	if existing, ok, err := e.st.ResolveOptional(ctx, call); err != nil {
		return cid.CID{}, err
	} else if ok {
		return existing, nil
	}

	e.mu.Lock()
	fn, ok := e.funcs[call.CallFunc()]
	e.mu.Unlock()
	if !ok {
		// A missing implementation with nothing cached is programmer
		// error: terminate with a diagnostic. The error return below is
		// only reachable under evalfatal's test hook.
		evalfatal.Fatalf("no implementation registered for %q and no cached result for %s", call.CallFunc(), callKey(call))
		return cid.CID{}, fmt.Errorf("%w: %s", eval.ErrNoSuchFunc, call.CallFunc())
	}

	n, err := fn(ctx, e, call)
	if err != nil {
		return cid.CID{}, fmt.Errorf("eval: function %s failed: %w", call.CallFunc(), err)
	}

	c, err := e.st.Put(ctx, n)
	if err != nil {
		return cid.CID{}, fmt.Errorf("eval: storing result of %s: %w", call.CallFunc(), err)
	}
	if err := e.st.Set(ctx, call, c); err != nil {
		return cid.CID{}, fmt.Errorf("eval: binding result of %s: %w", call.CallFunc(), err)
	}
	return c, nil
}

// logBestEffort logs a progress line without ever blocking evaluation: a
// failed TryLock just skips the line.
func (e *Evaluator) logBestEffort(phase string, call name.Name) {
	if e.mu.TryLock() {
		e.mu.Unlock()
		e.logger.Info(e.progress.Line(phase, call))
	}
}

func (e *Evaluator) Close() error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()
	e.queueCV.Broadcast()
	e.wg.Wait()
	return nil
}

func (f *future) Get(ctx context.Context) (cid.CID, error) {
	// Lazily drive the call if no worker has picked it up.
	f.e.run(f)
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return cid.CID{}, ctx.Err()
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
		return cid.CID{}, false
	}
}

func (f *future) GetCID() (cid.CID, error) {
	<-f.done
	return f.result, f.err
}

// FreeNode is a no-op here: the local future never retains a Node body,
// only the result CID, so there is nothing to drop.
func (f *future) FreeNode() {}
