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

// Package eval defines the memoizing evaluator contract shared by the
// local thread-pool implementation (eval/local) and the HTTP client/worker
// implementation (eval/remote).
package eval

import (
	"context"
	"fmt"
	"sync"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
)

// Func is a registered evaluator function: given the evaluator that owns it
// (so it can itself call Evaluate/EvaluateAsync for nested calls) and the
// Call it is computing, it returns the result Node for the evaluator to
// store.
type Func func(ctx context.Context, e Evaluator, call name.Name) (node.Node, error)

// ErrNoSuchFunc identifies a Call whose func has no registered
// implementation and no cached result. Evaluators treat this state as
// fatal (internal/evalfatal terminates the process with a diagnostic);
// the error value itself only surfaces under evalfatal's test hook.
var ErrNoSuchFunc = fmt.Errorf("eval: no implementation registered and no cached result")

// Evaluator owns a Store, a function registry, and a thread pool.
type Evaluator interface {
	// RegisterFunc binds name to fn. Not thread-safe: must happen before any
	// Evaluate/EvaluateAsync call.
	RegisterFunc(fn string, f Func)

	// Evaluate blocks until call's result CID is available.
	Evaluate(ctx context.Context, call name.Name) (cid.CID, error)

	// EvaluateAsync schedules call for background evaluation and returns
	// immediately with a Future.
	EvaluateAsync(ctx context.Context, call name.Name) Future

	// Close signals worker threads to exit. Outstanding futures are not
	// cancelled.
	Close() error
}

// Future observes the eventual result of one evaluateAsync call. It is safe to call any method from multiple goroutines.
type Future interface {
	// Get blocks until the result is ready and returns its CID, driving the
	// call to completion on the calling goroutine if no worker has started
	// it yet.
	Get(ctx context.Context) (cid.CID, error)
	// Wait blocks until the result is ready, discarding the value.
	Wait(ctx context.Context) error
	// CheckForResult reports whether the result is ready without blocking.
	CheckForResult() (cid.CID, bool)
	// GetCID is Get without a context, for callers already holding a ready
	// future (e.g. after CheckForResult reported true).
	GetCID() (cid.CID, error)
	// FreeNode drops any cached Node body the future may be holding,
	// keeping only the CID.
	FreeNode()
}

// Progress holds the monotonic queued/started/finished counters every
// evaluator maintains.
type Progress struct {
	mu                        sync.Mutex
	queued, started, finished int64
}

// Queued increments the queued counter.
func (p *Progress) Queued() {
	p.mu.Lock()
	p.queued++
	p.mu.Unlock()
}

// Started increments the started counter.
func (p *Progress) Started() {
	p.mu.Lock()
	p.started++
	p.mu.Unlock()
}

// Finished increments the finished counter.
func (p *Progress) Finished() {
	p.mu.Lock()
	p.finished++
	p.mu.Unlock()
}

// Snapshot returns the current (queued, started, finished) counters.
func (p *Progress) Snapshot() (queued, started, finished int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued, p.started, p.finished
}

// Line renders the best-effort progress line:
// "(queued-started) -> (started-finished) -> finished  starting|finished  <call>".
func (p *Progress) Line(phase string, call name.Name) string {
	queued, started, finished := p.Snapshot()
	rendered, err := name.Format(call)
	if err != nil {
		rendered = "<call>"
	}
	return fmt.Sprintf("%d -> %d -> %d  %s  %s", queued-started, started-finished, finished, phase, rendered)
}
