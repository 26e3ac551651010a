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

// Package metrics holds the Prometheus collectors exposed on the server's
// /metrics endpoint: block/name table sizes, evaluator queue depth, and
// per-operation request latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store counts the block table and name table.
var Store = struct {
	Blocks prometheus.Gauge
	Names  prometheus.Gauge
	Puts   prometheus.Counter
	Gets   prometheus.Counter
}{
	Blocks: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "memodb",
		Subsystem: "store",
		Name:      "blocks",
		Help:      "Number of blocks currently held by the store.",
	}),
	Names: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "memodb",
		Subsystem: "store",
		Name:      "names",
		Help:      "Number of Head/Call bindings currently held by the store.",
	}),
	Puts: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "memodb",
		Subsystem: "store",
		Name:      "puts_total",
		Help:      "Total number of Put calls.",
	}),
	Gets: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "memodb",
		Subsystem: "store",
		Name:      "gets_total",
		Help:      "Total number of GetOptional calls.",
	}),
}

// Eval tracks the queued/started/finished progress counters every
// requires the evaluator to maintain.
var Eval = struct {
	Queued   prometheus.Counter
	Started  prometheus.Counter
	Finished prometheus.Counter
	InFlight prometheus.Gauge
}{
	Queued: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "memodb",
		Subsystem: "eval",
		Name:      "queued_total",
		Help:      "Total number of calls enqueued for evaluation.",
	}),
	Started: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "memodb",
		Subsystem: "eval",
		Name:      "started_total",
		Help:      "Total number of calls that began executing.",
	}),
	Finished: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "memodb",
		Subsystem: "eval",
		Name:      "finished_total",
		Help:      "Total number of calls that finished executing (success or error).",
	}),
	InFlight: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "memodb",
		Subsystem: "eval",
		Name:      "in_flight",
		Help:      "Number of calls currently executing.",
	}),
}

// RequestDuration records server-side latency per RPC method.
var RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "memodb",
	Subsystem: "transport",
	Name:      "request_duration_seconds",
	Help:      "Server-side latency of transport requests, by method.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method"})
