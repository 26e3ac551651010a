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

// Package server implements the HTTP side of the wire protocol, built
// directly on net/http — no router library.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/eval"
	"github.com/kraklabs/memodb/internal/metrics"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/node/cbor"
	"github.com/kraklabs/memodb/store"
)

// Server answers the wire protocol against a Store, and
// optionally cooperates with remote workers pulling evaluation jobs.
type Server struct {
	st     store.Store
	ev     eval.Evaluator // nil if this server does not host evaluation
	logger *slog.Logger

	// sem bounds outstanding responses. The protocol describes this as a
	// per-connection limit (default 8); net/http hides raw connections
	// from handlers, so this implementation approximates it with one
	// server-wide semaphore sized to maxConnections, documented as a
	// deliberate simplification.
	sem chan struct{}

	mu      sync.Mutex
	pending []name.Name // Calls awaiting evaluation, not yet claimed by a worker
	claimed map[string]name.Name
}

// New creates a Server. maxConnections bounds outstanding responses
// (default 8 if <= 0).
func New(st store.Store, ev eval.Evaluator, maxConnections int, logger *slog.Logger) *Server {
	if maxConnections <= 0 {
		maxConnections = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		st:      st,
		ev:      ev,
		logger:  logger,
		sem:     make(chan struct{}, maxConnections),
		claimed: make(map[string]name.Name),
	}
}

// Handler returns the http.Handler implementing the wire protocol.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/cid/", s.limit(s.handleCIDItem))
	mux.HandleFunc("/cid", s.limit(s.handleCIDCollection))
	mux.HandleFunc("/head/", s.limit(s.handleHeadItem))
	mux.HandleFunc("/head", s.limit(s.handleHeadCollection))
	mux.HandleFunc("/call/", s.limit(s.handleCallPath))
	mux.HandleFunc("/call", s.limit(s.handleCallCollection))
	mux.HandleFunc("/worker", s.limit(s.handleWorker))
	return mux
}

func (s *Server) limit(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		start := time.Now()
		h(w, r)
		metrics.RequestDuration.WithLabelValues(r.Method + " " + r.URL.Path).Observe(time.Since(start).Seconds())
	}
}

// Run serves on addr until the process receives SIGINT/SIGTERM, mirroring
// shutting down gracefully on SIGINT/SIGTERM.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		s.logger.Info("shutting down memodb server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	s.logger.Info("memodb server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func writeCBOR(w http.ResponseWriter, status int, n node.Node) {
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(status)
	_, _ = w.Write(cbor.Save(n))
}

func readCBORNode(r *http.Request) (node.Node, error) {
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return node.Node{}, fmt.Errorf("server: reading body: %w", err)
	}
	if len(buf) == 0 {
		return node.Node{}, fmt.Errorf("server: missing request body")
	}
	return cbor.Load(buf)
}

// --- /cid ---

func (s *Server) handleCIDItem(w http.ResponseWriter, r *http.Request) {
	c, err := cid.Parse(strings.TrimPrefix(r.URL.Path, "/cid/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cid: "+err.Error())
		return
	}
	switch r.Method {
	case http.MethodGet:
		n, ok, err := s.st.GetOptional(r.Context(), c)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		metrics.Store.Gets.Inc()
		writeCBOR(w, http.StatusOK, n)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCIDCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	n, err := readCBORNode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.st.Put(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.Store.Puts.Inc()
	w.Header().Set("Location", "/cid/"+c.String())
	w.WriteHeader(http.StatusCreated)
}

// --- /head ---

func (s *Server) handleHeadItem(w http.ResponseWriter, r *http.Request) {
	headName := strings.TrimPrefix(r.URL.Path, "/head/")
	n, err := name.FromHead(headName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, ok, err := s.st.ResolveOptional(r.Context(), n)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeCBOR(w, http.StatusOK, node.Link(c))
	case http.MethodPut:
		cidNode, err := readCBORNode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.st.Set(r.Context(), n, cidNode.AsLink()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		if err := s.st.HeadDelete(r.Context(), headName); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHeadCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var uris []node.Node
	err := s.st.EachHead(r.Context(), func(headName string, _ cid.CID) bool {
		n, ferr := name.FromHead(headName)
		if ferr != nil {
			return true
		}
		formatted, ferr := name.Format(n)
		if ferr != nil {
			return true
		}
		uris = append(uris, node.MustString(formatted))
		return true
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeCBOR(w, http.StatusOK, node.List(uris))
}

// --- /call ---

// handleCallPath dispatches every path under /call/ except the bare
// collection, which ServeMux routes separately: /call/<func>,
// /call/<func>/<args>, and /call/<func>/<args>/evaluate.
func (s *Server) handleCallPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/call/")
	if rest == "" {
		s.handleCallCollection(w, r)
		return
	}
	if strings.HasSuffix(rest, "/evaluate") {
		s.handleCallEvaluate(w, r, strings.TrimSuffix(rest, "/evaluate"))
		return
	}
	segs := strings.SplitN(rest, "/", 2)
	if len(segs) == 1 {
		s.handleCallFunc(w, r, segs[0])
		return
	}
	s.handleCallArgs(w, r, segs[0], segs[1])
}

func (s *Server) handleCallCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	fl, ok := s.st.(store.FuncLister)
	if !ok {
		// Backend cannot enumerate funcs; the collection exists but is
		// opaque.
		writeCBOR(w, http.StatusOK, node.List(nil))
		return
	}
	funcs, err := fl.ListFuncs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	uris := make([]node.Node, 0, len(funcs))
	for _, fn := range funcs {
		uris = append(uris, node.MustString("/call/"+fn))
	}
	writeCBOR(w, http.StatusOK, node.List(uris))
}

func (s *Server) handleCallFunc(w http.ResponseWriter, r *http.Request, fn string) {
	switch r.Method {
	case http.MethodGet:
		var uris []node.Node
		err := s.st.EachCall(r.Context(), fn, func(args []cid.CID, _ cid.CID) bool {
			n, ferr := name.FromCall(fn, args)
			if ferr != nil {
				return true
			}
			str, ferr := name.Format(n)
			if ferr != nil {
				return true
			}
			uris = append(uris, node.MustString(str))
			return true
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeCBOR(w, http.StatusOK, node.List(uris))
	case http.MethodDelete:
		if err := s.st.CallInvalidate(r.Context(), fn); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func parseCallName(fn, argsPath string) (name.Name, error) {
	return name.Parse("/call/" + fn + "/" + argsPath)
}

func (s *Server) handleCallArgs(w http.ResponseWriter, r *http.Request, fn, argsPath string) {
	n, err := parseCallName(fn, argsPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, ok, err := s.st.ResolveOptional(r.Context(), n)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeCBOR(w, http.StatusOK, node.Link(c))
	case http.MethodPut:
		cidNode, err := readCBORNode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.st.Set(r.Context(), n, cidNode.AsLink()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.unclaim(n)
		w.WriteHeader(http.StatusCreated)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCallEvaluate(w http.ResponseWriter, r *http.Request, rest string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	segs := strings.SplitN(rest, "/", 2)
	if len(segs) != 2 {
		writeError(w, http.StatusBadRequest, "expected /call/<func>/<args>/evaluate")
		return
	}
	n, err := parseCallName(segs[0], segs[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, ok, err := s.st.ResolveOptional(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ok {
		writeCBOR(w, http.StatusOK, node.Link(c))
		return
	}

	if s.ev != nil {
		// We host evaluation ourselves: drive it synchronously. The HTTP
		// client already implements poll-on-202 for the slow path; since we
		// can evaluate directly, doing so here just skips a round trip.
		c, err := s.ev.Evaluate(r.Context(), n)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeCBOR(w, http.StatusOK, node.Link(c))
		return
	}

	s.enqueuePending(n)
	w.WriteHeader(http.StatusAccepted)
}

// --- /worker ---

// workerFuncs reads the func list from a worker's descriptor node:
// {funcs: [names...]}.
func workerFuncs(n node.Node) map[string]bool {
	out := map[string]bool{}
	if n.Kind() != node.KindMap {
		return out
	}
	for _, e := range n.AsMap() {
		if e.Key == "funcs" && e.Value.Kind() == node.KindList {
			for _, item := range e.Value.AsList() {
				if item.Kind() == node.KindString {
					out[item.AsString()] = true
				}
			}
		}
	}
	return out
}

func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cidNode, err := readCBORNode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	descriptor, ok, err := s.st.GetOptional(r.Context(), cidNode.AsLink())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "worker descriptor not found")
		return
	}
	funcs := workerFuncs(descriptor)

	call, ok := s.claimPending(funcs)
	if !ok {
		w.Header().Set("Content-Type", "application/cbor")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(cbor.Save(node.Null()))
		return
	}

	job, err := node.Map(map[string]node.Node{
		"func": node.MustString(call.CallFunc()),
		"args": argsToNode(call.CallArgs()),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeCBOR(w, http.StatusOK, job)
}

func argsToNode(args []cid.CID) node.Node {
	items := make([]node.Node, len(args))
	for i, a := range args {
		items[i] = node.Link(a)
	}
	return node.List(items)
}

func (s *Server) enqueuePending(n name.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := callKey(n)
	if _, claimed := s.claimed[key]; claimed {
		return
	}
	for _, p := range s.pending {
		if callKey(p) == key {
			return
		}
	}
	s.pending = append(s.pending, n)
}

func (s *Server) claimPending(funcs map[string]bool) (name.Name, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if len(funcs) == 0 || funcs[p.CallFunc()] {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.claimed[callKey(p)] = p
			return p, true
		}
	}
	return name.Name{}, false
}

func (s *Server) unclaim(n name.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, callKey(n))
}

func callKey(n name.Name) string {
	s, err := name.Format(n)
	if err != nil {
		return fmt.Sprintf("%v", n)
	}
	return s
}
