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

// Package client implements the HTTP side of the wire protocol consumed by
// store/httpstore and eval/remote: one Client per remote store identity,
// pooling connections the way net/http already does for a shared
// *http.Client.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/node/cbor"
)

// Client talks to one remote memodb server. A single Client is meant to be
// shared by every caller addressing that server: the underlying
// *http.Client reuses a pooled set of persistent connections
// (http.Transport.MaxIdleConnsPerHost), so distinct Clients are only
// needed for distinct remote store identities.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the server at baseURL (no trailing slash),
// a plain timeout-bounded http.Client with modest per-host connection
// reuse
// to talk to a running server.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
			},
		},
	}
}

func (c *Client) url(path string) string { return c.baseURL + path }

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("client: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/cbor")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func drainAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// GetBlock fetches the block for c (GET /cid/<cid>).
func (c *Client) GetBlock(ctx context.Context, target cid.CID) (node.Node, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/cid/"+target.String(), nil)
	if err != nil {
		return node.Node{}, false, err
	}
	body, err := drainAndClose(resp)
	if err != nil {
		return node.Node{}, false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		n, err := cbor.Load(body)
		return n, true, err
	case http.StatusNotFound:
		return node.Node{}, false, nil
	default:
		return node.Node{}, false, unexpectedStatus(resp, body)
	}
}

// PutBlock stores n (POST /cid), returning the CID from the Location
// header.
func (c *Client) PutBlock(ctx context.Context, n node.Node) (cid.CID, error) {
	resp, err := c.do(ctx, http.MethodPost, "/cid", cbor.Save(n))
	if err != nil {
		return cid.Undef, err
	}
	body, err := drainAndClose(resp)
	if err != nil {
		return cid.Undef, err
	}
	if resp.StatusCode != http.StatusCreated {
		return cid.Undef, unexpectedStatus(resp, body)
	}
	loc := resp.Header.Get("Location")
	return cid.Parse(strings.TrimPrefix(loc, "/cid/"))
}

// ResolveName resolves a Head or Call name to a CID (GET /head/<name> or
// GET /call/<func>/<args>).
func (c *Client) ResolveName(ctx context.Context, n name.Name) (cid.CID, bool, error) {
	path, err := name.Format(n)
	if err != nil {
		return cid.Undef, false, err
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return cid.Undef, false, err
	}
	body, err := drainAndClose(resp)
	if err != nil {
		return cid.Undef, false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		linkNode, err := cbor.Load(body)
		if err != nil {
			return cid.Undef, false, err
		}
		return linkNode.AsLink(), true, nil
	case http.StatusNotFound:
		return cid.Undef, false, nil
	default:
		return cid.Undef, false, unexpectedStatus(resp, body)
	}
}

// SetName binds n to target (PUT /head/<name> or PUT /call/<func>/<args>).
func (c *Client) SetName(ctx context.Context, n name.Name, target cid.CID) error {
	path, err := name.Format(n)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, path, cbor.Save(node.Link(target)))
	if err != nil {
		return err
	}
	body, err := drainAndClose(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return unexpectedStatus(resp, body)
	}
	return nil
}

// HeadDelete removes a Head binding (DELETE /head/<name>).
func (c *Client) HeadDelete(ctx context.Context, headName string) error {
	n, err := name.FromHead(headName)
	if err != nil {
		return err
	}
	path, err := name.Format(n)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	body, err := drainAndClose(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return unexpectedStatus(resp, body)
	}
	return nil
}

// CallInvalidate removes every Call binding for fn (DELETE /call/<func>).
func (c *Client) CallInvalidate(ctx context.Context, fn string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/call/"+fn, nil)
	if err != nil {
		return err
	}
	body, err := drainAndClose(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return unexpectedStatus(resp, body)
	}
	return nil
}

// Evaluate requests evaluation of call (POST /call/<func>/<args>/evaluate).
// ready is false on a 202 Accepted: the caller should retry after a
// delay.
func (c *Client) Evaluate(ctx context.Context, call name.Name) (result cid.CID, ready bool, err error) {
	path, err := name.Format(call)
	if err != nil {
		return cid.Undef, false, err
	}
	resp, err := c.do(ctx, http.MethodPost, path+"/evaluate", nil)
	if err != nil {
		return cid.Undef, false, err
	}
	body, err := drainAndClose(resp)
	if err != nil {
		return cid.Undef, false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		linkNode, err := cbor.Load(body)
		if err != nil {
			return cid.Undef, false, err
		}
		return linkNode.AsLink(), true, nil
	case http.StatusAccepted:
		return cid.Undef, false, nil
	default:
		return cid.Undef, false, unexpectedStatus(resp, body)
	}
}

// PullWork polls for a pending Call this worker can run, identifying itself
// by the CID of its registered-funcs descriptor node (POST /worker). It
// returns ok=false when nothing is pending.
func (c *Client) PullWork(ctx context.Context, workerDescriptor cid.CID) (call name.Name, ok bool, err error) {
	resp, err := c.do(ctx, http.MethodPost, "/worker", cbor.Save(node.Link(workerDescriptor)))
	if err != nil {
		return name.Name{}, false, err
	}
	body, err := drainAndClose(resp)
	if err != nil {
		return name.Name{}, false, err
	}
	if resp.StatusCode != http.StatusOK {
		return name.Name{}, false, unexpectedStatus(resp, body)
	}
	jobNode, err := cbor.Load(body)
	if err != nil {
		return name.Name{}, false, err
	}
	if jobNode.Kind() == node.KindNull {
		return name.Name{}, false, nil
	}
	fn, args, err := parseJobNode(jobNode)
	if err != nil {
		return name.Name{}, false, err
	}
	call, err = name.FromCall(fn, args)
	return call, true, err
}

func parseJobNode(n node.Node) (fn string, args []cid.CID, err error) {
	for _, e := range n.AsMap() {
		switch e.Key {
		case "func":
			fn = e.Value.AsString()
		case "args":
			for _, item := range e.Value.AsList() {
				args = append(args, item.AsLink())
			}
		}
	}
	if fn == "" {
		return "", nil, fmt.Errorf("client: worker job missing func")
	}
	return fn, args, nil
}

func unexpectedStatus(resp *http.Response, body []byte) error {
	return fmt.Errorf("client: unexpected status %d: %s", resp.StatusCode, string(body))
}
