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

package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/node/cbor"
	"github.com/kraklabs/memodb/store/memstore"
)

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	s := New(st, nil, 0, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body []byte) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCIDBlockPutAndGet(t *testing.T) {
	ts, _ := newTestServer(t)

	n := node.MustString("hello")
	resp := doRequest(t, ts, http.MethodPost, "/cid", cbor.Save(n))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	loc := resp.Header.Get("Location")
	require.NotEmpty(t, loc)

	getResp := doRequest(t, ts, http.MethodGet, loc, nil)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	body, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	got, err := cbor.Load(body)
	require.NoError(t, err)
	require.True(t, node.Equal(n, got))
}

func TestCIDBlockMissingIs404(t *testing.T) {
	ts, st := newTestServer(t)
	c, err := cid.Calculate(cid.Raw, []byte("nope"), cid.Blake2b256)
	require.NoError(t, err)
	_ = st

	resp := doRequest(t, ts, http.MethodGet, "/cid/"+c.String(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHeadSetGetDelete(t *testing.T) {
	ts, st := newTestServer(t)
	c, err := st.Put(t.Context(), node.Int(5))
	require.NoError(t, err)

	putResp := doRequest(t, ts, http.MethodPut, "/head/release", cbor.Save(node.Link(c)))
	require.Equal(t, http.StatusCreated, putResp.StatusCode)

	getResp := doRequest(t, ts, http.MethodGet, "/head/release", nil)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	body, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	n, err := cbor.Load(body)
	require.NoError(t, err)
	require.True(t, n.AsLink().Equal(c))

	delResp := doRequest(t, ts, http.MethodDelete, "/head/release", nil)
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	missingResp := doRequest(t, ts, http.MethodGet, "/head/release", nil)
	require.Equal(t, http.StatusNotFound, missingResp.StatusCode)
}

func TestCallEvaluateReturns202ThenWorkerPullsAndResolves(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := t.Context()

	argCID, err := st.Put(ctx, node.Int(7))
	require.NoError(t, err)
	callName, err := name.FromCall("square", []cid.CID{argCID})
	require.NoError(t, err)
	path, err := name.Format(callName)
	require.NoError(t, err)

	evalResp := doRequest(t, ts, http.MethodPost, path+"/evaluate", nil)
	require.Equal(t, http.StatusAccepted, evalResp.StatusCode)

	descriptor, err := node.Map(map[string]node.Node{"funcs": node.List([]node.Node{node.MustString("square")})})
	require.NoError(t, err)
	descriptorCID, err := st.Put(ctx, descriptor)
	require.NoError(t, err)

	workResp := doRequest(t, ts, http.MethodPost, "/worker", cbor.Save(node.Link(descriptorCID)))
	require.Equal(t, http.StatusOK, workResp.StatusCode)
	body, err := io.ReadAll(workResp.Body)
	require.NoError(t, err)
	jobNode, err := cbor.Load(body)
	require.NoError(t, err)
	require.Equal(t, node.KindMap, jobNode.Kind())

	resultCID, err := st.Put(ctx, node.Int(49))
	require.NoError(t, err)
	putResp := doRequest(t, ts, http.MethodPut, path, cbor.Save(node.Link(resultCID)))
	require.Equal(t, http.StatusCreated, putResp.StatusCode)

	finalResp := doRequest(t, ts, http.MethodPost, path+"/evaluate", nil)
	require.Equal(t, http.StatusOK, finalResp.StatusCode)
	finalBody, err := io.ReadAll(finalResp.Body)
	require.NoError(t, err)
	finalNode, err := cbor.Load(finalBody)
	require.NoError(t, err)
	require.True(t, finalNode.AsLink().Equal(resultCID))
}

func TestCallCollectionListsFuncs(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := t.Context()

	argCID, err := st.Put(ctx, node.Int(2))
	require.NoError(t, err)
	resultCID, err := st.Put(ctx, node.Int(4))
	require.NoError(t, err)
	callName, err := name.FromCall("square", []cid.CID{argCID})
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, callName, resultCID))

	resp := doRequest(t, ts, http.MethodGet, "/call", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	listNode, err := cbor.Load(body)
	require.NoError(t, err)
	require.Equal(t, node.KindList, listNode.Kind())
	require.Len(t, listNode.AsList(), 1)
	require.Equal(t, "/call/square", listNode.AsList()[0].AsString())
}

func TestUnknownPathIs404WithTextBody(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := doRequest(t, ts, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}
