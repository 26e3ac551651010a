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

// Package transport defines the wire surface shared by transport/server and
// transport/client: the HTTP method/path/body convention of the wire
// protocol.
package transport

// ContentTypeCBOR is the canonical body content type.
const ContentTypeCBOR = "application/cbor"

// Request is method + URI + optional body, independent of any particular
// HTTP library.
type Request struct {
	Method string
	Path   string
	Body   []byte // DAG-CBOR, or nil
}

// Response is status + optional Location header + optional body.
type Response struct {
	Status   int
	Location string
	Body     []byte // DAG-CBOR, or nil
}

// Path templates for the wire protocol.
const (
	PathCID  = "/cid/"
	PathHead = "/head/"
	PathCall = "/call/"

	PathWorker = "/worker"

	pathCIDCollection  = "/cid"
	pathHeadCollection = "/head"
	pathCallCollection = "/call"
)
