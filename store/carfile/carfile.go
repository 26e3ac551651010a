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

// Package carfile reads and writes CARv1 archives as a Store backend
// behind the car: scheme. An archive is written in one shot by
// Export — the header's single root is a DAG-CBOR node carrying the name
// table, followed by one section per reachable block — and opened
// read-only by Open: mutating operations on an opened archive return
// store.ErrReadOnly.
//
// Framing follows the CARv1 layout: a varint-length-prefixed DAG-CBOR
// header map {roots, version}, then varint-length-prefixed sections of
// CID bytes immediately followed by block bytes. Archives whose path ends
// in .zst (or whose leading bytes carry the zstd magic, on open) are
// compressed as a whole stream with zstd.
package carfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/kraklabs/memodb/cid"
	"github.com/kraklabs/memodb/ipld"
	"github.com/kraklabs/memodb/name"
	"github.com/kraklabs/memodb/node"
	"github.com/kraklabs/memodb/node/cbor"
	"github.com/kraklabs/memodb/store"
)

// maxSectionBytes bounds a single decoded section so a corrupt length
// prefix cannot force an enormous allocation.
const maxSectionBytes = 32 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// rootFormat identifies this module's name-table root node inside an
// otherwise generic CARv1 archive.
const rootFormat = "memodb car v1"

// Export walks every Head and Call of src, collects the blocks reachable
// from them, and writes a CAR archive to w whose root block encodes the
// name table. It returns the root CID. Blocks with identity-hash CIDs are
// not written as sections; their payload already lives in the links that
// reference them.
func Export(ctx context.Context, w io.Writer, src store.Store) (cid.CID, error) {
	blocks := map[string][]byte{} // CID string -> encoded block
	var order []string

	var collect func(c cid.CID) error
	collect = func(c cid.CID) error {
		if c.HashCodec == cid.Identity {
			// No section is written — the payload rides in the CID — but
			// its links may reach blocks that do need sections.
			n, err := ipld.LoadFromIPLD(c, nil)
			if err != nil {
				return err
			}
			var walkErr error
			walkLinks(n, func(target cid.CID) {
				if walkErr == nil {
					walkErr = collect(target)
				}
			})
			return walkErr
		}
		key := c.String()
		if _, seen := blocks[key]; seen {
			return nil
		}
		n, ok, err := src.GetOptional(ctx, c)
		if err != nil {
			return err
		}
		if !ok {
			// A name can point at a block another store holds; the archive
			// simply omits it.
			return nil
		}
		packaged, err := ipld.SaveAsIPLD(n, false)
		if err != nil {
			return err
		}
		blocks[key] = packaged.Bytes
		order = append(order, key)
		var walkErr error
		walkLinks(n, func(target cid.CID) {
			if walkErr == nil {
				walkErr = collect(target)
			}
		})
		return walkErr
	}

	headEntries := []node.MapEntry{}
	var iterErr error
	err := src.EachHead(ctx, func(headName string, c cid.CID) bool {
		if iterErr = collect(c); iterErr != nil {
			return false
		}
		headEntries = append(headEntries, node.MapEntry{Key: headName, Value: node.Link(c)})
		return true
	})
	if err == nil {
		err = iterErr
	}
	if err != nil {
		return cid.CID{}, fmt.Errorf("carfile: export heads: %w", err)
	}

	callEntries, err := collectCalls(ctx, src, collect)
	if err != nil {
		return cid.CID{}, fmt.Errorf("carfile: export calls: %w", err)
	}

	root, err := buildRootNode(headEntries, callEntries)
	if err != nil {
		return cid.CID{}, fmt.Errorf("carfile: building root: %w", err)
	}
	rootBytes := cbor.Save(root)
	rootCID, err := cid.Calculate(cid.DagCBOR, rootBytes, cid.Blake2b256)
	if err != nil {
		return cid.CID{}, fmt.Errorf("carfile: root cid: %w", err)
	}

	if err := writeArchive(w, rootCID, rootBytes, blocks, order); err != nil {
		return cid.CID{}, err
	}
	return rootCID, nil
}

// ExportFile is Export to a file path, compressing with zstd when the path
// ends in .zst.
func ExportFile(ctx context.Context, path string, src store.Store) (cid.CID, error) {
	f, err := os.Create(path)
	if err != nil {
		return cid.CID{}, fmt.Errorf("carfile: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var zw *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		zw, err = zstd.NewWriter(f)
		if err != nil {
			return cid.CID{}, fmt.Errorf("carfile: zstd: %w", err)
		}
		w = zw
	}

	root, err := Export(ctx, w, src)
	if err != nil {
		return cid.CID{}, err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return cid.CID{}, fmt.Errorf("carfile: zstd flush: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return cid.CID{}, fmt.Errorf("carfile: %w", err)
	}
	return root, nil
}

func collectCalls(ctx context.Context, src store.Store, collect func(cid.CID) error) ([]node.MapEntry, error) {
	// The Store interface enumerates calls per func, not funcs themselves;
	// the func set comes from the optional store.FuncLister extension.
	// Backends without it export heads only.
	type callRow struct {
		args   []cid.CID
		result cid.CID
	}
	perFunc := map[string][]callRow{}

	if fl, ok := src.(store.FuncLister); ok {
		funcs, err := fl.ListFuncs(ctx)
		if err != nil {
			return nil, err
		}
		for _, fn := range funcs {
			var iterErr error
			err := src.EachCall(ctx, fn, func(args []cid.CID, c cid.CID) bool {
				row := callRow{args: append([]cid.CID{}, args...), result: c}
				for _, a := range row.args {
					if iterErr = collect(a); iterErr != nil {
						return false
					}
				}
				if iterErr = collect(c); iterErr != nil {
					return false
				}
				perFunc[fn] = append(perFunc[fn], row)
				return true
			})
			if err == nil {
				err = iterErr
			}
			if err != nil {
				return nil, err
			}
		}
	}

	funcs := make([]string, 0, len(perFunc))
	for fn := range perFunc {
		funcs = append(funcs, fn)
	}
	sort.Strings(funcs)

	entries := make([]node.MapEntry, 0, len(funcs))
	for _, fn := range funcs {
		rows := make([]node.Node, 0, len(perFunc[fn]))
		for _, row := range perFunc[fn] {
			args := make([]node.Node, len(row.args))
			for i, a := range row.args {
				args[i] = node.Link(a)
			}
			rowNode, err := node.Map(map[string]node.Node{
				"args":   node.List(args),
				"result": node.Link(row.result),
			})
			if err != nil {
				return nil, err
			}
			rows = append(rows, rowNode)
		}
		entries = append(entries, node.MapEntry{Key: fn, Value: node.List(rows)})
	}
	return entries, nil
}

func buildRootNode(heads, calls []node.MapEntry) (node.Node, error) {
	headsNode, err := node.MapFromEntries(heads)
	if err != nil {
		return node.Node{}, err
	}
	callsNode, err := node.MapFromEntries(calls)
	if err != nil {
		return node.Node{}, err
	}
	return node.Map(map[string]node.Node{
		"format": node.MustString(rootFormat),
		"heads":  headsNode,
		"calls":  callsNode,
	})
}

func writeArchive(w io.Writer, rootCID cid.CID, rootBytes []byte, blocks map[string][]byte, order []string) error {
	rootsNode := node.List([]node.Node{node.Link(rootCID)})
	header, err := node.Map(map[string]node.Node{
		"roots":   rootsNode,
		"version": node.Int(1),
	})
	if err != nil {
		return fmt.Errorf("carfile: header: %w", err)
	}
	headerBytes := cbor.Save(header)

	bw := bufio.NewWriter(w)
	writeSection := func(parts ...[]byte) error {
		var total uint64
		for _, p := range parts {
			total += uint64(len(p))
		}
		var lenBuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lenBuf[:], total)
		if _, err := bw.Write(lenBuf[:n]); err != nil {
			return err
		}
		for _, p := range parts {
			if _, err := bw.Write(p); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeSection(headerBytes); err != nil {
		return fmt.Errorf("carfile: writing header: %w", err)
	}
	if err := writeSection(rootCID.AsBytes(), rootBytes); err != nil {
		return fmt.Errorf("carfile: writing root: %w", err)
	}
	sort.Strings(order)
	for _, key := range order {
		c, err := cid.Parse(key)
		if err != nil {
			return fmt.Errorf("carfile: %w", err)
		}
		if err := writeSection(c.AsBytes(), blocks[key]); err != nil {
			return fmt.Errorf("carfile: writing section: %w", err)
		}
	}
	return bw.Flush()
}

// Store is a read-only Store over an opened CAR archive. All contents are
// held in memory: a CAR is a snapshot interchange format here, not a
// live database.
type Store struct {
	mu     sync.RWMutex
	closed bool

	root    cid.CID
	blocks  map[string]node.Node
	heads   map[string]cid.CID
	calls   map[callKey]cid.CID
	reverse map[string][]name.Name
}

type callKey struct {
	fn   string
	args string
}

// Open reads a CAR archive from path. zstd compression is detected from
// the file's magic bytes, so a renamed .zst archive still opens.
func Open(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("carfile: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a CAR archive from r.
func Read(r io.Reader) (*Store, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err == nil && bytes.Equal(magic, zstdMagic) {
		zr, zerr := zstd.NewReader(br)
		if zerr != nil {
			return nil, fmt.Errorf("carfile: zstd: %w", zerr)
		}
		defer zr.Close()
		br = bufio.NewReader(zr)
	}

	headerBytes, err := readSection(br)
	if err != nil {
		return nil, fmt.Errorf("carfile: reading header: %w", err)
	}
	roots, err := parseHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("carfile: expected exactly one root, found %d", len(roots))
	}

	s := &Store{
		root:    roots[0],
		blocks:  map[string]node.Node{},
		heads:   map[string]cid.CID{},
		calls:   map[callKey]cid.CID{},
		reverse: map[string][]name.Name{},
	}

	for {
		section, err := readSection(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("carfile: reading section: %w", err)
		}
		c, consumed, err := readCID(section)
		if err != nil {
			return nil, fmt.Errorf("carfile: section cid: %w", err)
		}
		n, err := ipld.LoadFromIPLD(c, section[consumed:])
		if err != nil {
			return nil, fmt.Errorf("carfile: decoding block %s: %w", c, err)
		}
		s.blocks[c.String()] = n
	}

	if err := s.loadNameTable(); err != nil {
		return nil, err
	}
	s.buildReverseIndex()
	return s, nil
}

func readSection(br *bufio.Reader) ([]byte, error) {
	length, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, fmt.Errorf("zero-length section")
	}
	if length > maxSectionBytes {
		return nil, fmt.Errorf("section of %d bytes exceeds limit", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func parseHeader(headerBytes []byte) ([]cid.CID, error) {
	header, err := cbor.Load(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("carfile: header: %w", err)
	}
	if header.Kind() != node.KindMap {
		return nil, fmt.Errorf("carfile: header is not a map")
	}
	var roots []cid.CID
	version := int64(-1)
	for _, e := range header.AsMap() {
		switch e.Key {
		case "version":
			if e.Value.Kind() != node.KindInteger {
				return nil, fmt.Errorf("carfile: header version is not an integer")
			}
			version = e.Value.AsInt()
		case "roots":
			if e.Value.Kind() != node.KindList {
				return nil, fmt.Errorf("carfile: header roots is not a list")
			}
			for _, r := range e.Value.AsList() {
				if r.Kind() != node.KindLink {
					return nil, fmt.Errorf("carfile: header root is not a link")
				}
				roots = append(roots, r.AsLink())
			}
		}
	}
	if version != 1 {
		return nil, fmt.Errorf("carfile: unsupported CAR version %d", version)
	}
	return roots, nil
}

// readCID consumes one CID from the front of buf, returning it and how
// many bytes it occupied. cid.FromBytes rejects trailing bytes, and a CID's
// binary form carries its own digest length, so exactly one prefix length
// parses cleanly.
func readCID(buf []byte) (cid.CID, int, error) {
	for l := 4; l <= len(buf); l++ {
		c, err := cid.FromBytes(buf[:l])
		if err == nil {
			return c, l, nil
		}
	}
	return cid.CID{}, 0, fmt.Errorf("no valid CID prefix")
}

func (s *Store) loadNameTable() error {
	root, ok := s.blocks[s.root.String()]
	if !ok {
		return fmt.Errorf("carfile: root block %s missing from archive", s.root)
	}
	if root.Kind() != node.KindMap {
		return fmt.Errorf("carfile: root block is not a map")
	}
	for _, e := range root.AsMap() {
		switch e.Key {
		case "format":
			if e.Value.Kind() != node.KindString || e.Value.AsString() != rootFormat {
				return fmt.Errorf("carfile: root block is not a memodb name table")
			}
		case "heads":
			for _, h := range e.Value.AsMap() {
				if h.Value.Kind() != node.KindLink {
					return fmt.Errorf("carfile: head %q is not a link", h.Key)
				}
				s.heads[h.Key] = h.Value.AsLink()
			}
		case "calls":
			if err := s.loadCalls(e.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) loadCalls(calls node.Node) error {
	for _, fnEntry := range calls.AsMap() {
		for _, row := range fnEntry.Value.AsList() {
			var args []cid.CID
			var result cid.CID
			haveResult := false
			for _, field := range row.AsMap() {
				switch field.Key {
				case "args":
					for _, a := range field.Value.AsList() {
						if a.Kind() != node.KindLink {
							return fmt.Errorf("carfile: call arg of %q is not a link", fnEntry.Key)
						}
						args = append(args, a.AsLink())
					}
				case "result":
					if field.Value.Kind() != node.KindLink {
						return fmt.Errorf("carfile: call result of %q is not a link", fnEntry.Key)
					}
					result = field.Value.AsLink()
					haveResult = true
				}
			}
			if !haveResult || len(args) == 0 {
				return fmt.Errorf("carfile: malformed call row for %q", fnEntry.Key)
			}
			s.calls[callKeyOf(fnEntry.Key, args)] = result
		}
	}
	return nil
}

func callKeyOf(fn string, args []cid.CID) callKey {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return callKey{fn: fn, args: strings.Join(parts, ",")}
}

func (s *Store) buildReverseIndex() {
	// Identity CIDs have no stored section, but the nodes they synthesize
	// can still link to real blocks; chase them so ListNamesUsing sees
	// through inline values.
	var indexIdentity func(c cid.CID)
	indexIdentity = func(c cid.CID) {
		if c.HashCodec != cid.Identity {
			return
		}
		n, err := ipld.LoadFromIPLD(c, nil)
		if err != nil {
			return
		}
		ownerName := name.FromCID(c)
		walkLinks(n, func(target cid.CID) {
			s.addReverse(target, ownerName)
			indexIdentity(target)
		})
	}

	for key, n := range s.blocks {
		if key == s.root.String() {
			continue // the name-table root is framing, not user data
		}
		owner, err := cid.Parse(key)
		if err != nil {
			continue
		}
		ownerName := name.FromCID(owner)
		walkLinks(n, func(target cid.CID) {
			s.addReverse(target, ownerName)
			indexIdentity(target)
		})
	}
	for headName, c := range s.heads {
		if n, err := name.FromHead(headName); err == nil {
			s.addReverse(c, n)
		}
		indexIdentity(c)
	}
	for k, result := range s.calls {
		args, err := parseCallArgs(k.args)
		if err != nil {
			continue
		}
		if n, err := name.FromCall(k.fn, args); err == nil {
			s.addReverse(result, n)
		}
		indexIdentity(result)
		for _, a := range args {
			indexIdentity(a)
		}
	}
}

func (s *Store) addReverse(target cid.CID, n name.Name) {
	key := target.String()
	for _, existing := range s.reverse[key] {
		if name.Equal(existing, n) {
			return
		}
	}
	s.reverse[key] = append(s.reverse[key], n)
}

func walkLinks(n node.Node, f func(cid.CID)) {
	switch n.Kind() {
	case node.KindLink:
		f(n.AsLink())
	case node.KindList:
		for _, item := range n.AsList() {
			walkLinks(item, f)
		}
	case node.KindMap:
		for _, e := range n.AsMap() {
			walkLinks(e.Value, f)
		}
	}
}

func parseCallArgs(joined string) ([]cid.CID, error) {
	parts := strings.Split(joined, ",")
	out := make([]cid.CID, len(parts))
	for i, p := range parts {
		c, err := cid.Parse(p)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// Root returns the archive's name-table root CID.
func (s *Store) Root() cid.CID { return s.root }

func (s *Store) GetOptional(_ context.Context, c cid.CID) (node.Node, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return node.Node{}, false, store.ErrClosed
	}
	if c.HashCodec == cid.Identity {
		n, err := ipld.LoadFromIPLD(c, nil)
		if err != nil {
			return node.Node{}, false, err
		}
		return n, true, nil
	}
	n, ok := s.blocks[c.String()]
	return n, ok, nil
}

func (s *Store) Has(ctx context.Context, c cid.CID) (bool, error) {
	_, ok, err := s.GetOptional(ctx, c)
	return ok, err
}

func (s *Store) ResolveOptional(_ context.Context, n name.Name) (cid.CID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return cid.CID{}, false, store.ErrClosed
	}
	switch n.Kind() {
	case name.KindCID:
		return n.AsCID(), true, nil
	case name.KindHead:
		c, ok := s.heads[n.HeadName()]
		return c, ok, nil
	case name.KindCall:
		c, ok := s.calls[callKeyOf(n.CallFunc(), n.CallArgs())]
		return c, ok, nil
	default:
		return cid.CID{}, false, fmt.Errorf("carfile: unknown name kind")
	}
}

func (s *Store) Put(_ context.Context, _ node.Node) (cid.CID, error) {
	return cid.CID{}, store.ErrReadOnly
}

func (s *Store) Set(_ context.Context, _ name.Name, _ cid.CID) error {
	return store.ErrReadOnly
}

func (s *Store) EachHead(_ context.Context, f func(headName string, c cid.CID) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	names := make([]string, 0, len(s.heads))
	for hn := range s.heads {
		names = append(names, hn)
	}
	sort.Strings(names)
	for _, hn := range names {
		if !f(hn, s.heads[hn]) {
			return nil
		}
	}
	return nil
}

func (s *Store) EachCall(_ context.Context, fn string, f func(args []cid.CID, c cid.CID) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	type row struct {
		key callKey
		c   cid.CID
	}
	var rows []row
	for k, c := range s.calls {
		if k.fn == fn {
			rows = append(rows, row{k, c})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key.args < rows[j].key.args })
	for _, r := range rows {
		args, err := parseCallArgs(r.key.args)
		if err != nil {
			return fmt.Errorf("carfile: %w", err)
		}
		if !f(args, r.c) {
			return nil
		}
	}
	return nil
}

// ListFuncs returns every func with at least one archived call, in sorted
// order, so a re-export of an opened archive preserves its call table.
func (s *Store) ListFuncs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	seen := map[string]bool{}
	var out []string
	for k := range s.calls {
		if !seen[k.fn] {
			seen[k.fn] = true
			out = append(out, k.fn)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) HeadDelete(_ context.Context, _ string) error {
	return store.ErrReadOnly
}

func (s *Store) CallInvalidate(_ context.Context, _ string) error {
	return store.ErrReadOnly
}

func (s *Store) ListNamesUsing(_ context.Context, c cid.CID) ([]name.Name, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return append([]name.Name{}, s.reverse[c.String()]...), nil
}

func (s *Store) ListPathsTo(ctx context.Context, c cid.CID) ([]store.PathTo, error) {
	return store.DefaultListPathsTo(ctx, s, c)
}

// Close releases the archive; subsequent operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
