// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package gitwire

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/antgroup/zeta-edge/modules/cas"
	"github.com/antgroup/zeta-edge/modules/object"
	"github.com/antgroup/zeta-edge/modules/pack"
	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/antgroup/zeta-edge/modules/plumbing/format/pktline"
)

// ErrUnknownWant is returned when a client requests an object the store
// does not have (spec.md §4.11: "Unknown want SHAs fail with a structured
// error").
type ErrUnknownWant struct {
	OID plumbing.Hash
}

func (e *ErrUnknownWant) Error() string { return fmt.Sprintf("gitwire: unknown want %s", e.OID) }

// storeReader abstracts the object lookups upload-pack needs from C4/C3.
type storeReader interface {
	Get(ctx context.Context, sha plumbing.Hash) (body []byte, objType string, err error)
}

var _ storeReader = (*cas.Store)(nil)

// UploadPack parses client want/have lines from r, walks the commit graph
// from every want skipping ancestors of every have, and emits a pack
// stream of every object the client doesn't already have (spec.md §4.11).
func UploadPack(ctx context.Context, r io.Reader, w io.Writer, store storeReader) error {
	wants, haves, err := parseUploadPackRequest(r)
	if err != nil {
		return err
	}

	pw := pktline.NewEncoder(w)
	walker := &graphWalker{ctx: ctx, store: store, visited: make(map[plumbing.Hash]bool)}

	for _, oid := range wants {
		if _, _, err := store.Get(ctx, oid); err != nil {
			return &ErrUnknownWant{OID: oid}
		}
	}
	for _, oid := range haves {
		if _, _, err := store.Get(ctx, oid); err == nil {
			walker.markAncestorsVisited(oid)
		}
		// haves not in the store are silently ignored (spec.md §4.11)
	}

	if err := pw.EncodeString("NAK\n"); err != nil {
		return err
	}

	var objects []pack.Object
	for _, oid := range wants {
		reached, err := walker.walkFrom(oid)
		if err != nil {
			return err
		}
		objects = append(objects, reached...)
	}

	packWriter := pack.NewWriter(w)
	for _, o := range objects {
		packWriter.Add(o.Type, o.Body)
	}
	_, err = packWriter.Close()
	return err
}

// graphWalker enumerates commits/trees/blobs reachable from a want,
// skipping anything already visited (ancestors of a have, or already
// emitted for an earlier want in the same request).
type graphWalker struct {
	ctx     context.Context
	store   storeReader
	visited map[plumbing.Hash]bool
}

func (g *graphWalker) markAncestorsVisited(oid plumbing.Hash) {
	if g.visited[oid] {
		return
	}
	body, objType, err := g.store.Get(g.ctx, oid)
	if err != nil {
		return
	}
	g.visited[oid] = true
	if objType != "commit" {
		return
	}
	c, err := object.DecodeCommit(oid, strings.NewReader(string(body)))
	if err != nil {
		return
	}
	for _, p := range c.Parents {
		g.markAncestorsVisited(p)
	}
}

func (g *graphWalker) walkFrom(oid plumbing.Hash) ([]pack.Object, error) {
	if g.visited[oid] {
		return nil, nil
	}
	body, objType, err := g.store.Get(g.ctx, oid)
	if err != nil {
		return nil, &ErrUnknownWant{OID: oid}
	}
	g.visited[oid] = true
	out := []pack.Object{{Hash: oid, Type: objTypeCode(objType), Body: body}}

	switch objType {
	case "commit":
		c, err := object.DecodeCommit(oid, strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("gitwire: decode commit %s: %w", oid, err)
		}
		sub, err := g.walkFrom(c.Tree)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
		for _, p := range c.Parents {
			sub, err := g.walkFrom(p)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	case "tree":
		t, err := object.DecodeTree(oid, strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("gitwire: decode tree %s: %w", oid, err)
		}
		for _, e := range t.Entries {
			sub, err := g.walkFrom(e.Hash)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	case "tag":
		tag, err := object.DecodeTag(oid, strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("gitwire: decode tag %s: %w", oid, err)
		}
		sub, err := g.walkFrom(tag.Object)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func objTypeCode(s string) int {
	switch s {
	case "commit":
		return pack.TypeCommit
	case "tree":
		return pack.TypeTree
	case "blob":
		return pack.TypeBlob
	case "tag":
		return pack.TypeTag
	}
	return 0
}

func parseUploadPackRequest(r io.Reader) (wants, haves []plumbing.Hash, err error) {
	scanner := pktline.NewScanner(bufio.NewReader(r))
	for scanner.Scan() {
		if scanner.Flushed() {
			continue
		}
		line := strings.TrimRight(string(scanner.Bytes()), "\n")
		switch {
		case strings.HasPrefix(line, "want "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, nil, fmt.Errorf("gitwire: malformed want line %q", line)
			}
			wants = append(wants, plumbing.NewHash(fields[1]))
		case strings.HasPrefix(line, "have "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, nil, fmt.Errorf("gitwire: malformed have line %q", line)
			}
			haves = append(haves, plumbing.NewHash(fields[1]))
		case line == "done":
			return wants, haves, scanner.Err()
		}
	}
	return wants, haves, scanner.Err()
}
