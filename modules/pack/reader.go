// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package pack implements the Git packfile wire format: header parsing,
// per-entry type+size and delta-offset varints, zlib-framed object bodies,
// and OFS_DELTA/REF_DELTA application (spec.md §4.1). It is written from the
// spec text directly — no third-party Git library is used for parsing or
// delta application, per spec.md §1's explicit non-goal.
package pack

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"io"

	"github.com/antgroup/zeta-edge/modules/object"
	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/klauspost/compress/zlib"
)

const (
	TypeCommit   = 1
	TypeTree     = 2
	TypeBlob     = 3
	TypeTag      = 4
	typeReserved = 5
	TypeOfsDelta = 6
	TypeRefDelta = 7
)

var packMagic = [4]byte{'P', 'A', 'C', 'K'}

// rawEntry is one decoded-but-not-yet-delta-resolved pack entry.
type rawEntry struct {
	offset     int64
	objType    int
	size       int64
	body       []byte // inflated bytes: the object body for base types, the delta stream for *_DELTA
	baseOffset int64  // absolute pack offset of the base entry, for OFS_DELTA
	baseHash   plumbing.Hash
}

// Object is a fully resolved pack entry, ready for the object model.
type Object struct {
	Hash plumbing.Hash
	Type int
	Body []byte
}

// BaseResolver resolves a REF_DELTA base (or an OFS_DELTA base pointing
// before the start of this pack slice) against already-stored objects.
type BaseResolver interface {
	ResolveBase(sha plumbing.Hash) (objType int, body []byte, err error)
}

// inflateAt decodes the zlib stream at buf[offset:] and reports exactly
// how many bytes that stream consumed: since *bytes.Reader implements
// io.ByteReader, Go's flate reader consumes it one byte at a time instead of
// buffering ahead, so the reader's position after Read-to-EOF is exactly the
// first byte past the deflate stream's trailer (spec.md §4.1's
// "bytes_consumed" requirement).
func inflateAt(buf []byte, offset int64) (decoded []byte, consumed int64, err error) {
	br := bytes.NewReader(buf[offset:])
	zr, err := zlib.NewReader(br)
	if err != nil {
		return nil, 0, errf("zlib: %v", err)
	}
	defer zr.Close()
	decoded, err = io.ReadAll(zr)
	if err != nil {
		return nil, 0, errf("zlib: %v", err)
	}
	consumed = int64(len(buf[offset:])) - int64(br.Len())
	return decoded, consumed, nil
}

// Unpack parses a complete pack buffer (PACK header, object_count entries,
// trailing 20-byte SHA-1 checksum) and resolves every OFS_DELTA/REF_DELTA
// entry against either an earlier entry in this same pack or, via resolver,
// an object already present in the store. It returns resolved objects in
// pack order.
func Unpack(buf []byte, resolver BaseResolver) ([]Object, error) {
	if len(buf) < 12+20 {
		return nil, errf("pack: buffer too small")
	}
	if !bytes.Equal(buf[:4], packMagic[:]) {
		return nil, errf("pack: bad magic")
	}
	version := binary.BigEndian.Uint32(buf[4:8])
	if version != 2 {
		return nil, errf("pack: unsupported version %d", version)
	}
	count := binary.BigEndian.Uint32(buf[8:12])

	checksumOffset := int64(len(buf) - 20)
	wantSum := buf[checksumOffset:]
	gotSum := sha1.Sum(buf[:checksumOffset])
	if !bytes.Equal(gotSum[:], wantSum) {
		return nil, errf("pack: trailing checksum mismatch")
	}

	entries := make([]rawEntry, 0, count)
	byOffset := make(map[int64]int, count)
	offset := int64(12)
	for i := uint32(0); i < count; i++ {
		entryStart := offset
		br := bytes.NewReader(buf[offset:])
		objType, size, err := readTypeAndSize(br)
		if err != nil {
			return nil, errf("pack: truncated entry header at %d: %v", offset, err)
		}
		headerLen := int64(len(buf[offset:])) - int64(br.Len())
		offset += headerLen

		var baseOffset int64
		var baseHash plumbing.Hash
		switch objType {
		case TypeOfsDelta:
			obr := bytes.NewReader(buf[offset:])
			negOffset, err := readOffset(obr)
			if err != nil {
				return nil, errf("pack: truncated OFS_DELTA offset at %d: %v", offset, err)
			}
			ofsLen := int64(len(buf[offset:])) - int64(obr.Len())
			baseOffset = entryStart - negOffset
			if baseOffset < 12 || baseOffset >= entryStart {
				return nil, errf("pack: OFS_DELTA base offset out of range at %d", entryStart)
			}
			offset += ofsLen
		case TypeRefDelta:
			if offset+20 > int64(len(buf)) {
				return nil, errf("pack: truncated REF_DELTA base sha at %d", offset)
			}
			copy(baseHash[:], buf[offset:offset+20])
			offset += 20
		case TypeCommit, TypeTree, TypeBlob, TypeTag:
		default:
			return nil, errf("pack: reserved or unknown type code %d at entry %d", objType, i)
		}

		body, consumed, err := inflateAt(buf, offset)
		if err != nil {
			return nil, errf("pack: entry %d at offset %d: %v", i, offset, err)
		}
		if int64(len(body)) != size {
			return nil, errf("pack: entry %d declared size %d, got %d", i, size, len(body))
		}
		offset += consumed

		byOffset[entryStart] = len(entries)
		entries = append(entries, rawEntry{
			offset:     entryStart,
			objType:    objType,
			size:       size,
			body:       body,
			baseOffset: baseOffset,
			baseHash:   baseHash,
		})
	}

	if offset != checksumOffset {
		return nil, errf("pack: entry count mismatch: trailing data after %d entries", count)
	}

	resolved := make([]Object, len(entries))
	done := make([]bool, len(entries))
	var resolve func(i int) error
	resolve = func(i int) error {
		if done[i] {
			return nil
		}
		e := entries[i]
		switch e.objType {
		case TypeCommit, TypeTree, TypeBlob, TypeTag:
			h := objectHash(e.objType, e.body)
			resolved[i] = Object{Hash: h, Type: e.objType, Body: e.body}
		case TypeOfsDelta:
			baseIdx, ok := byOffset[e.baseOffset]
			if !ok {
				return errf("pack: unresolved OFS_DELTA base at offset %d", e.baseOffset)
			}
			if err := resolve(baseIdx); err != nil {
				return err
			}
			base := resolved[baseIdx]
			body, err := applyDelta(base.Body, e.body)
			if err != nil {
				return err
			}
			resolved[i] = Object{Hash: objectHash(base.Type, body), Type: base.Type, Body: body}
		case TypeRefDelta:
			if baseIdx, ok := byOffset[indexByHash(entries, e.baseHash)]; ok && baseIdx >= 0 {
				if err := resolve(baseIdx); err != nil {
					return err
				}
				base := resolved[baseIdx]
				body, err := applyDelta(base.Body, e.body)
				if err != nil {
					return err
				}
				resolved[i] = Object{Hash: objectHash(base.Type, body), Type: base.Type, Body: body}
				break
			}
			if resolver == nil {
				return errf("pack: unresolved REF_DELTA base %s", e.baseHash)
			}
			baseType, baseBody, err := resolver.ResolveBase(e.baseHash)
			if err != nil {
				return errf("pack: unresolved REF_DELTA base %s: %v", e.baseHash, err)
			}
			body, err := applyDelta(baseBody, e.body)
			if err != nil {
				return err
			}
			resolved[i] = Object{Hash: objectHash(baseType, body), Type: baseType, Body: body}
		}
		done[i] = true
		return nil
	}

	for i := range entries {
		if err := resolve(i); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// indexByHash finds a prior pack entry producing the given base sha, if any
// was already materialized as a base object. Returns -1 (absent from the
// offset map) when no such entry exists in this pack, signaling the caller
// to fall back to the BaseResolver.
func indexByHash(entries []rawEntry, h plumbing.Hash) int64 {
	for _, e := range entries {
		if e.objType != TypeOfsDelta && e.objType != TypeRefDelta {
			if objectHash(e.objType, e.body) == h {
				return e.offset
			}
		}
	}
	return -1
}

// objectHash delegates to the canonical object-model framing/hash function
// (modules/object) so the pack codec and the object store always agree on
// identity (spec.md §4.2: hash(type, body) = SHA-1("<type> <size>\0<body>")).
func objectHash(objType int, body []byte) plumbing.Hash {
	return object.HashBody(object.ObjectType(objType), body)
}
