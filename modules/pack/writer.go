// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"crypto/sha1"
	"encoding/binary"
	"hash"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Writer emits a version-2 pack stream with no delta compression: every
// object is written as a base-type entry with a zlib-deflated body
// (spec.md §6, "Output packs omit deltas"). It tracks a running SHA-1 over
// everything written so the trailing checksum can be emitted last.
type Writer struct {
	w     io.Writer
	sum   hash.Hash
	count uint32
	buf   []Object
}

// NewWriter buffers objects and writes the complete framed stream on Close,
// since the object_count must be known before the header is emitted.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, sum: sha1.New()}
}

// Add queues an object for inclusion in the pack.
func (pw *Writer) Add(objType int, body []byte) {
	pw.buf = append(pw.buf, Object{Type: objType, Body: body})
}

func (pw *Writer) writeAll(p []byte) error {
	if _, err := pw.w.Write(p); err != nil {
		return err
	}
	_, _ = pw.sum.Write(p)
	return nil
}

// Close writes the buffered objects as a complete pack stream and returns
// the number of objects written.
func (pw *Writer) Close() (int, error) {
	header := make([]byte, 12)
	copy(header[:4], packMagic[:])
	binary.BigEndian.PutUint32(header[4:8], 2)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(pw.buf)))
	if err := pw.writeAll(header); err != nil {
		return 0, err
	}

	for _, obj := range pw.buf {
		hdr := newByteSliceWriter()
		if err := writeTypeAndSize(hdr, obj.Type, int64(len(obj.Body))); err != nil {
			return 0, err
		}
		if err := pw.writeAll(hdr.bytes()); err != nil {
			return 0, err
		}

		deflated := newByteSliceWriter()
		zw := zlib.NewWriter(deflated)
		if _, err := zw.Write(obj.Body); err != nil {
			return 0, err
		}
		if err := zw.Close(); err != nil {
			return 0, err
		}
		if err := pw.writeAll(deflated.bytes()); err != nil {
			return 0, err
		}
	}

	checksum := pw.sum.Sum(nil)
	if _, err := pw.w.Write(checksum); err != nil {
		return 0, err
	}
	return len(pw.buf), nil
}

type byteSliceWriter struct{ b []byte }

func newByteSliceWriter() *byteSliceWriter { return &byteSliceWriter{} }

func (w *byteSliceWriter) WriteByte(b byte) error { w.b = append(w.b, b); return nil }
func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
func (w *byteSliceWriter) bytes() []byte { return w.b }
