// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

import "io"

// readTypeAndSize reads a Git pack entry's variable-length type+size header:
// the first byte is [msb|type:3|size:4], and each continuation byte
// contributes its low 7 bits above the bits already read, so earlier bytes
// hold the less significant bits of the size (spec.md §4.1).
func readTypeAndSize(r io.ByteReader) (objType int, size int64, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	objType = int((b >> 4) & 0x7)
	size = int64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		if b, err = r.ReadByte(); err != nil {
			return 0, 0, err
		}
		size |= int64(b&0x7f) << shift
		shift += 7
	}
	return objType, size, nil
}

// writeTypeAndSize is the encoder counterpart of readTypeAndSize.
func writeTypeAndSize(w io.ByteWriter, objType int, size int64) error {
	first := byte(objType&0x7) << 4
	first |= byte(size & 0x0f)
	size >>= 4
	if size != 0 {
		first |= 0x80
	}
	if err := w.WriteByte(first); err != nil {
		return err
	}
	for size != 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size != 0 {
			b |= 0x80
		}
		if err := w.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

// readOffset reads an OFS_DELTA base offset: a non-standard base-128 where
// each continuation byte adds 1 before the next shift (spec.md §4.1), so
// that the encoding has no redundant representations.
func readOffset(r io.ByteReader) (int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	offset := int64(b & 0x7f)
	for b&0x80 != 0 {
		if b, err = r.ReadByte(); err != nil {
			return 0, err
		}
		offset++
		offset = (offset << 7) | int64(b&0x7f)
	}
	return offset, nil
}

// readDeltaVarint reads the little-endian base-128 size varints that open a
// delta stream (source_size, then target_size).
func readDeltaVarint(b []byte, pos int) (value int64, next int, err error) {
	shift := uint(0)
	for {
		if pos >= len(b) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		c := b[pos]
		pos++
		value |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			break
		}
	}
	return value, pos, nil
}
