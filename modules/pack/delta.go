// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

// applyDelta reconstructs a target byte sequence from a base plus a Git
// delta instruction stream (spec.md §4.1): a pair of size varints followed
// by copy/insert instructions. Copy instructions (top bit set) read a sparse
// 4-byte offset and 3-byte length from the low 7 bits present; insert
// instructions (top bit clear) copy the next 1-127 bytes literally.
func applyDelta(base, delta []byte) ([]byte, error) {
	pos := 0
	sourceSize, pos, err := readDeltaVarint(delta, pos)
	if err != nil {
		return nil, errf("delta: truncated source size: %v", err)
	}
	if sourceSize != int64(len(base)) {
		return nil, errf("delta: source size mismatch: want %d, base is %d", sourceSize, len(base))
	}
	targetSize, pos, err := readDeltaVarint(delta, pos)
	if err != nil {
		return nil, errf("delta: truncated target size: %v", err)
	}

	out := make([]byte, 0, targetSize)
	for pos < len(delta) {
		op := delta[pos]
		pos++
		if op&0x80 != 0 {
			var offset, length uint32
			if op&0x01 != 0 {
				offset = uint32(delta[pos])
				pos++
			}
			if op&0x02 != 0 {
				offset |= uint32(delta[pos]) << 8
				pos++
			}
			if op&0x04 != 0 {
				offset |= uint32(delta[pos]) << 16
				pos++
			}
			if op&0x08 != 0 {
				offset |= uint32(delta[pos]) << 24
				pos++
			}
			if op&0x10 != 0 {
				length = uint32(delta[pos])
				pos++
			}
			if op&0x20 != 0 {
				length |= uint32(delta[pos]) << 8
				pos++
			}
			if op&0x40 != 0 {
				length |= uint32(delta[pos]) << 16
				pos++
			}
			if length == 0 {
				length = 0x10000
			}
			if int64(offset)+int64(length) > int64(len(base)) {
				return nil, errf("delta: copy instruction out of range: offset=%d length=%d base=%d", offset, length, len(base))
			}
			out = append(out, base[offset:offset+length]...)
			continue
		}
		if op == 0 {
			return nil, errf("delta: reserved zero instruction opcode")
		}
		n := int(op)
		if pos+n > len(delta) {
			return nil, errf("delta: truncated literal insert")
		}
		out = append(out, delta[pos:pos+n]...)
		pos += n
	}
	if int64(len(out)) != targetSize {
		return nil, errf("delta: result size mismatch: want %d, got %d", targetSize, len(out))
	}
	return out, nil
}
