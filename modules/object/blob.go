// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"io"

	"github.com/antgroup/zeta-edge/modules/plumbing"
)

// Blob is the canonical Git blob: its body is exactly its content, with no
// framing of its own (spec.md §3: encode_blob(bytes)=bytes).
type Blob struct {
	Hash plumbing.Hash
	Size int64
	body []byte
}

func NewBlob(body []byte) *Blob {
	return &Blob{Size: int64(len(body)), body: body}
}

func (b *Blob) Encode(w io.Writer) error {
	_, err := w.Write(b.body)
	return err
}

// Bytes returns the blob's raw content.
func (b *Blob) Bytes() []byte {
	return b.body
}

// DecodeBlob builds a Blob from its already-unframed body and known hash.
func DecodeBlob(oid plumbing.Hash, body []byte) *Blob {
	return &Blob{Hash: oid, Size: int64(len(body)), body: body}
}
