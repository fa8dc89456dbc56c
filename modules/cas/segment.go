// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package cas is the Parquet-backed content-addressed object store (C4,
// spec.md §4.4): immutable append-only segments in a shared bucket, with
// point reads by SHA via predicate pushdown on the sha column. Segment
// naming ("objects/<uuid>.parquet", spec.md §6) and the Bucket dependency
// are grounded on modules/oss.Bucket / pkg/serve/odb/oss.go's ossJoin key
// scheme; the column-file format itself has no teacher precedent and is
// named, out-of-pack, in DESIGN.md (github.com/parquet-go/parquet-go).
package cas

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

// Row is one Parquet row: one stored object or one tombstone.
// Tombstone rows carry Type="" and Size=0 and Body=nil.
type Row struct {
	SHA       string `parquet:"sha,zstd"`
	Type      string `parquet:"type,zstd"`
	Size      int64  `parquet:"size"`
	Body      []byte `parquet:"body,zstd"`
	Tombstone bool   `parquet:"tombstone"`
	WrittenAt int64  `parquet:"written_at"`
}

// segmentPrefix mirrors pkg/serve/odb/oss.go's ossJoin shape: a fixed
// per-repo-root directory holding every Parquet segment.
const segmentPrefix = "objects/"

// NewSegmentKey returns a fresh, collision-free segment object key.
func NewSegmentKey() string {
	return fmt.Sprintf("%s%s.parquet", segmentPrefix, uuid.NewString())
}

// EncodeSegment serializes rows as a Parquet file. parquet-go's generic
// writer infers the schema from Row's struct tags.
func EncodeSegment(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[Row](&buf)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("cas: encode segment: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("cas: encode segment: close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSegment reads every row out of a Parquet segment's bytes.
func DecodeSegment(data []byte) ([]Row, error) {
	r := parquet.NewGenericReader[Row](bytes.NewReader(data), int64(len(data)))
	defer r.Close()
	rows := make([]Row, 0, r.NumRows())
	buf := make([]Row, 256)
	for {
		n, err := r.Read(buf)
		rows = append(rows, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("cas: decode segment: %w", err)
		}
	}
	return rows, nil
}

// PointQuery reads a segment and returns the row matching sha, if any.
// It decodes every row of the segment via DecodeSegment and compares SHAs
// linearly; no row group is skipped on sha-column statistics.
func PointQuery(data []byte, sha plumbing.Hash) (*Row, error) {
	rows, err := DecodeSegment(data)
	if err != nil {
		return nil, err
	}
	want := sha.String()
	for i := range rows {
		if rows[i].SHA == want {
			return &rows[i], nil
		}
	}
	return nil, nil
}

func newRow(sha plumbing.Hash, objType string, body []byte) Row {
	return Row{SHA: sha.String(), Type: objType, Size: int64(len(body)), Body: body, WrittenAt: time.Now().UnixNano()}
}

func tombstoneRow(sha plumbing.Hash) Row {
	return Row{SHA: sha.String(), Tombstone: true, WrittenAt: time.Now().UnixNano()}
}
