// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package buffer is the write buffer + WAL (C5, spec.md §4.5): objects are
// written to the scratchpad's write_buffer_wal table before being held in
// an in-memory map, so a crash between put and flush loses nothing. The
// put→WAL-row→in-memory-insert→cache-update sequence is grounded on
// pkg/serve/odb/unpack.go's quarantine-then-commit batching shape,
// generalized to a standing buffer instead of a one-shot per-push batch.
package buffer

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/antgroup/zeta-edge/modules/cas"
	"github.com/antgroup/zeta-edge/modules/castore"
	"github.com/antgroup/zeta-edge/modules/plumbing"
)

// ErrOverflow is returned by Put when either back-pressure cap would still
// be exceeded after the auto-flush (spec.md §4.5/§5: "continued overrun
// returns an overflow error to the caller rather than growing unbounded").
type ErrOverflow struct {
	Reason string
}

func (e *ErrOverflow) Error() string { return e.Reason }

// Limits bounds the in-memory buffer (spec.md §4.5's "hard caps" and the
// lower "flush thresholds" that arm an async flush).
type Limits struct {
	MaxBufferedObjects int
	MaxBufferedBytes   int64
	FlushObjects       int
	FlushBytes         int64
}

// DefaultLimits matches a small local repo's typical push size; production
// deployments override via config.
var DefaultLimits = Limits{
	MaxBufferedObjects: 20000,
	MaxBufferedBytes:   512 << 20,
	FlushObjects:       2000,
	FlushBytes:         64 << 20,
}

type entry struct {
	objType string
	body    []byte
}

// FlushEvent is emitted after a successful flush (spec.md §4.5: "{segment_key,
// bytes, record_count}"), consumable idempotently by external subscribers.
type FlushEvent struct {
	SegmentKey  string
	Bytes       int64
	RecordCount int
}

// Buffer is the C5 handle: one per repo, owned by the coordinator (C12).
type Buffer struct {
	db     *sql.DB
	store  *cas.Store
	cache  *castore.Cache
	limits Limits

	flushMu sync.Mutex // serializes flush() so two flushes never race

	mu      sync.Mutex
	objects map[plumbing.Hash]entry
	walIDs  map[plumbing.Hash]int64
	bytes   int64

	onFlush func(FlushEvent)
}

func New(db *sql.DB, store *cas.Store, cache *castore.Cache, limits Limits, onFlush func(FlushEvent)) *Buffer {
	return &Buffer{
		db:      db,
		store:   store,
		cache:   cache,
		limits:  limits,
		objects: make(map[plumbing.Hash]entry),
		walIDs:  make(map[plumbing.Hash]int64),
		onFlush: onFlush,
	}
}

// Put implements spec.md §4.5's four-step sequence: WAL row, in-memory
// insert, cache update, return. Deduplicated by SHA: re-putting an
// already-buffered object is a no-op (no WAL row, no cache update).
func (b *Buffer) Put(ctx context.Context, sha plumbing.Hash, objType string, body []byte) error {
	b.mu.Lock()
	if _, exists := b.objects[sha]; exists {
		b.mu.Unlock()
		return nil
	}
	wouldBeObjects := len(b.objects) + 1
	wouldBeBytes := b.bytes + int64(len(body))
	if wouldBeObjects > b.limits.MaxBufferedObjects || wouldBeBytes > b.limits.MaxBufferedBytes {
		b.mu.Unlock()
		if err := b.Flush(ctx); err != nil {
			return fmt.Errorf("buffer: auto-flush before put: %w", err)
		}
		b.mu.Lock()
		wouldBeObjects = len(b.objects) + 1
		wouldBeBytes = b.bytes + int64(len(body))
		if wouldBeObjects > b.limits.MaxBufferedObjects || wouldBeBytes > b.limits.MaxBufferedBytes {
			b.mu.Unlock()
			return &ErrOverflow{Reason: fmt.Sprintf("buffer: overflow: %d objects / %d bytes exceeds limits after flush", wouldBeObjects, wouldBeBytes)}
		}
	}
	b.mu.Unlock()

	res, err := b.db.ExecContext(ctx,
		"insert into write_buffer_wal(sha, type, body, created_at) values(?,?,?,now()) on duplicate key update sha=sha",
		sha.String(), objType, body)
	if err != nil {
		return fmt.Errorf("buffer: wal insert: %w", err)
	}
	walID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("buffer: wal insert: %w", err)
	}

	b.mu.Lock()
	if _, exists := b.objects[sha]; !exists {
		b.objects[sha] = entry{objType: objType, body: body}
		b.walIDs[sha] = walID
		b.bytes += int64(len(body))
	}
	shouldFlush := len(b.objects) >= b.limits.FlushObjects || b.bytes >= b.limits.FlushBytes
	b.mu.Unlock()

	if b.cache != nil {
		if err := b.cache.Add(ctx, sha, objType, int64(len(body))); err != nil {
			return fmt.Errorf("buffer: cache update: %w", err)
		}
	}
	if shouldFlush {
		go func() { _ = b.Flush(context.Background()) }()
	}
	return nil
}

// Has reports whether sha is currently buffered (not yet flushed).
func (b *Buffer) Has(sha plumbing.Hash) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[sha]
	return ok
}

// Flush snapshots the buffer, writes a new Parquet segment, and only on
// successful bucket ack clears the WAL rows and the in-memory buffer
// (spec.md §4.5).
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.objects) == 0 {
		b.mu.Unlock()
		return nil
	}
	shas := make([]plumbing.Hash, 0, len(b.objects))
	rows := make([]cas.Row, 0, len(b.objects))
	walIDs := make([]int64, 0, len(b.objects))
	var totalBytes int64
	for sha, e := range b.objects {
		shas = append(shas, sha)
		rows = append(rows, newBufferedRow(sha, e.objType, e.body))
		walIDs = append(walIDs, b.walIDs[sha])
		totalBytes += int64(len(e.body))
	}
	b.mu.Unlock()

	segKey, err := b.store.WriteSegment(ctx, rows)
	if err != nil {
		return fmt.Errorf("buffer: flush: write segment: %w", err)
	}

	if err := b.clearWAL(ctx, walIDs); err != nil {
		return fmt.Errorf("buffer: flush: clear wal: %w", err)
	}

	b.mu.Lock()
	for _, sha := range shas {
		delete(b.objects, sha)
		delete(b.walIDs, sha)
	}
	b.bytes = 0
	b.mu.Unlock()

	if b.onFlush != nil {
		b.onFlush(FlushEvent{SegmentKey: segKey, Bytes: totalBytes, RecordCount: len(rows)})
	}
	return nil
}

func (b *Buffer) clearWAL(ctx context.Context, walIDs []int64) error {
	for _, id := range walIDs {
		if _, err := b.db.ExecContext(ctx, "delete from write_buffer_wal where id = ?", id); err != nil {
			return err
		}
	}
	return nil
}

// Recover replays WAL rows into the in-memory buffer (deduplicated by SHA)
// and, if any were found, runs Flush so nothing acknowledged is lost
// across restarts (spec.md §4.5).
func (b *Buffer) Recover(ctx context.Context) error {
	rows, err := b.db.QueryContext(ctx, "select id, sha, type, body from write_buffer_wal order by id asc")
	if err != nil {
		return fmt.Errorf("buffer: recover: %w", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var id int64
		var shaHex, objType string
		var body []byte
		if err := rows.Scan(&id, &shaHex, &objType, &body); err != nil {
			return fmt.Errorf("buffer: recover: scan: %w", err)
		}
		sha := plumbing.NewHash(shaHex)
		b.mu.Lock()
		if _, exists := b.objects[sha]; !exists {
			b.objects[sha] = entry{objType: objType, body: body}
			b.walIDs[sha] = id
			b.bytes += int64(len(body))
		}
		b.mu.Unlock()
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("buffer: recover: %w", err)
	}
	if n == 0 {
		return nil
	}
	return b.Flush(ctx)
}

func newBufferedRow(sha plumbing.Hash, objType string, body []byte) cas.Row {
	row := cas.Row{SHA: sha.String(), Type: objType, Size: int64(len(body)), Body: body}
	return row
}
