// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package compaction merges CAS segments (C6, spec.md §4.6): a journal
// row survives a crash mid-compaction so recovery can tell whether the
// merged target segment is partial, durable-but-unswapped, or already
// swapped in. The paginated-list-then-delete shape is grounded on
// pkg/serve/odb/oss.go's ListObjects/DeleteMultipleObjects pagination loop,
// retargeted from OSS objects to Parquet segment keys.
package compaction

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/antgroup/zeta-edge/modules/cas"
)

// MaxConsecutiveFailures is spec.md §4.6's default N after which
// compaction is skipped and an error is recorded.
const MaxConsecutiveFailures = 3

// Backoff is spec.md §4.6's exponential reschedule schedule.
var Backoff = []time.Duration{10 * time.Second, 30 * time.Second, 90 * time.Second}

const (
	statusInProgress = "in_progress"
	statusWritten    = "written"
)

// Compactor runs the C6 protocol for one repo's segment store.
type Compactor struct {
	db    *sql.DB
	store *cas.Store
}

func New(db *sql.DB, store *cas.Store) *Compactor {
	return &Compactor{db: db, store: store}
}

// Threshold triggers compaction when the known segment count exceeds it.
const Threshold = 16

// NeedsCompaction reports spec.md §4.6's trigger condition.
func (c *Compactor) NeedsCompaction() bool {
	return len(c.store.ListSegments()) > Threshold
}

// Run executes one compaction pass over the given source segments,
// following spec.md §4.6 steps 1-4 with crash-safe journal bookkeeping.
func (c *Compactor) Run(ctx context.Context, sources []string) error {
	if len(sources) == 0 {
		return nil
	}
	c.store.Lock()
	defer c.store.Unlock()

	id := fmt.Sprintf("%d", time.Now().UnixNano())
	target := cas.NewSegmentKey()
	if err := c.journalInsert(ctx, id, sources, target, statusInProgress); err != nil {
		return err
	}

	merged, err := c.mergeSegments(ctx, sources)
	if err != nil {
		c.recordFailure(ctx, err)
		return fmt.Errorf("compaction: merge: %w", err)
	}

	if _, err := c.store.WriteSegment(ctx, merged); err != nil {
		c.recordFailure(ctx, err)
		return fmt.Errorf("compaction: write target: %w", err)
	}
	if err := c.journalSetStatus(ctx, id, statusWritten); err != nil {
		return err
	}

	if err := c.deleteSources(ctx, sources); err != nil {
		return fmt.Errorf("compaction: delete sources: %w", err)
	}
	if err := c.journalClear(ctx, id); err != nil {
		return err
	}
	c.swapSegments(sources, target)
	return c.clearRetries(ctx)
}

// mergeSegments streams rows from every source, deduplicating by SHA with
// newest-wins and tombstones honored (spec.md §4.6 step 2).
func (c *Compactor) mergeSegments(ctx context.Context, sources []string) ([]cas.Row, error) {
	latest := make(map[string]cas.Row)
	order := make([]string, 0)
	for _, key := range sources {
		rows, err := c.store.ReadSegment(ctx, key, nil)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if _, seen := latest[r.SHA]; !seen {
				order = append(order, r.SHA)
			}
			latest[r.SHA] = r // later segments (newer) overwrite earlier
		}
	}
	out := make([]cas.Row, 0, len(order))
	for _, sha := range order {
		r := latest[sha]
		if r.Tombstone {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Compactor) swapSegments(sources []string, target string) {
	known := c.store.ListSegments() // newest-first
	removed := make(map[string]bool, len(sources))
	for _, s := range sources {
		removed[s] = true
	}
	// SetSegments takes the store's internal newest-last order.
	next := make([]string, 0, len(known)+1)
	for i := len(known) - 1; i >= 0; i-- {
		if k := known[i]; !removed[k] {
			next = append(next, k)
		}
	}
	next = append(next, target)
	c.store.SetSegments(next)
}

func (c *Compactor) deleteSources(ctx context.Context, sources []string) error {
	for _, key := range sources {
		if err := c.store.DeleteSegmentObject(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compactor) journalInsert(ctx context.Context, id string, sources []string, target, status string) error {
	_, err := c.db.ExecContext(ctx,
		"insert into compaction_journal(id, source_keys, target_key, status, created_at) values(?,?,?,?,now())",
		id, joinKeys(sources), target, status)
	if err != nil {
		return fmt.Errorf("compaction: journal insert: %w", err)
	}
	return nil
}

func (c *Compactor) journalSetStatus(ctx context.Context, id, status string) error {
	if _, err := c.db.ExecContext(ctx, "update compaction_journal set status = ? where id = ?", status, id); err != nil {
		return fmt.Errorf("compaction: journal update: %w", err)
	}
	return nil
}

func (c *Compactor) journalClear(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, "delete from compaction_journal where id = ?", id); err != nil {
		return fmt.Errorf("compaction: journal clear: %w", err)
	}
	return nil
}

func (c *Compactor) recordFailure(ctx context.Context, cause error) {
	_, _ = c.db.ExecContext(ctx,
		"insert into compaction_retries(id, attempt_count, last_error, updated_at) values(1,1,?,now()) on duplicate key update attempt_count=attempt_count+1, last_error=values(last_error), updated_at=values(updated_at)",
		cause.Error())
}

func (c *Compactor) clearRetries(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "update compaction_retries set attempt_count = 0, last_error = null, updated_at = now() where id = 1")
	return err
}

// AttemptCount reads the current consecutive-failure counter.
func (c *Compactor) AttemptCount(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "select attempt_count from compaction_retries where id = 1").Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// Recover inspects journal rows left over from a crash mid-compaction and
// resolves each per spec.md §4.6's recovery rules.
func (c *Compactor) Recover(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, "select id, source_keys, target_key, status from compaction_journal")
	if err != nil {
		return fmt.Errorf("compaction: recover: %w", err)
	}
	type journalRow struct {
		id, sourceKeys, target, status string
	}
	var pending []journalRow
	for rows.Next() {
		var j journalRow
		if err := rows.Scan(&j.id, &j.sourceKeys, &j.target, &j.status); err != nil {
			rows.Close()
			return fmt.Errorf("compaction: recover: scan: %w", err)
		}
		pending = append(pending, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, j := range pending {
		switch j.status {
		case statusInProgress:
			_ = c.store.DeleteSegmentObject(ctx, j.target)
			if err := c.journalClear(ctx, j.id); err != nil {
				return err
			}
		case statusWritten:
			c.swapSegments(splitKeys(j.sourceKeys), j.target)
			if err := c.deleteSources(ctx, splitKeys(j.sourceKeys)); err != nil {
				return err
			}
			if err := c.journalClear(ctx, j.id); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}

func splitKeys(joined string) []string {
	if joined == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(joined); i++ {
		if joined[i] == ',' {
			out = append(out, joined[start:i])
			start = i + 1
		}
	}
	out = append(out, joined[start:])
	return out
}
