// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package coordinator is the per-repo lifecycle owner (C12, spec.md §4.12):
// a single struct composing the scratchpad connection and the handles to
// C3-C8, exposing initialize/handle/alarm the way pkg/serve/odb.ODB
// composes backend.Database + CacheDB + MetadataDB + oss.Bucket behind one
// constructor and a Reload/Close lifecycle (DESIGN.md).
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antgroup/zeta-edge/config"
	"github.com/antgroup/zeta-edge/modules/branchprotect"
	"github.com/antgroup/zeta-edge/modules/buffer"
	"github.com/antgroup/zeta-edge/modules/cas"
	"github.com/antgroup/zeta-edge/modules/castore"
	"github.com/antgroup/zeta-edge/modules/compaction"
	"github.com/antgroup/zeta-edge/modules/oss"
	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/antgroup/zeta-edge/modules/pushtxn"
	"github.com/antgroup/zeta-edge/modules/reflog"
	"github.com/antgroup/zeta-edge/modules/refstore"
	"github.com/antgroup/zeta-edge/modules/scratchpad"
)

// Coordinator owns one repository's full dependency set and is the unit of
// single-writer mutual exclusion spec.md §5 describes: one logical task per
// repo, interleaving only at I/O await points.
type Coordinator struct {
	namespace string
	db        *scratchpad.DB
	bucket    oss.Bucket

	cache  *castore.Cache
	store  *cas.Store
	reflog *reflog.Log
	refs   *refstore.Store
	rules  *branchprotect.Store
	buf    *buffer.Buffer
	comp   *compaction.Compactor
	txnMu  sync.Mutex

	compactionNeeded atomic32
	retryAttempt     int
	log              *slog.Logger
}

// atomic32 is a tiny bool-ish flag; plain field would race under alarm()
// running concurrently with request handling in a threaded deployment.
type atomic32 struct {
	mu  sync.Mutex
	set bool
}

func (a *atomic32) Set(v bool) {
	a.mu.Lock()
	a.set = v
	a.mu.Unlock()
}

func (a *atomic32) Get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set
}

// New constructs a Coordinator from already-open resources. Initialize is
// the usual entrypoint; New is exposed for tests that want to inject fakes.
func New(namespace string, db *scratchpad.DB, bucket oss.Bucket, cfg *config.Config) (*Coordinator, error) {
	ctx := context.Background()
	conn := db.Conn()

	cacheSize := uint64(1_000_000)
	if cfg != nil && cfg.Cache != nil && cfg.Cache.NumCounters > 0 {
		cacheSize = uint64(cfg.Cache.NumCounters)
	}
	cache, err := castore.Open(ctx, conn, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open cache: %w", err)
	}

	store := cas.New(bucket, cache, namespace+"/")

	rl, err := reflog.Open(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open reflog: %w", err)
	}
	refs := refstore.New(conn, rl)
	rules := branchprotect.New(conn)
	comp := compaction.New(conn, store)

	limits := buffer.DefaultLimits
	if cfg != nil && cfg.Buffer != nil {
		limits = buffer.Limits{
			MaxBufferedObjects: cfg.Buffer.MaxBufferedObjects,
			MaxBufferedBytes:   cfg.Buffer.MaxBufferedBytes,
			FlushObjects:       cfg.Buffer.FlushObjects,
			FlushBytes:         cfg.Buffer.FlushBytes,
		}
	}

	c := &Coordinator{
		namespace: namespace,
		db:        db,
		bucket:    bucket,
		cache:     cache,
		store:     store,
		reflog:    rl,
		refs:      refs,
		rules:     rules,
		comp:      comp,
		log:       slog.Default().With("namespace", namespace),
	}
	c.buf = buffer.New(conn, store, cache, limits, c.onFlush)
	return c, nil
}

// Initialize opens the scratchpad, runs WAL replay (spec.md §7: "WAL replay
// is mandatory at startup and must succeed or the coordinator refuses to
// serve writes"), and seeds the bloom filter if it looks stale.
func Initialize(ctx context.Context, namespace string, dsn string, bucketOpts *oss.NewBucketOptions, cfg *config.Config) (*Coordinator, error) {
	db, err := scratchpad.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open scratchpad: %w", err)
	}
	bucket, err := oss.NewBucket(ctx, bucketOpts)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open bucket: %w", err)
	}
	c, err := New(namespace, db, bucket, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.buf.Recover(ctx); err != nil {
		return nil, fmt.Errorf("coordinator: wal recovery: %w", err)
	}
	if err := c.comp.Recover(ctx); err != nil {
		return nil, fmt.Errorf("coordinator: compaction recovery: %w", err)
	}
	if c.cache.NeedsRebuild() {
		if err := c.cache.Rebuild(ctx, c.store.ListAllSHAs); err != nil {
			c.log.Warn("bloom rebuild failed", "error", err)
		}
	}
	return c, nil
}

// NewTxn starts a push transaction bound to this coordinator's C4/C5/C7/C8/C9
// handles (spec.md §4.10). orphan is invoked with buffered-but-uncommitted
// SHAs if the batch fails after flush; nil is a valid no-op sink.
func (c *Coordinator) NewTxn(orphan func([]plumbing.Hash)) *pushtxn.Txn {
	return pushtxn.New(c.store, c.buf, c.refs, c.rules, orphan)
}

// onFlush is wired into buffer.Buffer as the flush-event callback; it is
// also where compaction_needed gets set once segment count crosses the
// compactor's threshold (spec.md §4.6: "Triggered when segment count
// exceeds a threshold or on an alarm").
func (c *Coordinator) onFlush(buffer.FlushEvent) {
	if c.comp.NeedsCompaction() {
		c.compactionNeeded.Set(true)
	}
}

// Alarm runs compaction if compaction_needed is set, clearing the retry
// counter on success or incrementing it and rescheduling with exponential
// backoff on failure, up to compaction.MaxConsecutiveFailures (spec.md
// §4.12).
func (c *Coordinator) Alarm(ctx context.Context) (nextAlarm time.Duration, err error) {
	if !c.compactionNeeded.Get() {
		return 0, nil
	}

	c.txnMu.Lock()
	segments := c.store.ListSegments()
	c.txnMu.Unlock()
	if len(segments) < compaction.Threshold {
		c.compactionNeeded.Set(false)
		return 0, nil
	}

	// ListSegments is newest-first; Run expects its sources oldest-first.
	oldest := segments[len(segments)-compaction.Threshold:]
	sources := make([]string, len(oldest))
	for i, k := range oldest {
		sources[len(oldest)-1-i] = k
	}
	if runErr := c.comp.Run(ctx, sources); runErr != nil {
		c.retryAttempt++
		if c.retryAttempt >= compaction.MaxConsecutiveFailures {
			c.log.Error("compaction exhausted retries, giving up this cycle", "error", runErr)
			c.compactionNeeded.Set(false)
			c.retryAttempt = 0
			return 0, runErr
		}
		backoff := compaction.Backoff[min(c.retryAttempt-1, len(compaction.Backoff)-1)]
		return backoff, runErr
	}

	c.retryAttempt = 0
	c.compactionNeeded.Set(false)
	return 0, nil
}

// Invalidate drops cached manager state, per spec.md §4.12: "Caches of the
// C4/C8 managers are invalidated on namespace reset or explicit
// invalidate()".
func (c *Coordinator) Invalidate() {
	c.cache.Invalidate()
	c.refs.Invalidate()
}

// Store, Refs, Buffer, Rules, Cache, Namespace expose the component handles to the
// HTTP handler layer (cmd/) without re-deriving them per request.
func (c *Coordinator) Store() *cas.Store           { return c.store }
func (c *Coordinator) Refs() *refstore.Store       { return c.refs }
func (c *Coordinator) Buffer() *buffer.Buffer      { return c.buf }
func (c *Coordinator) Rules() *branchprotect.Store { return c.rules }
func (c *Coordinator) Cache() *castore.Cache       { return c.cache }
func (c *Coordinator) Namespace() string           { return c.namespace }

// Close releases the scratchpad connection.
func (c *Coordinator) Close() error {
	return c.db.Close()
}
