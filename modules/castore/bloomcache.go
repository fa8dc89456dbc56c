// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package castore is the bloom-filter + exact-SHA cache (C3, spec.md §4.3):
// two O(1) predicates over the CAS, may_exist (conservative bloom probe,
// no false negatives after Add) and definitely_exists (exact table),
// persisted to the scratchpad so both self-heal across restarts. The
// ristretto-backed hot path is carried over from
// pkg/serve/odb/cache.go's cacheDB/NewCacheDB shape; the bloom half has no
// teacher precedent and is named, out-of-pack, in DESIGN.md
// (github.com/bits-and-blooms/bloom/v3).
package castore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dgraph-io/ristretto/v2"
)

// DefaultFalsePositiveRate matches spec.md §4.3's "default ~1%".
const DefaultFalsePositiveRate = 0.01

// DriftThreshold is the fraction by which the persisted item_count may
// drift from the filter's estimated count before a rebuild is forced
// (spec.md §4.3: "rebuilt ... when item_count drifts beyond a threshold").
const DriftThreshold = 0.2

// RebuildFromSegments is supplied by the CAS store (C4) so the filter can
// rebuild itself from Parquet segment indices without castore importing
// the cas package (which itself depends on castore for existence probes).
type RebuildFromSegments func(ctx context.Context) ([]plumbing.Hash, error)

// Cache combines the probabilistic filter with an exact in-memory+scratchpad
// cache of recently added SHAs.
type Cache struct {
	db *sql.DB

	mu        sync.RWMutex
	filter    *bloom.BloomFilter
	itemCount uint64
	expected  uint64

	exact *ristretto.Cache[string, struct{}]
}

// Open loads (or initializes) the bloom filter row and the exact-SHA cache.
func Open(ctx context.Context, db *sql.DB, expectedItems uint64) (*Cache, error) {
	exact, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: int64(expectedItems) * 10,
		MaxCost:     1 << 26,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("castore: exact cache: %w", err)
	}
	c := &Cache{db: db, exact: exact, expected: expectedItems}

	var bits []byte
	var itemCount uint64
	err = db.QueryRowContext(ctx, "select bits, item_count from bloom_filter where id = 1").Scan(&bits, &itemCount)
	switch {
	case err == sql.ErrNoRows:
		c.filter = bloom.NewWithEstimates(max(expectedItems, 1024), DefaultFalsePositiveRate)
	case err != nil:
		return nil, fmt.Errorf("castore: load bloom filter: %w", err)
	default:
		f := &bloom.BloomFilter{}
		if err := f.UnmarshalJSON(bits); err != nil {
			return nil, fmt.Errorf("castore: decode bloom filter: %w", err)
		}
		c.filter = f
		c.itemCount = itemCount
	}
	return c, nil
}

// MayExist is the conservative bloom probe: false means "definitely not
// present"; true means "maybe present, check definitively".
func (c *Cache) MayExist(sha plumbing.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.Test(sha[:])
}

// DefinitelyExists checks the exact cache (scratchpad-backed sha_cache,
// read-through ristretto in front).
func (c *Cache) DefinitelyExists(ctx context.Context, sha plumbing.Hash) (bool, error) {
	if _, ok := c.exact.Get(sha.String()); ok {
		return true, nil
	}
	var count int
	if err := c.db.QueryRowContext(ctx, "select count(*) from sha_cache where sha = ?", sha.String()).Scan(&count); err != nil {
		return false, fmt.Errorf("castore: exact lookup: %w", err)
	}
	if count > 0 {
		c.exact.Set(sha.String(), struct{}{}, 1)
		return true, nil
	}
	return false, nil
}

// Add records sha as present: it is added to the bloom filter (never
// removed, preserving "no false negatives after add"), the exact cache,
// and the persisted sha_cache table.
func (c *Cache) Add(ctx context.Context, sha plumbing.Hash, objType string, size int64) error {
	c.mu.Lock()
	c.filter.Add(sha[:])
	c.itemCount++
	c.mu.Unlock()

	c.exact.Set(sha.String(), struct{}{}, 1)
	_, err := c.db.ExecContext(ctx,
		"insert into sha_cache(sha, type, size, added_at) values(?,?,?,now()) on duplicate key update type=values(type), size=values(size)",
		sha.String(), objType, size)
	if err != nil {
		return fmt.Errorf("castore: persist exact entry: %w", err)
	}
	return c.persistFilter(ctx)
}

func (c *Cache) persistFilter(ctx context.Context) error {
	c.mu.RLock()
	bits, err := c.filter.MarshalJSON()
	itemCount := c.itemCount
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("castore: marshal bloom filter: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		"insert into bloom_filter(id, bits, k, item_count, updated_at) values(1,?,?,?,now()) on duplicate key update bits=values(bits), k=values(k), item_count=values(item_count), updated_at=values(updated_at)",
		bits, c.filter.K(), itemCount)
	if err != nil {
		return fmt.Errorf("castore: persist bloom filter: %w", err)
	}
	return nil
}

// Invalidate drops the in-memory exact cache, e.g. on a coordinator
// namespace reset. The persisted bloom filter and sha_cache table are
// untouched; DefinitelyExists simply falls through to the scratchpad again.
func (c *Cache) Invalidate() {
	c.exact.Clear()
}

// NeedsRebuild reports whether item_count has drifted beyond
// DriftThreshold from the filter's own estimated count, per spec.md §4.3.
func (c *Cache) NeedsRebuild() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.expected == 0 {
		return false
	}
	drift := float64(c.itemCount) - float64(c.expected)
	if drift < 0 {
		drift = -drift
	}
	return drift/float64(c.expected) > DriftThreshold
}

// Rebuild reconstructs the filter from the CAS's own segment indices,
// invoked on recovery or when NeedsRebuild is true (spec.md §4.3).
func (c *Cache) Rebuild(ctx context.Context, list RebuildFromSegments) error {
	shas, err := list(ctx)
	if err != nil {
		return fmt.Errorf("castore: rebuild: list segments: %w", err)
	}
	c.mu.Lock()
	c.filter = bloom.NewWithEstimates(max(uint64(len(shas)), 1024), DefaultFalsePositiveRate)
	for _, sha := range shas {
		c.filter.Add(sha[:])
	}
	c.itemCount = uint64(len(shas))
	c.expected = c.itemCount
	c.mu.Unlock()
	return c.persistFilter(ctx)
}
