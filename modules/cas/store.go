// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/antgroup/zeta-edge/modules/castore"
	"github.com/antgroup/zeta-edge/modules/oss"
	"github.com/antgroup/zeta-edge/modules/plumbing"
)

// LargeObjectThreshold indirects bodies at or above this size through a
// side blob key instead of inlining them in the Parquet row (spec.md §4.4:
// "Large objects indirect through the side blob path").
const LargeObjectThreshold = 8 << 20

// Store is the C4 handle: a bucket of immutable Parquet segments, fronted
// by the C3 bloom/exact cache for existence probing.
type Store struct {
	bucket oss.Bucket
	cache  *castore.Cache
	prefix string // per-repo key prefix under the shared bucket

	mu       sync.RWMutex // get/has/put/flush take RLock; compact takes Lock
	segments []string     // known segment keys, newest-last
}

func New(bucket oss.Bucket, cache *castore.Cache, repoPrefix string) *Store {
	return &Store{bucket: bucket, cache: cache, prefix: repoPrefix}
}

func (s *Store) key(segmentKey string) string {
	return s.prefix + segmentKey
}

func (s *Store) blobKey(sha plumbing.Hash) string {
	return s.prefix + "large/" + sha.String()
}

// ListSegments returns known segment keys, newest first.
func (s *Store) ListSegments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.segments))
	for i, k := range s.segments {
		out[len(s.segments)-1-i] = k
	}
	return out
}

// ReadSegment fetches and decodes one segment, optionally filtering to the
// given SHAs (empty means "all rows").
func (s *Store) ReadSegment(ctx context.Context, key string, shas []plumbing.Hash) ([]Row, error) {
	rc, err := s.bucket.Open(ctx, s.key(key), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("cas: read segment %s: %w", key, err)
	}
	defer rc.Close()
	data, err := readAll(rc)
	if err != nil {
		return nil, fmt.Errorf("cas: read segment %s: %w", key, err)
	}
	rows, err := DecodeSegment(data)
	if err != nil {
		return nil, fmt.Errorf("cas: decode segment %s: %w", key, err)
	}
	if len(shas) == 0 {
		return rows, nil
	}
	want := make(map[string]bool, len(shas))
	for _, h := range shas {
		want[h.String()] = true
	}
	filtered := rows[:0]
	for _, r := range rows {
		if want[r.SHA] {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// WriteSegment encodes rows and writes them as a new immutable segment,
// returning its key.
func (s *Store) WriteSegment(ctx context.Context, rows []Row) (string, error) {
	data, err := EncodeSegment(rows)
	if err != nil {
		return "", err
	}
	segKey := NewSegmentKey()
	if err := s.bucket.Put(ctx, s.key(segKey), newByteReader(data), "application/vnd.apache.parquet"); err != nil {
		return "", fmt.Errorf("cas: write segment: %w", err)
	}
	s.mu.Lock()
	s.segments = append(s.segments, segKey)
	s.mu.Unlock()
	return segKey, nil
}

// Put writes a single object as a new one-row segment. Callers normally go
// through C5's write buffer instead, which batches many objects per
// segment; Put exists for direct/small-scale callers and tests.
func (s *Store) Put(ctx context.Context, sha plumbing.Hash, objType string, body []byte) error {
	row := newRow(sha, objType, body)
	if len(body) >= LargeObjectThreshold {
		if err := s.bucket.Put(ctx, s.blobKey(sha), newByteReader(body), "application/octet-stream"); err != nil {
			return fmt.Errorf("cas: put large object %s: %w", sha, err)
		}
		row.Body = nil
	}
	if _, err := s.WriteSegment(ctx, []Row{row}); err != nil {
		return err
	}
	if s.cache != nil {
		return s.cache.Add(ctx, sha, objType, row.Size)
	}
	return nil
}

// Get performs spec.md §4.4's point read: consult C3 first, then scan
// known segments newest-first, stopping at the first (non-tombstoned) hit.
func (s *Store) Get(ctx context.Context, sha plumbing.Hash) ([]byte, string, error) {
	if s.cache != nil && !s.cache.MayExist(sha) {
		return nil, "", plumbing.NoSuchObject(sha)
	}
	s.mu.RLock()
	segments := make([]string, len(s.segments))
	copy(segments, s.segments)
	s.mu.RUnlock()

	for i := len(segments) - 1; i >= 0; i-- {
		rc, err := s.bucket.Open(ctx, s.key(segments[i]), 0, 0)
		if err != nil {
			continue
		}
		data, err := readAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		row, err := PointQuery(data, sha)
		if err != nil || row == nil {
			continue
		}
		if row.Tombstone {
			return nil, "", plumbing.NoSuchObject(sha)
		}
		body := row.Body
		if body == nil && row.Size > 0 {
			blob, err := s.bucket.Open(ctx, s.blobKey(sha), 0, 0)
			if err != nil {
				return nil, "", fmt.Errorf("cas: open large object %s: %w", sha, err)
			}
			body, err = readAll(blob)
			blob.Close()
			if err != nil {
				return nil, "", fmt.Errorf("cas: read large object %s: %w", sha, err)
			}
		}
		return body, row.Type, nil
	}
	return nil, "", plumbing.NoSuchObject(sha)
}

// Has is the exact membership predicate, preferring the cache's
// definitely_exists table and falling back to Get when the cache is
// unavailable or stale.
func (s *Store) Has(ctx context.Context, sha plumbing.Hash) (bool, error) {
	if s.cache != nil {
		if exists, err := s.cache.DefinitelyExists(ctx, sha); err == nil && exists {
			return true, nil
		}
	}
	_, _, err := s.Get(ctx, sha)
	if plumbing.IsNoSuchObject(err) {
		return false, nil
	}
	return err == nil, err
}

// Delete appends a tombstone row; the superseded row in earlier segments
// is only reclaimed at compaction (spec.md §4.4).
func (s *Store) Delete(ctx context.Context, sha plumbing.Hash) error {
	if _, err := s.WriteSegment(ctx, []Row{tombstoneRow(sha)}); err != nil {
		return err
	}
	return nil
}

// ListAllSHAs is used by C3's Rebuild to reconstruct the bloom filter from
// segment indices; it scans every known segment.
func (s *Store) ListAllSHAs(ctx context.Context) ([]plumbing.Hash, error) {
	s.mu.RLock()
	segments := make([]string, len(s.segments))
	copy(segments, s.segments)
	s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []plumbing.Hash
	for _, key := range segments {
		rows, err := s.ReadSegment(ctx, key, nil)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if r.Tombstone || seen[r.SHA] {
				continue
			}
			seen[r.SHA] = true
			out = append(out, plumbing.NewHash(r.SHA))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// DeleteSegmentObject removes a whole segment object from the bucket
// (used by compaction to reclaim superseded or abandoned segments, as
// opposed to Delete which tombstones a single object's SHA).
func (s *Store) DeleteSegmentObject(ctx context.Context, key string) error {
	return s.bucket.Delete(ctx, s.key(key))
}

// SetSegments replaces the known segment list, used after compaction swaps
// in a replacement set (C6 holds the write lock across the call).
func (s *Store) SetSegments(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = keys
}

// Lock/Unlock and RLock/RUnlock expose the reader/writer lock spec.md §5
// describes: compact() takes the write lock; get/has/put/flush take the
// read lock.
func (s *Store) Lock()    { s.mu.Lock() }
func (s *Store) Unlock()  { s.mu.Unlock() }
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }
