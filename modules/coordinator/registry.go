// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/antgroup/zeta-edge/config"
	"github.com/antgroup/zeta-edge/modules/oss"
)

// Registry lazily opens and caches one Coordinator per repository
// namespace, the process-wide counterpart to each Coordinator's own
// per-repo single-writer model (spec.md §5: "across repositories there is
// no shared mutable state").
type Registry struct {
	mu           sync.Mutex
	coordinators map[string]*Coordinator

	dsnTemplate string // "%s" substituted with the namespace's scratchpad DB name
	bucketOpts  *oss.NewBucketOptions
	cfg         *config.Config
}

// NewRegistry builds a Registry. dsnTemplate is a DSN with a single %s
// placeholder for the per-namespace scratchpad database name (one schema
// per coordinator, per modules/scratchpad's package doc).
func NewRegistry(dsnTemplate string, bucketOpts *oss.NewBucketOptions, cfg *config.Config) *Registry {
	return &Registry{
		coordinators: make(map[string]*Coordinator),
		dsnTemplate:  dsnTemplate,
		bucketOpts:   bucketOpts,
		cfg:          cfg,
	}
}

// Open returns the namespace's Coordinator, initializing it on first
// access. Concurrent Open calls for the same namespace are serialized so
// Initialize's WAL replay never runs twice.
func (r *Registry) Open(ctx context.Context, namespace string) (*Coordinator, error) {
	namespace = path.Clean("/" + namespace)
	namespace = namespace[1:]
	if namespace == "" {
		return nil, fmt.Errorf("coordinator: empty namespace")
	}

	r.mu.Lock()
	if c, ok := r.coordinators[namespace]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	dbName := dbNameFor(namespace)
	dsn := fmt.Sprintf(r.dsnTemplate, dbName)
	c, err := Initialize(ctx, namespace, dsn, r.bucketOpts, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("coordinator: initialize %s: %w", namespace, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.coordinators[namespace]; ok {
		_ = c.Close()
		return existing, nil
	}
	r.coordinators[namespace] = c
	return c, nil
}

// Reset closes and evicts a namespace's Coordinator, so the next Open
// re-initializes it from scratch (spec.md §4.12's "namespace reset").
func (r *Registry) Reset(namespace string) error {
	r.mu.Lock()
	c, ok := r.coordinators[namespace]
	delete(r.coordinators, namespace)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// RunAlarms drives every currently-open coordinator's Alarm on a fixed
// tick, the process-level clock for C12's alarm()-driven compaction
// (spec.md §4.12). Per-coordinator backoff is honored by skipping a
// coordinator's alarm until its own requested delay has elapsed.
func (r *Registry) RunAlarms(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	next := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.mu.Lock()
			snapshot := make(map[string]*Coordinator, len(r.coordinators))
			for ns, c := range r.coordinators {
				snapshot[ns] = c
			}
			r.mu.Unlock()

			for ns, c := range snapshot {
				if due, ok := next[ns]; ok && now.Before(due) {
					continue
				}
				delay, err := c.Alarm(ctx)
				if err != nil {
					c.log.Warn("alarm compaction failed", "error", err)
				}
				if delay > 0 {
					next[ns] = now.Add(delay)
				} else {
					delete(next, ns)
				}
			}
		}
	}
}

// dbNameFor derives a scratchpad database name from a namespace, replacing
// path separators since MySQL database names can't contain "/".
func dbNameFor(namespace string) string {
	out := make([]byte, len(namespace))
	for i := 0; i < len(namespace); i++ {
		if namespace[i] == '/' {
			out[i] = '_'
		} else {
			out[i] = namespace[i]
		}
	}
	return "zeta_" + string(out)
}
