// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package reflog is the append-only ref transaction log (C7, spec.md §4.7):
// an in-memory append list backed by the scratchpad's ref_log table, with
// periodic checkpoints so replay need not always start from version 0.
// Entry/Push are carried over in spirit from
// modules/zeta/reflog/reflog.go's Entry/Push shape, reinterpreted around a
// monotonic version counter instead of a file-backed log.
package reflog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/antgroup/zeta-edge/modules/plumbing"
)

// CheckpointInterval is the default number of entries between snapshots
// (spec.md §4.7: "every N entries, default 100").
const CheckpointInterval = 100

// Entry is one ref-log record: the ref's value before and after the update.
type Entry struct {
	Version int64
	Name    plumbing.ReferenceName
	Old     plumbing.Hash
	New     plumbing.Hash
}

// Deleted reports whether this entry records a ref deletion.
func (e *Entry) Deleted() bool { return e.New == plumbing.ZeroHash }

// State is a materialized {name → {sha, version}} snapshot.
type State map[plumbing.ReferenceName]RefState

// RefState is one ref's value as of a particular log version.
type RefState struct {
	Hash    plumbing.Hash
	Version int64
}

// Log is the ref-log handle for one repo. It keeps the current version in
// memory and persists every entry plus periodic checkpoints to the
// scratchpad so recovery need not replay from the beginning.
type Log struct {
	db      *sql.DB
	version int64
}

// Open loads the current version (the highest version persisted in
// ref_log) so Append can continue assigning
// monotonically increasing versions across restarts.
func Open(ctx context.Context, db *sql.DB) (*Log, error) {
	l := &Log{db: db}
	var maxVersion sql.NullInt64
	if err := db.QueryRowContext(ctx, "select max(version) from ref_log").Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("reflog: open: %w", err)
	}
	l.version = maxVersion.Int64
	return l, nil
}

// Append assigns the next version to (name, old, new) and persists it,
// through tx when one is given. Every CheckpointInterval versions it also
// writes a checkpoint, through the Log's own connection rather than tx.
func (l *Log) Append(ctx context.Context, tx *sql.Tx, name plumbing.ReferenceName, old, new plumbing.Hash) (*Entry, error) {
	l.version++
	e := &Entry{Version: l.version, Name: name, Old: old, New: new}
	const stmt = "insert into ref_log(version, ref_name, old_sha, new_sha, created_at) values(?,?,?,?,now())"
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, stmt, e.Version, string(e.Name), e.Old.String(), e.New.String())
	} else {
		_, err = l.db.ExecContext(ctx, stmt, e.Version, string(e.Name), e.Old.String(), e.New.String())
	}
	if err != nil {
		l.version--
		return nil, fmt.Errorf("reflog: append: %w", err)
	}
	if l.version%CheckpointInterval == 0 {
		if err := l.checkpoint(ctx); err != nil {
			return e, err
		}
	}
	return e, nil
}

// Version returns the most recently assigned version.
func (l *Log) Version() int64 { return l.version }

// Snapshot returns the materialized ref state by forward replay from the
// nearest checkpoint at or before atVersion, with deletions honored.
func (l *Log) Snapshot(ctx context.Context, atVersion int64) (State, error) {
	state := State{}
	var fromVersion int64
	var checkpointed []byte
	row := l.db.QueryRowContext(ctx, "select version, state_json from ref_log_checkpoint where id = 1 and version <= ?", atVersion)
	if err := row.Scan(&fromVersion, &checkpointed); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("reflog: snapshot: load checkpoint: %w", err)
	} else if err == nil {
		if err := decodeState(checkpointed, state); err != nil {
			return nil, err
		}
	}

	rows, err := l.db.QueryContext(ctx,
		"select version, ref_name, old_sha, new_sha from ref_log where version > ? and version <= ? order by version asc",
		fromVersion, atVersion)
	if err != nil {
		return nil, fmt.Errorf("reflog: snapshot: replay: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		var name, oldSha, newSha string
		if err := rows.Scan(&e.Version, &name, &oldSha, &newSha); err != nil {
			return nil, fmt.Errorf("reflog: snapshot: scan: %w", err)
		}
		e.Name = plumbing.ReferenceName(name)
		if newSha == "" || newSha == plumbing.ZERO_OID {
			delete(state, e.Name)
			continue
		}
		state[e.Name] = RefState{Hash: plumbing.NewHash(newSha), Version: e.Version}
	}
	return state, rows.Err()
}

// checkpoint persists the current snapshot so future replay can start here
// instead of version 0.
func (l *Log) checkpoint(ctx context.Context) error {
	state, err := l.Snapshot(ctx, l.version)
	if err != nil {
		return err
	}
	blob := encodeState(state)
	_, err = l.db.ExecContext(ctx,
		"insert into ref_log_checkpoint(id, version, state_json) values(1,?,?) on duplicate key update version=values(version), state_json=values(state_json)",
		l.version, blob)
	if err != nil {
		return fmt.Errorf("reflog: checkpoint: %w", err)
	}
	return nil
}

// Fork computes a branch log's state as replay(parent, baseVersion) composed
// with replay(branch) (spec.md §4.7: "(parent_log, base_version,
// branch_log)"). parent and branch may be the same *Log opened against
// different repos' scratchpads; Fork itself performs no I/O beyond the two
// Snapshot calls.
func Fork(ctx context.Context, parent *Log, baseVersion int64, branch *Log) (State, error) {
	base, err := parent.Snapshot(ctx, baseVersion)
	if err != nil {
		return nil, fmt.Errorf("reflog: fork: parent snapshot: %w", err)
	}
	overlay, err := branch.Snapshot(ctx, branch.Version())
	if err != nil {
		return nil, fmt.Errorf("reflog: fork: branch snapshot: %w", err)
	}
	merged := make(State, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged, nil
}
