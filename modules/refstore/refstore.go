// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package refstore is the authoritative ref table with compare-and-swap
// semantics (C8, spec.md §4.8). Its transaction shape — BeginTx, read
// current value, compare, ExecContext, check RowsAffected, Commit or
// Rollback — is carried over from
// pkg/serve/database/update.go's doOrdinaryRefUpdate/DoBranchUpdate, here
// generalized to the single `refs` table spec.md §6 names instead of the
// teacher's branches/tags/refs three-table split, and composed with
// modules/reflog so every successful CAS appends its ref-log entry inside
// the same scratchpad transaction.
package refstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/antgroup/zeta-edge/modules/reflog"
)

// ErrLockFailed is returned by CompareAndSwap when the current value does
// not match expected_old (spec.md §4.10: "lock failed: ref has been
// updated" / "lock failed: ref already exists").
type ErrLockFailed struct {
	Reason string
}

func (e *ErrLockFailed) Error() string { return e.Reason }

// IsErrLockFailed reports whether err is an ErrLockFailed.
func IsErrLockFailed(err error) bool {
	var e *ErrLockFailed
	return errors.As(err, &e)
}

// Kind classifies a ref row (ordinary, branch, tag, symbolic), stored in
// the `kind` column of the refs table.
type Kind int

const (
	KindOrdinary Kind = iota
	KindBranch
	KindTag
	// KindSymbolic marks a row whose target column holds another ref
	// name rather than a SHA (spec.md §3: "kind ∈ {direct, symbolic} —
	// rare, but required for HEAD").
	KindSymbolic
)

// MaxResolveRecursion bounds how many symbolic hops Read will follow
// before giving up, guarding against a ref cycle created by a bad Write.
const MaxResolveRecursion = 1024

// ErrSymbolicRecursion is returned when resolving a name requires more
// than MaxResolveRecursion symbolic hops.
var ErrSymbolicRecursion = errors.New("refstore: symbolic ref recursion exceeded limit")

// Store is the C8 ref table handle: an authoritative table with a
// read-through in-memory cache, invalidated on every successful write.
type Store struct {
	db    *sql.DB
	log   *reflog.Log
	cache map[plumbing.ReferenceName]plumbing.Hash
}

// New wraps an already-migrated scratchpad connection and its ref log.
func New(db *sql.DB, log *reflog.Log) *Store {
	return &Store{db: db, log: log, cache: make(map[plumbing.ReferenceName]plumbing.Hash)}
}

// Read returns the current SHA for name, resolving through any chain of
// symbolic refs (e.g. HEAD -> refs/heads/main -> a commit SHA), or
// ok=false if name (or something it points to) is absent.
func (s *Store) Read(ctx context.Context, name plumbing.ReferenceName) (sha plumbing.Hash, ok bool, err error) {
	if h, hit := s.cache[name]; hit {
		return h, true, nil
	}
	cur := name
	for hop := 0; ; hop++ {
		if hop >= MaxResolveRecursion {
			return plumbing.ZeroHash, false, ErrSymbolicRecursion
		}
		target, kind, found, err := s.readRow(ctx, cur)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		if !found {
			return plumbing.ZeroHash, false, nil
		}
		if kind != KindSymbolic {
			h := plumbing.NewHash(target)
			if cur == name {
				// Only cache direct (non-redirected) lookups: caching a
				// symbolic chain's result under the original name would
				// go stale the moment the final target moves, without
				// this entry's own CompareAndSwap/Write ever touching it.
				s.cache[name] = h
			}
			return h, true, nil
		}
		cur = plumbing.ReferenceName(target)
	}
}

// ReadSymbolic reports whether name is a symbolic ref and, if so, its
// immediate (unresolved) target name — used by ref advertisement's
// `symref=HEAD:<target>` capability, which names the referent ref rather
// than its resolved SHA.
func (s *Store) ReadSymbolic(ctx context.Context, name plumbing.ReferenceName) (target plumbing.ReferenceName, ok bool, err error) {
	raw, kind, found, err := s.readRow(ctx, name)
	if err != nil || !found || kind != KindSymbolic {
		return "", false, err
	}
	return plumbing.ReferenceName(raw), true, nil
}

func (s *Store) readRow(ctx context.Context, name plumbing.ReferenceName) (target string, kind Kind, ok bool, err error) {
	var hex string
	var k int
	err = s.db.QueryRowContext(ctx, "select target, kind from refs where name = ?", string(name)).Scan(&hex, &k)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("refstore: read: %w", err)
	}
	return hex, Kind(k), true, nil
}

// RefSHA pairs a ref name with its current value for List.
type RefSHA struct {
	Name plumbing.ReferenceName
	Hash plumbing.Hash
}

// List returns every ref whose name has the given prefix, ordered by name.
func (s *Store) List(ctx context.Context, prefix string) ([]RefSHA, error) {
	rows, err := s.db.QueryContext(ctx, "select name, target from refs where name like ? order by name asc", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("refstore: list: %w", err)
	}
	defer rows.Close()
	var out []RefSHA
	for rows.Next() {
		var name, hex string
		if err := rows.Scan(&name, &hex); err != nil {
			return nil, fmt.Errorf("refstore: list: scan: %w", err)
		}
		out = append(out, RefSHA{Name: plumbing.ReferenceName(name), Hash: plumbing.NewHash(hex)})
	}
	return out, rows.Err()
}

// Write unconditionally sets name to sha, bypassing CAS. spec.md §4.8:
// "unconditional; rare, used only by restore".
func (s *Store) Write(ctx context.Context, name plumbing.ReferenceName, sha plumbing.Hash, kind Kind) error {
	_, err := s.db.ExecContext(ctx,
		"insert into refs(name, target, kind, updated_at) values(?,?,?,now()) on duplicate key update target=values(target), kind=values(kind), updated_at=values(updated_at)",
		string(name), sha.String(), int(kind))
	if err != nil {
		return fmt.Errorf("refstore: write: %w", err)
	}
	delete(s.cache, name)
	return nil
}

// WriteSymbolic unconditionally points name at another ref by name (e.g.
// HEAD at refs/heads/main), bypassing CAS the same way Write does for
// ordinary refs.
func (s *Store) WriteSymbolic(ctx context.Context, name, targetName plumbing.ReferenceName) error {
	_, err := s.db.ExecContext(ctx,
		"insert into refs(name, target, kind, updated_at) values(?,?,?,now()) on duplicate key update target=values(target), kind=values(kind), updated_at=values(updated_at)",
		string(name), string(targetName), int(KindSymbolic))
	if err != nil {
		return fmt.Errorf("refstore: write symbolic: %w", err)
	}
	delete(s.cache, name)
	return nil
}

// Delete unconditionally removes name.
func (s *Store) Delete(ctx context.Context, name plumbing.ReferenceName) error {
	if _, err := s.db.ExecContext(ctx, "delete from refs where name = ?", string(name)); err != nil {
		return fmt.Errorf("refstore: delete: %w", err)
	}
	delete(s.cache, name)
	return nil
}

// isAbsent reports whether expectedOld means "ref must not exist"
// (spec.md §4.8: null, empty string, or the 40-zero SHA).
func isAbsent(expectedOld plumbing.Hash) bool {
	return expectedOld.IsZero()
}

// CompareAndSwap applies name: expectedOld -> newRev under a single
// scratchpad transaction, appending the corresponding ref-log entry in the
// same transaction scope, per spec.md §4.8/§4.10 step 3. new == the
// 40-zero SHA encodes a delete.
func (s *Store) CompareAndSwap(ctx context.Context, name plumbing.ReferenceName, expectedOld, newRev plumbing.Hash, kind Kind) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("refstore: cas: begin: %w", err)
	}
	if err := s.compareAndSwapTx(ctx, tx, name, expectedOld, newRev, kind); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("refstore: cas: commit: %w", err)
	}
	delete(s.cache, name)
	return nil
}

// BatchCommand is one ref update within an ApplyBatch call.
type BatchCommand struct {
	Name     plumbing.ReferenceName
	Old, New plumbing.Hash
	Kind     Kind
}

// BatchError identifies which command aborted an ApplyBatch call.
type BatchError struct {
	Name plumbing.ReferenceName
	Err  error
}

func (e *BatchError) Error() string { return fmt.Sprintf("%s: %v", e.Name, e.Err) }
func (e *BatchError) Unwrap() error { return e.Err }

// ApplyBatch applies every command in cmds under ONE scratchpad
// transaction (spec.md §4.10 step 3: "the whole batch... under a single
// scratchpad transaction"). Either every command's compare-and-swap and
// ref-log append succeeds and the batch commits together, or the first
// failing command aborts the whole transaction and ref_table is left
// byte-identical to its pre-execute state (spec.md §4.10, testable
// property 3) — unlike applying each command as its own independent
// CompareAndSwap transaction, a later command's failure can never leave
// an earlier command's change durably committed.
func (s *Store) ApplyBatch(ctx context.Context, cmds []BatchCommand) error {
	if len(cmds) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("refstore: batch: begin: %w", err)
	}
	for _, cmd := range cmds {
		if err := s.compareAndSwapTx(ctx, tx, cmd.Name, cmd.Old, cmd.New, cmd.Kind); err != nil {
			_ = tx.Rollback()
			return &BatchError{Name: cmd.Name, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("refstore: batch: commit: %w", err)
	}
	for _, cmd := range cmds {
		delete(s.cache, cmd.Name)
	}
	return nil
}

// compareAndSwapTx holds CompareAndSwap's read-check-write-log logic
// without its own begin/commit, so both CompareAndSwap and ApplyBatch can
// run it against a transaction they already own.
func (s *Store) compareAndSwapTx(ctx context.Context, tx *sql.Tx, name plumbing.ReferenceName, expectedOld, newRev plumbing.Hash, kind Kind) error {
	var currentHex string
	err := tx.QueryRowContext(ctx, "select target from refs where name = ?", string(name)).Scan(&currentHex)
	switch {
	case err == sql.ErrNoRows:
		if !isAbsent(expectedOld) {
			return &ErrLockFailed{Reason: "lock failed: ref has been updated"}
		}
	case err != nil:
		return fmt.Errorf("refstore: cas: read: %w", err)
	default:
		current := plumbing.NewHash(currentHex)
		if isAbsent(expectedOld) {
			return &ErrLockFailed{Reason: "lock failed: ref already exists"}
		}
		if current != expectedOld {
			return &ErrLockFailed{Reason: "lock failed: ref has been updated"}
		}
	}

	if newRev.IsZero() {
		if _, err := tx.ExecContext(ctx, "delete from refs where name = ?", string(name)); err != nil {
			return fmt.Errorf("refstore: cas: delete: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			"insert into refs(name, target, kind, updated_at) values(?,?,?,now()) on duplicate key update target=values(target), updated_at=values(updated_at)",
			string(name), newRev.String(), int(kind)); err != nil {
			return fmt.Errorf("refstore: cas: write: %w", err)
		}
	}

	if s.log != nil {
		if _, err := s.log.Append(ctx, tx, name, expectedOld, newRev); err != nil {
			return fmt.Errorf("refstore: cas: ref log: %w", err)
		}
	}
	return nil
}

// Invalidate drops the entire read-through cache, e.g. after a coordinator
// namespace reset (spec.md §4.12).
func (s *Store) Invalidate() {
	s.cache = make(map[plumbing.ReferenceName]plumbing.Hash)
}

// KindOf classifies a reference name the way pkg/serve/database's
// branches/tags/refs split did, for callers that still need to route by
// kind (e.g. branch protection's is_force_push check).
func KindOf(name plumbing.ReferenceName) Kind {
	switch {
	case strings.HasPrefix(string(name), "refs/heads/"):
		return KindBranch
	case strings.HasPrefix(string(name), "refs/tags/"):
		return KindTag
	default:
		return KindOrdinary
	}
}
