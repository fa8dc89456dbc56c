// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package pushtxn is the push transaction state machine (C10, spec.md
// §4.10): Idle -> Buffering -> Flushing -> UpdatingRefs -> Completed|Failed.
// Its shape — integrity pre-check, fan-out store of trees/commits/blobs,
// then a single atomic reference update emitting a per-ref status report —
// is carried over in spirit from the teacher's equivalent push handler,
// reinterpreted around C5/C8 and refstore.ApplyBatch's single-transaction
// ref update instead of per-ref independent commits.
package pushtxn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/antgroup/zeta-edge/modules/branchprotect"
	"github.com/antgroup/zeta-edge/modules/buffer"
	"github.com/antgroup/zeta-edge/modules/cas"
	"github.com/antgroup/zeta-edge/modules/object"
	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/antgroup/zeta-edge/modules/refstore"
)

// maxForcePushWalk bounds the first-parent walk isForcePush performs,
// matching pkg/serve/repo/push.go's checkCommitIntegrity guard against a
// pathological or corrupt parent chain never reaching old or the root.
const maxForcePushWalk = 100_000

type State int

const (
	Idle State = iota
	Buffering
	Flushing
	UpdatingRefs
	Completed
	Failed
)

// ErrOverflow re-exports buffer.ErrOverflow's shape for callers that only
// import pushtxn.
type ErrOverflow = buffer.ErrOverflow

// Command is one ref update requested by the push (spec.md §4.10:
// "{ref, old, new}"). It carries no force-push flag: Execute derives
// force-push status from the object graph once the push's objects are
// flushed (see isForcePush), per the resolution of spec.md's force-push
// Open Question.
type Command struct {
	Ref plumbing.ReferenceName
	Old plumbing.Hash
	New plumbing.Hash
}

// Result is the per-command outcome of execute().
type Result struct {
	Ref    plumbing.ReferenceName
	OK     bool
	Reason string
}

// Txn is one push transaction, scoped to a single repo and a single push
// request; the coordinator (C12) creates a fresh Txn per incoming push.
type Txn struct {
	store  *cas.Store
	buf    *buffer.Buffer
	refs   *refstore.Store
	rules  *branchprotect.Store
	orphan func([]plumbing.Hash) // optional orphan-cleanup sink

	mu      sync.Mutex
	state   State
	pending map[plumbing.Hash]bool
}

func New(store *cas.Store, buf *buffer.Buffer, refs *refstore.Store, rules *branchprotect.Store, orphan func([]plumbing.Hash)) *Txn {
	return &Txn{store: store, buf: buf, refs: refs, rules: rules, orphan: orphan, state: Idle, pending: make(map[plumbing.Hash]bool)}
}

// Refs exposes the ref store handle so the receive-pack glue can inspect
// or seed refs (e.g. HEAD) around a transaction it does not itself own.
func (t *Txn) Refs() *refstore.Store { return t.refs }

func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Txn) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Buffer stages an object for the eventual flush; valid in Idle/Buffering
// (spec.md §4.10: "buffer(sha, type, body) in Idle/Buffering").
func (t *Txn) Buffer(ctx context.Context, sha plumbing.Hash, objType string, body []byte) error {
	t.mu.Lock()
	if t.state != Idle && t.state != Buffering {
		t.mu.Unlock()
		return fmt.Errorf("pushtxn: buffer called in state %d", t.state)
	}
	t.state = Buffering
	t.pending[sha] = true
	t.mu.Unlock()

	return t.buf.Put(ctx, sha, objType, body)
}

// Execute runs spec.md §4.10's four-step protocol: flush, pre-validate,
// atomic ref batch, orphan accounting.
func (t *Txn) Execute(ctx context.Context, commands []Command) ([]Result, error) {
	t.setState(Flushing)
	if err := t.buf.Flush(ctx); err != nil {
		t.setState(Failed)
		return failAll(commands, fmt.Sprintf("atomic push failed: flush error: %v", err)), nil
	}

	if reason, offender, ok := t.preValidate(ctx, commands); !ok {
		t.setState(Failed)
		return failWithOffender(commands, offender, reason), nil
	}

	t.setState(UpdatingRefs)
	results, failedReason, failedRef, ok := t.applyRefBatch(ctx, commands)
	if !ok {
		t.setState(Failed)
		t.accountOrphans(commands, failedRef)
		return failWithOffender(commands, failedRef, failedReason), nil
	}
	t.setState(Completed)
	return results, nil
}

// preValidate asserts every non-delete command's target object exists
// (including just-flushed) and evaluates branch protection for every
// command (spec.md §4.10 step 2).
func (t *Txn) preValidate(ctx context.Context, commands []Command) (reason string, offenderRef plumbing.ReferenceName, ok bool) {
	var rules []branchprotect.Rule
	if t.rules != nil {
		var err error
		rules, err = t.rules.Rules(ctx)
		if err != nil {
			return fmt.Sprintf("branch protection rules unavailable: %v", err), "", false
		}
	}
	for _, cmd := range commands {
		if !cmd.New.IsZero() {
			exists, err := t.store.Has(ctx, cmd.New)
			if err != nil || !exists {
				return fmt.Sprintf("target object %s does not exist", cmd.New), cmd.Ref, false
			}
		}
		forcePush, err := t.isForcePush(ctx, cmd.Old, cmd.New)
		if err != nil {
			return fmt.Sprintf("force-push check failed: %v", err), cmd.Ref, false
		}
		verdict := branchprotect.Check(branchprotect.Update{
			Name: cmd.Ref, Old: cmd.Old, New: cmd.New, IsForcePush: forcePush,
		}, rules)
		if !verdict.Allowed {
			return verdict.Reason, cmd.Ref, false
		}
	}
	return "", "", true
}

// isForcePush is true iff old and new are both set and old is not reached
// by walking new's first-parent ancestry — the same derivation
// pkg/serve/repo/push.go's checkCommitIntegrity uses, rather than trusting
// a client-declared force flag. Deletes and fresh-branch creates (old or
// new zero) are never force-pushes.
func (t *Txn) isForcePush(ctx context.Context, old, new plumbing.Hash) (bool, error) {
	if old.IsZero() || new.IsZero() {
		return false, nil
	}
	cur := new
	for i := 0; i < maxForcePushWalk; i++ {
		if cur == old {
			return false, nil
		}
		body, typeName, err := t.store.Get(ctx, cur)
		if err != nil {
			// old is unreachable from new within the stored graph: a
			// force-push (history was rewritten, or old was pruned).
			return true, nil
		}
		if typeName != "commit" {
			return true, nil
		}
		commit, err := object.DecodeCommit(cur, bytes.NewReader(body))
		if err != nil {
			return false, fmt.Errorf("decode commit %s: %w", cur, err)
		}
		if len(commit.Parents) == 0 {
			return true, nil
		}
		cur = commit.Parents[0]
	}
	return true, nil
}

// applyRefBatch applies every command under ONE refstore transaction via
// refstore.ApplyBatch (spec.md §4.10 step 3: "under a single scratchpad
// transaction"). Either every ref update and its ref-log entry commits
// together, or the whole transaction rolls back and ref_table is left
// byte-identical to its pre-execute state (spec.md §4.10, testable
// property 3) — a later command's failure can never leave an earlier
// command's change durably applied.
func (t *Txn) applyRefBatch(ctx context.Context, commands []Command) (results []Result, reason string, offender plumbing.ReferenceName, ok bool) {
	batch := make([]refstore.BatchCommand, len(commands))
	for i, cmd := range commands {
		batch[i] = refstore.BatchCommand{Name: cmd.Ref, Old: cmd.Old, New: cmd.New, Kind: refstore.KindOf(cmd.Ref)}
	}
	if err := t.refs.ApplyBatch(ctx, batch); err != nil {
		var be *refstore.BatchError
		if errors.As(err, &be) {
			return nil, be.Err.Error(), be.Name, false
		}
		return nil, err.Error(), "", false
	}
	results = make([]Result, len(commands))
	for i, cmd := range commands {
		results[i] = Result{Ref: cmd.Ref, OK: true}
	}
	return results, "", "", true
}

// accountOrphans hands flushed SHAs referenced only by failed commands to
// the orphan-cleanup sink (spec.md §4.10 step 4). It does not delete them
// synchronously.
func (t *Txn) accountOrphans(commands []Command, failedRef plumbing.ReferenceName) {
	if t.orphan == nil {
		return
	}
	t.mu.Lock()
	shas := make([]plumbing.Hash, 0, len(t.pending))
	for sha := range t.pending {
		shas = append(shas, sha)
	}
	t.mu.Unlock()
	if len(shas) > 0 {
		t.orphan(shas)
	}
}

func failAll(commands []Command, reason string) []Result {
	out := make([]Result, len(commands))
	for i, c := range commands {
		out[i] = Result{Ref: c.Ref, OK: false, Reason: reason}
	}
	return out
}

func failWithOffender(commands []Command, offender plumbing.ReferenceName, reason string) []Result {
	out := make([]Result, len(commands))
	for i, c := range commands {
		if c.Ref == offender {
			out[i] = Result{Ref: c.Ref, OK: false, Reason: reason}
			continue
		}
		out[i] = Result{Ref: c.Ref, OK: false, Reason: "atomic push failed: " + reason}
	}
	return out
}
