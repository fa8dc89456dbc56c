// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package branchprotect evaluates glob-pattern protection rules against a
// push command (C9, spec.md §4.9). Pattern matching is written directly
// from the spec text: stdlib path.Match covers the "exact, suffix /*, bare
// *" grammar spec.md describes, so no third-party glob library is pulled
// in for this component (DESIGN.md: stdlib justified here).
package branchprotect

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"strings"

	"github.com/antgroup/zeta-edge/modules/plumbing"
)

// Rule is one row of the branch_protection table.
type Rule struct {
	Pattern           string
	RequiredReviews   int
	PreventForcePush  bool
	PreventDeletion   bool
	Enabled           bool
}

// Update describes one push command being evaluated against the rule set.
type Update struct {
	Name        plumbing.ReferenceName
	Old         plumbing.Hash
	New         plumbing.Hash
	IsForcePush bool
}

// Verdict is the result of Check.
type Verdict struct {
	Allowed bool
	Reason  string
	Rule    *Rule
}

// Store loads the rule set from the scratchpad.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Rules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		"select pattern, required_reviews, prevent_force_push, prevent_deletion, enabled from branch_protection")
	if err != nil {
		return nil, fmt.Errorf("branchprotect: load rules: %w", err)
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.Pattern, &r.RequiredReviews, &r.PreventForcePush, &r.PreventDeletion, &r.Enabled); err != nil {
			return nil, fmt.Errorf("branchprotect: scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// matches implements spec.md §4.9's pattern grammar: exact match, a
// trailing "/*" matching exactly one remaining path segment, or a bare "*"
// matching anything.
func matches(pattern string, name string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		rest := strings.TrimPrefix(name, prefix+"/")
		if rest == name {
			return false // name didn't have the prefix
		}
		return !strings.Contains(rest, "/")
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// Check evaluates rules against u in list order, denying on the first
// matching rule that forbids the update (spec.md §4.9).
func Check(u Update, rules []Rule) Verdict {
	branchName := u.Name.BranchName()
	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		if !matches(r.Pattern, branchName) && !matches(r.Pattern, string(u.Name)) {
			continue
		}
		if u.New.IsZero() && r.PreventDeletion {
			return Verdict{Allowed: false, Reason: "branch protection: deletion forbidden by rule " + r.Pattern, Rule: r}
		}
		if u.IsForcePush && r.PreventForcePush {
			return Verdict{Allowed: false, Reason: "branch protection: force-push forbidden by rule " + r.Pattern, Rule: r}
		}
		if r.RequiredReviews > 0 {
			return Verdict{Allowed: false, Reason: "branch protection: required reviews not satisfied by rule " + r.Pattern, Rule: r}
		}
	}
	return Verdict{Allowed: true}
}
