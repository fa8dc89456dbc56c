// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package branchprotect

import (
	"testing"

	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/stretchr/testify/require"
)

func TestCheckAllowsWithNoRules(t *testing.T) {
	v := Check(Update{Name: "refs/heads/main", New: plumbing.NewHash("1111111111111111111111111111111111111111")}, nil)
	require.True(t, v.Allowed)
}

func TestCheckDeniesForcePush(t *testing.T) {
	rules := []Rule{{Pattern: "main", PreventForcePush: true, Enabled: true}}
	u := Update{
		Name:        "refs/heads/main",
		Old:         plumbing.NewHash("1111111111111111111111111111111111111111"),
		New:         plumbing.NewHash("2222222222222222222222222222222222222222"),
		IsForcePush: true,
	}
	v := Check(u, rules)
	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "force-push")
}

func TestCheckAllowsNonForcePushUnderForcePushRule(t *testing.T) {
	rules := []Rule{{Pattern: "main", PreventForcePush: true, Enabled: true}}
	u := Update{
		Name: "refs/heads/main",
		Old:  plumbing.NewHash("1111111111111111111111111111111111111111"),
		New:  plumbing.NewHash("2222222222222222222222222222222222222222"),
	}
	v := Check(u, rules)
	require.True(t, v.Allowed)
}

func TestCheckDeniesDeletion(t *testing.T) {
	rules := []Rule{{Pattern: "release/*", PreventDeletion: true, Enabled: true}}
	u := Update{
		Name: "refs/heads/release/v1",
		Old:  plumbing.NewHash("1111111111111111111111111111111111111111"),
		New:  plumbing.Hash{},
	}
	v := Check(u, rules)
	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "deletion")
}

func TestCheckDeniesRequiredReviews(t *testing.T) {
	rules := []Rule{{Pattern: "*", RequiredReviews: 1, Enabled: true}}
	u := Update{Name: "refs/heads/feature/x", New: plumbing.NewHash("1111111111111111111111111111111111111111")}
	v := Check(u, rules)
	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "required reviews")
}

func TestCheckIgnoresDisabledRule(t *testing.T) {
	rules := []Rule{{Pattern: "*", PreventForcePush: true, Enabled: false}}
	u := Update{Name: "refs/heads/main", IsForcePush: true, New: plumbing.NewHash("1111111111111111111111111111111111111111")}
	v := Check(u, rules)
	require.True(t, v.Allowed)
}

func TestMatchesSingleSegmentWildcard(t *testing.T) {
	require.True(t, matches("release/*", "release/v1"))
	require.False(t, matches("release/*", "release/v1/hotfix"))
	require.True(t, matches("*", "anything/at/all"))
	require.True(t, matches("main", "main"))
	require.False(t, matches("main", "develop"))
}

func TestCheckStopsAtFirstDenyingRule(t *testing.T) {
	rules := []Rule{
		{Pattern: "main", Enabled: true}, // matches but denies nothing, so evaluation continues
		{Pattern: "main", RequiredReviews: 1, Enabled: true},
	}
	u := Update{Name: "refs/heads/main", New: plumbing.NewHash("1111111111111111111111111111111111111111")}
	v := Check(u, rules)
	require.False(t, v.Allowed)
	require.Same(t, &rules[1], v.Rule)
}
