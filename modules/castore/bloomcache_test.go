// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"testing"

	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, expected uint64) *Cache {
	t.Helper()
	return &Cache{
		filter:   bloom.NewWithEstimates(max(expected, 1024), DefaultFalsePositiveRate),
		expected: expected,
	}
}

func TestMayExistAfterAdd(t *testing.T) {
	c := newTestCache(t, 100)
	sha := plumbing.NewHash("1111111111111111111111111111111111111111")
	require.False(t, c.MayExist(sha))
	c.filter.Add(sha[:])
	require.True(t, c.MayExist(sha))
}

func TestNeedsRebuildWithinDrift(t *testing.T) {
	c := newTestCache(t, 100)
	c.itemCount = 110 // 10% drift, under the 20% threshold
	require.False(t, c.NeedsRebuild())
}

func TestNeedsRebuildBeyondDrift(t *testing.T) {
	c := newTestCache(t, 100)
	c.itemCount = 200 // 100% drift, over the 20% threshold
	require.True(t, c.NeedsRebuild())
}

func TestNeedsRebuildNoExpectation(t *testing.T) {
	c := newTestCache(t, 0)
	c.itemCount = 500
	require.False(t, c.NeedsRebuild())
}
