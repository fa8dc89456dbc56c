// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package refstore

import (
	"errors"
	"testing"

	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, KindBranch, KindOf("refs/heads/main"))
	require.Equal(t, KindTag, KindOf("refs/tags/v1"))
	require.Equal(t, KindOrdinary, KindOf("HEAD"))
	require.Equal(t, KindOrdinary, KindOf("refs/notes/commits"))
}

func TestIsAbsent(t *testing.T) {
	require.True(t, isAbsent(plumbing.ZeroHash))
	require.False(t, isAbsent(plumbing.NewHash("1111111111111111111111111111111111111111")))
}

func TestBatchErrorUnwrap(t *testing.T) {
	inner := &ErrLockFailed{Reason: "lock failed: ref has been updated"}
	be := &BatchError{Name: "refs/heads/main", Err: inner}

	require.Equal(t, "refs/heads/main: lock failed: ref has been updated", be.Error())
	require.True(t, errors.As(error(be), new(*BatchError)))
	var target *ErrLockFailed
	require.True(t, errors.As(error(be), &target))
	require.Same(t, inner, target)
}

func TestIsErrLockFailed(t *testing.T) {
	require.True(t, IsErrLockFailed(&ErrLockFailed{Reason: "x"}))
	require.False(t, IsErrLockFailed(errors.New("other")))
}
