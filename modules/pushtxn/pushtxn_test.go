// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pushtxn

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/antgroup/zeta-edge/modules/cas"
	"github.com/antgroup/zeta-edge/modules/object"
	"github.com/antgroup/zeta-edge/modules/oss"
	"github.com/antgroup/zeta-edge/modules/plumbing"
	"github.com/stretchr/testify/require"
)

// memBucket is a minimal in-memory oss.Bucket for store read/write tests,
// avoiding any dependency on a real S3 endpoint or the scratchpad.
type memBucket struct {
	objs map[string][]byte
}

func newMemBucket() *memBucket { return &memBucket{objs: make(map[string][]byte)} }

func (b *memBucket) Stat(ctx context.Context, resourcePath string) (*oss.Stat, error) {
	data, ok := b.objs[resourcePath]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return &oss.Stat{Size: int64(len(data))}, nil
}

type memRangeReader struct {
	io.Reader
}

func (m *memRangeReader) Close() error  { return nil }
func (m *memRangeReader) Size() int64   { return 0 }
func (m *memRangeReader) Range() string { return "" }

func (b *memBucket) Open(ctx context.Context, resourcePath string, start, length int64) (oss.RangeReader, error) {
	data, ok := b.objs[resourcePath]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return &memRangeReader{Reader: bytes.NewReader(data)}, nil
}

func (b *memBucket) Delete(ctx context.Context, resourcePath string) error {
	delete(b.objs, resourcePath)
	return nil
}

func (b *memBucket) Put(ctx context.Context, resourcePath string, r io.Reader, mime string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objs[resourcePath] = data
	return nil
}

func (b *memBucket) DeleteMultipleObjects(ctx context.Context, objectKeys []string) error {
	for _, k := range objectKeys {
		delete(b.objs, k)
	}
	return nil
}

func (b *memBucket) ListObjects(ctx context.Context, prefix, continuationToken string) ([]*oss.Object, string, error) {
	return nil, "", nil
}

var _ oss.Bucket = (*memBucket)(nil)

func putCommit(t *testing.T, store *cas.Store, sha plumbing.Hash, parents ...plumbing.Hash) {
	t.Helper()
	c := &object.Commit{
		Tree:    plumbing.NewHash("4444444444444444444444444444444444444444"),
		Parents: parents,
		Author:  object.Signature{Name: "a", Email: "a@x.test", When: time.Unix(0, 0)},
	}
	c.Committer = c.Author
	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	require.NoError(t, store.Put(context.Background(), sha, "commit", buf.Bytes()))
}

func newTestStore() *cas.Store {
	return cas.New(newMemBucket(), nil, "ns/")
}

func TestIsForcePushFastForwardIsNotForce(t *testing.T) {
	store := newTestStore()
	txn := &Txn{store: store}

	old := plumbing.NewHash("1111111111111111111111111111111111111111")
	mid := plumbing.NewHash("2222222222222222222222222222222222222222")
	tip := plumbing.NewHash("3333333333333333333333333333333333333333")

	putCommit(t, store, old)
	putCommit(t, store, mid, old)
	putCommit(t, store, tip, mid)

	force, err := txn.isForcePush(context.Background(), old, tip)
	require.NoError(t, err)
	require.False(t, force)
}

func TestIsForcePushRewrittenHistoryIsForce(t *testing.T) {
	store := newTestStore()
	txn := &Txn{store: store}

	old := plumbing.NewHash("1111111111111111111111111111111111111111")
	root := plumbing.NewHash("5555555555555555555555555555555555555555")
	newTip := plumbing.NewHash("6666666666666666666666666666666666666666")

	putCommit(t, store, old)
	putCommit(t, store, root) // unrelated root, no parents
	putCommit(t, store, newTip, root)

	force, err := txn.isForcePush(context.Background(), old, newTip)
	require.NoError(t, err)
	require.True(t, force)
}

func TestIsForcePushCreateOrDeleteIsNeverForce(t *testing.T) {
	store := newTestStore()
	txn := &Txn{store: store}

	sha := plumbing.NewHash("1111111111111111111111111111111111111111")

	force, err := txn.isForcePush(context.Background(), plumbing.Hash{}, sha)
	require.NoError(t, err)
	require.False(t, force)

	force, err = txn.isForcePush(context.Background(), sha, plumbing.Hash{})
	require.NoError(t, err)
	require.False(t, force)
}

func TestIsForcePushSameTipIsNotForce(t *testing.T) {
	store := newTestStore()
	txn := &Txn{store: store}
	sha := plumbing.NewHash("1111111111111111111111111111111111111111")
	putCommit(t, store, sha)

	force, err := txn.isForcePush(context.Background(), sha, sha)
	require.NoError(t, err)
	require.False(t, force)
}
