package tcc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachingRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewCachingRepository(NewMemoryRepository(), 0, 0)

	tx := newRootTransaction(time.Now())
	require.NoError(t, repo.Create(ctx, tx))
	tx.ChangeStatus(StatusCancelling)

	first, err := repo.FindByXid(ctx, tx.xid)
	require.NoError(t, err)
	assert.Equal(t, StatusTrying, first.Status(), "cache must not share the created record")

	require.NoError(t, first.EnlistParticipant(newTestParticipant(t, tx.xid, "alice")))
	first.ChangeStatus(StatusConfirming)

	second, err := repo.FindByXid(ctx, tx.xid)
	require.NoError(t, err)
	assert.Equal(t, StatusTrying, second.Status())
	assert.Empty(t, second.Participants())
	assert.Equal(t, 1, repo.CachedLen())
}

func TestCachingRepositoryEvictsOnConflict(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryRepository()
	repo := NewCachingRepository(backend, 0, 0)

	tx := newRootTransaction(time.Now())
	require.NoError(t, repo.Create(ctx, tx))

	// Another process moves the record on without going through the cache.
	other, err := backend.FindByXid(ctx, tx.xid)
	require.NoError(t, err)
	other.ChangeStatus(StatusConfirming)
	require.NoError(t, backend.Update(ctx, other))

	cached, err := repo.FindByXid(ctx, tx.xid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Version(), "cache still holds the old version")

	assert.ErrorIs(t, repo.Update(ctx, cached), ErrOptimisticLock)
	assert.Equal(t, 0, repo.CachedLen(), "failed update should evict")

	fresh, err := repo.FindByXid(ctx, tx.xid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version())
	assert.Equal(t, StatusConfirming, fresh.Status())
}

func TestCachingRepositoryDeleteEvicts(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryRepository()
	repo := NewCachingRepository(backend, 0, 0)

	tx := newRootTransaction(time.Now())
	require.NoError(t, repo.Create(ctx, tx))
	require.NoError(t, repo.Delete(ctx, tx))
	assert.Equal(t, 0, repo.CachedLen())

	_, err := repo.FindByXid(ctx, tx.xid)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	assert.Same(t, backend, repo.Backend())
}

func TestCachingRepositoryCapacity(t *testing.T) {
	ctx := context.Background()
	repo := NewCachingRepository(NewMemoryRepository(), 2, time.Minute)

	var xids []Xid
	for i := 0; i < 3; i++ {
		tx := newRootTransaction(time.Now())
		require.NoError(t, repo.Create(ctx, tx))
		xids = append(xids, tx.xid)
	}
	assert.Equal(t, 2, repo.CachedLen())

	// The evicted entry is still served from the backend.
	found, err := repo.FindByXid(ctx, xids[0])
	require.NoError(t, err)
	assert.Equal(t, xids[0], found.Xid())
}
