package tcc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolSaturation(t *testing.T) {
	pool := newWorkerPool(1)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	err := pool.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrWorkerPoolSaturated)

	close(release)
	pool.Wait()

	ran := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {
		close(ran)
	}))
	pool.Close()
	<-ran

	assert.ErrorIs(t, pool.Submit(context.Background(), func(ctx context.Context) {}), ErrClosed)
}

func TestWorkerPoolDetachesCancellation(t *testing.T) {
	pool := newWorkerPool(1)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), scopeCtxKey{}, &Scope{}))
	cancel()

	var workErr error
	var scope *Scope
	require.NoError(t, pool.Submit(ctx, func(ctx context.Context) {
		workErr = ctx.Err()
		scope = ScopeFromContext(ctx)
	}))
	pool.Wait()

	assert.NoError(t, workErr, "work must outlive the submitting call")
	assert.NotNil(t, scope, "context values are kept")
}

func TestAsyncSubmitFailureReturnsTerminationError(t *testing.T) {
	env := newTestEnv(t, func(config *Config) {
		config.AsyncTerminatePoolSize = 1
	})
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, env.coordinator.pool.Submit(ctx, func(ctx context.Context) {
		<-release
	}))

	err := env.coordinator.Interceptor().InterceptCompensable(ctx, CompensableOptions{AsyncConfirm: true}, nil,
		func(ctx context.Context) error {
			_, err := env.debit(ctx, "alice", 1)
			return err
		})

	var confirmErr *ConfirmingError
	require.ErrorAs(t, err, &confirmErr)
	assert.ErrorIs(t, err, ErrWorkerPoolSaturated)
	assert.Empty(t, env.svc.Calls())

	records := env.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, StatusConfirming, records[0].Status())
}
