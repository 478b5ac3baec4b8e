package tcc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leaveConfirming runs a root transaction whose confirm fails, leaving a
// confirming record behind.
func leaveConfirming(t *testing.T, env *testEnv, accounts ...string) Xid {
	env.svc.SetFailConfirm(errors.New("ledger offline"))
	defer env.svc.SetFailConfirm(nil)

	var xid Xid
	err := env.coordinator.Interceptor().InterceptCompensable(context.Background(), CompensableOptions{}, nil,
		func(ctx context.Context) error {
			xid = env.coordinator.Manager().CurrentTransaction(ctx).Xid()
			for _, account := range accounts {
				if _, err := env.debit(ctx, account, 1); err != nil {
					return err
				}
			}
			return nil
		})
	var confirmErr *ConfirmingError
	require.ErrorAs(t, err, &confirmErr)
	return xid
}

func TestRecoveryIgnoresFreshRecords(t *testing.T) {
	env := newTestEnv(t, nil)
	leaveConfirming(t, env, "alice")

	result := env.sweep(t, 0)
	assert.Equal(t, 0, result.Scanned)
	assert.Empty(t, env.svc.Calls())
	assert.Len(t, env.records(t), 1)
}

func TestRecoveryCommitsConfirming(t *testing.T) {
	env := newTestEnv(t, nil)
	xid := leaveConfirming(t, env, "alice", "bob")

	result := env.sweep(t, 2*time.Minute)
	require.Len(t, result.Attempts, 1)
	attempt := result.Attempts[0]
	assert.Equal(t, xid, attempt.Xid)
	assert.True(t, attempt.Success)
	assert.Equal(t, 1, attempt.RetriedCount)
	assert.Equal(t, StatusConfirming, attempt.Status)

	assert.Equal(t, []string{"confirm:alice:CONFIRMING", "confirm:bob:CONFIRMING"}, env.svc.Calls())
	assert.Empty(t, env.records(t))
}

func TestRecoveryStopsAtRetryCeiling(t *testing.T) {
	env := newTestEnv(t, func(config *Config) {
		config.MaxRetryCount = 1
	})
	xid := leaveConfirming(t, env, "alice")
	env.svc.SetFailConfirm(errors.New("ledger offline"))

	for retry := 1; retry <= 2; retry++ {
		result := env.sweep(t, 2*time.Minute)
		require.Len(t, result.Attempts, 1)
		assert.Equal(t, 1, result.Failed(), "sweep %d should attempt and fail", retry)
		assert.Equal(t, ErrorClassFailTermination, result.Attempts[0].Class)

		tx, err := env.backend.FindByXid(context.Background(), xid)
		require.NoError(t, err)
		assert.Equal(t, retry, tx.RetriedCount())
	}

	result := env.sweep(t, 2*time.Minute)
	require.Len(t, result.Attempts, 1)
	assert.True(t, result.Attempts[0].Skipped)
	assert.Equal(t, skipReasonRetryCeiling, result.Attempts[0].SkipReason)

	abandoned, err := env.coordinator.Admin().ListAbandoned(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, abandoned, 1)

	_, err = env.coordinator.Admin().ResetRetryCount(context.Background(), xid)
	require.NoError(t, err)
	env.svc.SetFailConfirm(nil)

	result = env.sweep(t, 2*time.Minute)
	assert.Equal(t, 1, result.Succeeded())
	assert.Empty(t, env.records(t))
}

func TestRecoverySkipsBranches(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	branchXid := NewXid()
	err := env.coordinator.Interceptor().InterceptCompensable(ctx, CompensableOptions{},
		NewTransactionContext(branchXid, StatusTrying), func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	// A branch is left alone until MaxRetryCount * RecoverDuration after it
	// was created.
	result := env.sweep(t, 2*time.Minute)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, skipReasonBranchYoung, result.Attempts[0].SkipReason)

	result = env.sweep(t, 10*time.Minute)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, skipReasonBranchTrying, result.Attempts[0].SkipReason)

	tx, err := env.backend.FindByXid(ctx, branchXid)
	require.NoError(t, err)
	assert.Equal(t, 0, tx.RetriedCount())
	assert.Equal(t, StatusTrying, tx.Status())
}

func TestRecoveryCancelsBranch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.hooks.beforeRollback = func(Xid) error {
		return errors.New("crashed before cancel")
	}

	branchXid := NewXid()
	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, env.coordinator.Interceptor().InterceptCompensable(ctx, CompensableOptions{},
		NewTransactionContext(branchXid, StatusTrying), noop))

	err := env.coordinator.Interceptor().InterceptCompensable(ctx, CompensableOptions{},
		NewTransactionContext(branchXid, StatusCancelling), noop)
	var cancelErr *CancellingError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, branchXid, cancelErr.Xid)

	env.hooks.beforeRollback = nil
	result := env.sweep(t, 10*time.Minute)
	require.Len(t, result.Attempts, 1)
	assert.True(t, result.Attempts[0].Success)
	assert.Equal(t, TransactionTypeBranch, result.Attempts[0].Type)
	assert.Empty(t, env.records(t))
}

func TestRecoveryOptimisticLockLeavesRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	xid := leaveConfirming(t, env, "alice")

	env.hooks.beforeRecoverTransaction = func(xid Xid) error {
		// Another coordinator touches the record first.
		tx, err := env.backend.FindByXid(ctx, xid)
		if err != nil {
			return err
		}
		return env.backend.Update(ctx, tx)
	}

	result := env.sweep(t, 2*time.Minute)
	require.Len(t, result.Attempts, 1)
	attempt := result.Attempts[0]
	assert.False(t, attempt.Success)
	assert.ErrorIs(t, attempt.Error, ErrOptimisticLock)
	assert.Equal(t, ErrorClassFailOptimisticLock, attempt.Class)
	assert.Empty(t, env.svc.Calls())

	tx, err := env.backend.FindByXid(ctx, xid)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirming, tx.Status())
	assert.Equal(t, 0, tx.RetriedCount(), "losing writer must not persist its retry")
}

func TestRecoveryTerminationHookFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	xid := leaveConfirming(t, env, "alice")

	env.hooks.beforeRecoverTermination = func(Xid) error {
		return errors.New("crashed after persisting retry")
	}

	result := env.sweep(t, 2*time.Minute)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, 1, result.Failed())

	tx, err := env.backend.FindByXid(ctx, xid)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.RetriedCount(), "retry is persisted before termination")

	env.hooks.beforeRecoverTermination = nil
	result = env.sweep(t, 2*time.Minute)
	assert.Equal(t, 1, result.Succeeded())
	assert.Equal(t, []string{"confirm:alice:CONFIRMING"}, env.svc.Calls())
}

func TestRecoveryResultCounts(t *testing.T) {
	result := &RecoveryResult{
		Scanned: 4,
		Attempts: []RecoveryAttempt{
			{Success: true},
			{Skipped: true, SkipReason: skipReasonBranchTrying},
			{Error: errors.New("failed")},
			{Success: true},
		},
	}
	assert.Equal(t, 2, result.Succeeded())
	assert.Equal(t, 1, result.Failed())
	assert.Equal(t, 1, result.SkippedCount())
}
