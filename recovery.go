package tcc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	skipReasonRetryCeiling = "retry count exceeded"
	skipReasonBranchYoung  = "branch within retry window"
	skipReasonBranchTrying = "branch still trying"
)

// Recovery terminates transactions that were left behind by a crashed or
// failed caller.  Each sweep loads every record not modified within the
// recover duration and confirms or cancels it.
type Recovery struct {
	repo            Repository
	terminator      *Terminator
	maxRetryCount   int
	recoverDuration time.Duration
	logger          *zap.Logger
	hooks           CoordinatorHooks
	metrics         *coordinatorMetrics
	tracer          trace.Tracer
	now             func() time.Time
}

// StartRecover runs one recovery sweep.  A failure to recover one
// transaction does not stop the sweep; only a failure to load the stale
// records is returned.
func (r *Recovery) StartRecover(ctx context.Context) (*RecoveryResult, error) {
	ctx, span := r.tracer.Start(ctx, "tcc.recovery.sweep")
	defer span.End()

	now := r.now()
	txs, err := r.repo.FindAllUnmodifiedSince(ctx, now.Add(-r.recoverDuration))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		r.logger.Error("failed to load transactions for recovery", zap.Error(err))
		return nil, err
	}

	result := &RecoveryResult{
		Scanned:  len(txs),
		Attempts: make([]RecoveryAttempt, 0, len(txs)),
	}
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempts = append(result.Attempts, r.recoverTransaction(ctx, tx, now))
	}

	span.SetAttributes(
		attribute.Int("tcc.recovery.scanned", result.Scanned),
		attribute.Int("tcc.recovery.succeeded", result.Succeeded()),
		attribute.Int("tcc.recovery.failed", result.Failed()),
	)
	return result, nil
}

func (r *Recovery) recoverTransaction(ctx context.Context, tx *Transaction, now time.Time) RecoveryAttempt {
	attempt := RecoveryAttempt{
		Xid:          tx.xid,
		Status:       tx.status,
		Type:         tx.ttype,
		RetriedCount: tx.retriedCount,
	}

	skip := func(reason string) RecoveryAttempt {
		attempt.Skipped = true
		attempt.SkipReason = reason
		r.metrics.recoverySkipped.Add(ctx, 1, txAttributes(tx))
		return attempt
	}

	if tx.retriedCount > r.maxRetryCount {
		r.logger.Error("recover failed with max retry count, will not try again",
			zap.Stringer("xid", tx.xid),
			zap.Stringer("status", tx.status),
			zap.Int("retriedCount", tx.retriedCount))
		return skip(skipReasonRetryCeiling)
	}

	if tx.ttype == TransactionTypeBranch &&
		tx.createTime.Add(time.Duration(r.maxRetryCount)*r.recoverDuration).After(now) {
		return skip(skipReasonBranchYoung)
	}

	if tx.status != StatusConfirming && tx.status != StatusCancelling && tx.ttype != TransactionTypeRoot {
		return skip(skipReasonBranchTrying)
	}

	r.metrics.recoveryAttempts.Add(ctx, 1, txAttributes(tx))

	err := r.terminate(ctx, tx)
	attempt.RetriedCount = tx.retriedCount
	if err != nil {
		classified := classifyError(err)
		attempt.Error = err
		attempt.Class = classified.Class
		r.metrics.recordFailure(ctx, r.metrics.recoveryFailures, tx, err)

		fields := []zap.Field{
			zap.Stringer("xid", tx.xid),
			zap.Stringer("status", tx.status),
			zap.Int("retriedCount", tx.retriedCount),
			zap.Error(err),
		}
		if classified.Class == ErrorClassFailOptimisticLock {
			r.logger.Warn("optimistic lock conflict while recovering transaction", fields...)
		} else {
			r.logger.Error("recover failed", fields...)
		}
		return attempt
	}

	attempt.Success = true
	r.logger.Info("recovered transaction",
		zap.Stringer("xid", tx.xid),
		zap.Stringer("status", tx.status),
		zap.Int("retriedCount", tx.retriedCount))
	return attempt
}

func (r *Recovery) terminate(ctx context.Context, tx *Transaction) error {
	ctx, span := r.tracer.Start(ctx, "tcc.recovery.terminate", trace.WithAttributes(
		attribute.String("tcc.xid", tx.xid.String()),
		attribute.String("tcc.status", tx.status.String()),
	))
	defer span.End()

	err := r.hooks.BeforeRecoverTransaction(tx.xid)
	if err != nil {
		return err
	}

	tx.AddRetriedCount()

	if tx.status == StatusConfirming {
		err = r.persistAndRun(ctx, tx, tx.Commit)
	} else {
		tx.ChangeStatus(StatusCancelling)
		err = r.persistAndRun(ctx, tx, tx.Rollback)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recovery failed")
	}
	return err
}

func (r *Recovery) persistAndRun(ctx context.Context, tx *Transaction, run func(context.Context, *Terminator) error) error {
	if err := r.repo.Update(ctx, tx); err != nil {
		return err
	}
	if err := r.hooks.BeforeRecoverTermination(tx.xid); err != nil {
		return err
	}
	if err := run(ctx, r.terminator); err != nil {
		return err
	}
	return r.repo.Delete(ctx, tx)
}
