package tcc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Manager drives the lifecycle of the transactions active in a call chain.
// The chain's transactions are held by the Scope attached to its context
// with WithScope.
type Manager struct {
	repo       Repository
	terminator *Terminator
	pool       *workerPool
	logger     *zap.Logger
	hooks      CoordinatorHooks
	metrics    *coordinatorMetrics
	tracer     trace.Tracer
	now        func() time.Time
}

func (m *Manager) scope(ctx context.Context) (*Scope, error) {
	scope := ScopeFromContext(ctx)
	if scope == nil {
		return nil, ErrNoTransactionScope
	}
	return scope, nil
}

// Begin creates and persists a root transaction and makes it current.
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	scope, err := m.scope(ctx)
	if err != nil {
		return nil, err
	}

	tx := newRootTransaction(m.now())
	if err := m.repo.Create(ctx, tx); err != nil {
		return nil, err
	}
	scope.push(tx)

	m.metrics.begun.Add(ctx, 1, txAttributes(tx))
	m.logger.Debug("began root transaction", zap.Stringer("xid", tx.xid))
	return tx, nil
}

// PropagationNewBegin creates and persists a branch transaction from an
// incoming context and makes it current.
func (m *Manager) PropagationNewBegin(ctx context.Context, txCtx *TransactionContext) (*Transaction, error) {
	scope, err := m.scope(ctx)
	if err != nil {
		return nil, err
	}

	tx := newBranchTransaction(txCtx, m.now())
	if err := m.repo.Create(ctx, tx); err != nil {
		return nil, err
	}
	scope.push(tx)

	m.metrics.begun.Add(ctx, 1, txAttributes(tx))
	m.logger.Debug("began branch transaction", zap.Stringer("xid", tx.xid))
	return tx, nil
}

// PropagationExistBegin loads the branch named by an incoming context, moves
// it to the context's status and makes it current.  A missing record yields
// ErrNoExistingTransaction.
func (m *Manager) PropagationExistBegin(ctx context.Context, txCtx *TransactionContext) (*Transaction, error) {
	scope, err := m.scope(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := m.repo.FindByXid(ctx, txCtx.Xid)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, fmt.Errorf("%s: %w", txCtx.Xid, ErrNoExistingTransaction)
	}
	if err != nil {
		return nil, err
	}

	tx.ChangeStatus(txCtx.Status)
	scope.push(tx)
	return tx, nil
}

// Commit moves the current transaction to confirming, persists it and
// confirms its participants.  The record is deleted once every participant
// confirmed.  With async set, the participants are confirmed on the worker
// pool and failures are only logged.
func (m *Manager) Commit(ctx context.Context, async bool) error {
	tx := m.CurrentTransaction(ctx)
	if tx == nil {
		return ErrNoActiveTransaction
	}

	tx.ChangeStatus(StatusConfirming)
	if err := m.repo.Update(ctx, tx); err != nil {
		return err
	}

	if async {
		err := m.pool.Submit(ctx, func(ctx context.Context) {
			_ = m.commitTransaction(ctx, tx)
		})
		if err != nil {
			m.logger.Warn("compensable transaction async submit confirm failed, recovery job will try to confirm later",
				zap.Stringer("xid", tx.xid), zap.Error(err))
			return &ConfirmingError{Xid: tx.xid, cause: err}
		}
		return nil
	}

	return m.commitTransaction(ctx, tx)
}

// Rollback moves the current transaction to cancelling, persists it and
// cancels its participants.  The record is deleted once every participant
// cancelled.  With async set, the participants are cancelled on the worker
// pool and failures are only logged.
func (m *Manager) Rollback(ctx context.Context, async bool) error {
	tx := m.CurrentTransaction(ctx)
	if tx == nil {
		return ErrNoActiveTransaction
	}

	tx.ChangeStatus(StatusCancelling)
	if err := m.repo.Update(ctx, tx); err != nil {
		return err
	}

	if async {
		err := m.pool.Submit(ctx, func(ctx context.Context) {
			_ = m.rollbackTransaction(ctx, tx)
		})
		if err != nil {
			m.logger.Warn("compensable transaction async rollback failed, recovery job will try to rollback later",
				zap.Stringer("xid", tx.xid), zap.Error(err))
			return &CancellingError{Xid: tx.xid, cause: err}
		}
		return nil
	}

	return m.rollbackTransaction(ctx, tx)
}

func (m *Manager) commitTransaction(ctx context.Context, tx *Transaction) error {
	ctx, span := m.tracer.Start(ctx, "tcc.commit", trace.WithAttributes(
		attribute.String("tcc.xid", tx.xid.String()),
		attribute.String("tcc.type", tx.ttype.String()),
	))
	defer span.End()

	err := m.hooks.BeforeCommit(tx.xid)
	if err == nil {
		err = tx.Commit(ctx, m.terminator)
	}
	if err == nil {
		err = m.repo.Delete(ctx, tx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm failed")
		m.metrics.recordFailure(ctx, m.metrics.terminationFailures, tx, err)
		m.logger.Warn("compensable transaction confirm failed, recovery job will try to confirm later",
			zap.Stringer("xid", tx.xid), zap.Error(err))
		return &ConfirmingError{Xid: tx.xid, cause: err}
	}

	m.metrics.committed.Add(ctx, 1, txAttributes(tx))
	return nil
}

func (m *Manager) rollbackTransaction(ctx context.Context, tx *Transaction) error {
	ctx, span := m.tracer.Start(ctx, "tcc.rollback", trace.WithAttributes(
		attribute.String("tcc.xid", tx.xid.String()),
		attribute.String("tcc.type", tx.ttype.String()),
	))
	defer span.End()

	err := m.hooks.BeforeRollback(tx.xid)
	if err == nil {
		err = tx.Rollback(ctx, m.terminator)
	}
	if err == nil {
		err = m.repo.Delete(ctx, tx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		m.metrics.recordFailure(ctx, m.metrics.terminationFailures, tx, err)
		m.logger.Warn("compensable transaction rollback failed, recovery job will try to rollback later",
			zap.Stringer("xid", tx.xid), zap.Error(err))
		return &CancellingError{Xid: tx.xid, cause: err}
	}

	m.metrics.rolledBack.Add(ctx, 1, txAttributes(tx))
	return nil
}

// SyncTransaction persists the current transaction as it is.
func (m *Manager) SyncTransaction(ctx context.Context) error {
	tx := m.CurrentTransaction(ctx)
	if tx == nil {
		return ErrNoActiveTransaction
	}
	return m.repo.Update(ctx, tx)
}

// EnlistParticipant adds a participant to the current transaction and
// persists it.
func (m *Manager) EnlistParticipant(ctx context.Context, p *Participant) error {
	tx := m.CurrentTransaction(ctx)
	if tx == nil {
		return ErrNoActiveTransaction
	}
	if err := tx.EnlistParticipant(p); err != nil {
		return err
	}
	return m.repo.Update(ctx, tx)
}

// CleanAfterCompletion pops tx from the current scope.  It is a no-op for a
// nil transaction or an empty scope.  Popping anything other than the top
// of the stack is a programming error and panics.
func (m *Manager) CleanAfterCompletion(ctx context.Context, tx *Transaction) {
	if tx == nil {
		return
	}

	scope := ScopeFromContext(ctx)
	top := scope.top()
	if top == nil {
		return
	}
	if top != tx {
		panic(fmt.Sprintf("illegal transaction when clean after completion: expected %s, current %s", tx.xid, top.xid))
	}
	scope.pop()
}

// CurrentTransaction returns the top of the current scope, or nil.
func (m *Manager) CurrentTransaction(ctx context.Context) *Transaction {
	return ScopeFromContext(ctx).top()
}

// IsTransactionActive reports whether the current scope holds a transaction.
func (m *Manager) IsTransactionActive(ctx context.Context) bool {
	return m.CurrentTransaction(ctx) != nil
}
