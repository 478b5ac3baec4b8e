package tcc

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ProceedFunc runs the wrapped business logic of an intercepted call.
type ProceedFunc func(ctx context.Context) error

// CompensableOptions is the declaration of a compensable method.
type CompensableOptions struct {
	Propagation  Propagation
	AsyncConfirm bool
	AsyncCancel  bool
}

// CompensableMethod describes a compensable method for Coordinate: the try
// operation being called and the confirm and cancel operations registered
// for the same target type and parameter types.
type CompensableMethod struct {
	TargetType       string
	TryOperation     string
	ConfirmOperation string
	CancelOperation  string
	ParameterTypes   []string

	// ContextEditor names the editor used to find or place the transaction
	// context in the call.  Empty selects the positional editor.
	ContextEditor string
}

// Interceptor is the boundary between business calls and the transaction
// manager.  It classifies each call and runs the root or provider handling.
type Interceptor struct {
	manager     *Manager
	editors     *EditorRegistry
	delayCancel func(error) bool
	logger      *zap.Logger
}

// InterceptCompensable classifies the call and dispatches it to root or
// provider handling.  Calls that need no transaction handling run proceed
// directly.  Illegal calls fail with ErrIllegalPropagation without running
// proceed.
func (i *Interceptor) InterceptCompensable(ctx context.Context, opts CompensableOptions, txCtx *TransactionContext, proceed ProceedFunc) error {
	ctx = WithScope(ctx)

	methodType, err := Classify(opts.Propagation, i.manager.IsTransactionActive(ctx), txCtx)
	if err != nil {
		return err
	}

	switch methodType {
	case MethodTypeRoot:
		return i.InterceptRoot(ctx, opts, proceed)
	case MethodTypeProvider:
		return i.InterceptProvider(ctx, opts, txCtx, proceed)
	default:
		return proceed(ctx)
	}
}

// InterceptRoot begins a root transaction and runs proceed as its try phase.
// Success commits.  A failure matching the delay-cancel classification is
// persisted as it is for the recovery job to cancel later; any other failure
// rolls back.  The try failure is returned to the caller either way.
func (i *Interceptor) InterceptRoot(ctx context.Context, opts CompensableOptions, proceed ProceedFunc) error {
	ctx = WithScope(ctx)

	tx, err := i.manager.Begin(ctx)
	if err != nil {
		return err
	}
	defer i.manager.CleanAfterCompletion(ctx, tx)

	if tryErr := proceed(ctx); tryErr != nil {
		if i.delayCancel(tryErr) {
			if err := i.manager.SyncTransaction(ctx); err != nil {
				i.logger.Warn("failed to sync delayed cancel transaction",
					zap.Stringer("xid", tx.xid), zap.Error(err))
			}
		} else {
			i.logger.Warn("compensable transaction trying failed",
				zap.Stringer("xid", tx.xid), zap.Error(tryErr))
			if err := i.manager.Rollback(ctx, opts.AsyncCancel); err != nil {
				i.logger.Warn("compensable transaction rollback after trying failure failed",
					zap.Stringer("xid", tx.xid), zap.Error(err))
			}
		}
		return tryErr
	}

	return i.manager.Commit(ctx, opts.AsyncConfirm)
}

// InterceptProvider serves a call arriving with a transaction context.  A
// trying context begins a branch and runs proceed.  A confirming or
// cancelling context commits or rolls back the stored branch without running
// proceed, and a branch that no longer exists is treated as already done.
func (i *Interceptor) InterceptProvider(ctx context.Context, opts CompensableOptions, txCtx *TransactionContext, proceed ProceedFunc) error {
	ctx = WithScope(ctx)

	var tx *Transaction
	defer func() {
		i.manager.CleanAfterCompletion(ctx, tx)
	}()

	var err error
	switch txCtx.Status {
	case StatusTrying:
		tx, err = i.manager.PropagationNewBegin(ctx, txCtx)
		if err != nil {
			return err
		}
		return proceed(ctx)

	case StatusConfirming:
		tx, err = i.manager.PropagationExistBegin(ctx, txCtx)
		if errors.Is(err, ErrNoExistingTransaction) {
			i.logger.Debug("branch already confirmed", zap.Stringer("xid", txCtx.Xid))
			return nil
		} else if err != nil {
			return err
		}
		return i.manager.Commit(ctx, opts.AsyncConfirm)

	case StatusCancelling:
		tx, err = i.manager.PropagationExistBegin(ctx, txCtx)
		if errors.Is(err, ErrNoExistingTransaction) {
			i.logger.Debug("branch already cancelled", zap.Stringer("xid", txCtx.Xid))
			return nil
		} else if err != nil {
			return err
		}
		return i.manager.Rollback(ctx, opts.AsyncCancel)
	}

	return pkgerrors.Wrapf(ErrIllegalState, "transaction context %s has status %s", txCtx.Xid, txCtx.Status)
}

// Coordinate enlists a participant for a compensable call made while the
// current transaction is trying.  The participant's confirm and cancel
// invocations reuse the call's parameter types and arguments.  When the
// call carries no transaction context, a trying context for a new branch is
// created.  The returned context is the one to send with the call; it is nil
// when no transaction is trying.
func (i *Interceptor) Coordinate(ctx context.Context, method CompensableMethod, args ...interface{}) (*TransactionContext, error) {
	tx := i.manager.CurrentTransaction(ctx)
	if tx == nil || tx.status != StatusTrying {
		return nil, nil
	}

	editorName := method.ContextEditor
	if editorName == "" {
		editorName = PositionalContextEditorName
	}
	editor, err := i.editors.Get(editorName)
	if err != nil {
		return nil, err
	}

	call, err := NewInvocation(method.TargetType, method.TryOperation, method.ParameterTypes, args...)
	if err != nil {
		return nil, err
	}

	txCtx, err := editor.Extract(call)
	if err != nil {
		return nil, err
	}

	var branchXid Xid
	if txCtx != nil && txCtx.Xid.SameGlobal(tx.xid) {
		branchXid = txCtx.Xid
	} else {
		branchXid = NewBranchXid(tx.xid.GlobalID)
	}

	if txCtx == nil {
		txCtx = NewTransactionContext(branchXid, StatusTrying)
		if err := editor.Inject(txCtx, call); err != nil {
			return nil, err
		}
	}

	confirm := call.Clone()
	confirm.Operation = method.ConfirmOperation
	cancel := call.Clone()
	cancel.Operation = method.CancelOperation

	if err := i.manager.EnlistParticipant(ctx, NewParticipant(branchXid, confirm, cancel, editorName)); err != nil {
		return nil, err
	}
	return txCtx, nil
}

// Compensable runs fn as a compensable call and returns its result.  For
// provider calls that only confirm or cancel, fn does not run and the zero
// value of T is returned.
func Compensable[T any](ctx context.Context, i *Interceptor, opts CompensableOptions, txCtx *TransactionContext, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := i.InterceptCompensable(ctx, opts, txCtx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
