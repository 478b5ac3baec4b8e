package tcc

import (
	"context"
	"time"
)

// Repository persists transaction records.  Implementations must be safe
// for concurrent use.
//
// Create fails with ErrTransactionExists if a record with the same Xid is
// already stored.  Update only succeeds if the stored version equals the
// version held by tx; on success the version is incremented and the last
// update time set, on failure ErrOptimisticLock is returned and tx is left
// as it was.  Delete of a missing record is not an error.  FindByXid
// returns ErrTransactionNotFound when no record exists.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	Update(ctx context.Context, tx *Transaction) error
	Delete(ctx context.Context, tx *Transaction) error
	FindByXid(ctx context.Context, xid Xid) (*Transaction, error)
	FindAllUnmodifiedSince(ctx context.Context, since time.Time) ([]*Transaction, error)
}

// stageUpdate moves tx to its next version ahead of a conditional write.
// The returned func undoes the change if the write does not happen.
func stageUpdate(tx *Transaction, now time.Time) (expectedVersion int64, restore func()) {
	prevVersion := tx.version
	prevTime := tx.lastUpdateTime

	tx.UpdateVersion()
	tx.UpdateTime(now)

	return prevVersion, func() {
		tx.version = prevVersion
		tx.lastUpdateTime = prevTime
	}
}

// farFuture is used to list every record through FindAllUnmodifiedSince.
var farFuture = time.Unix(1<<40, 0)
