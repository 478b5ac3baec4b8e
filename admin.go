package tcc

import (
	"context"
	"time"
)

// Admin provides operator actions on stored transaction records, mainly for
// records that the recovery job gave up on.
type Admin struct {
	repo Repository
	now  func() time.Time
}

// NewAdmin returns an Admin working on repo.
func NewAdmin(repo Repository) *Admin {
	return &Admin{
		repo: repo,
		now:  time.Now,
	}
}

// List returns every stored record.
func (a *Admin) List(ctx context.Context) ([]*Transaction, error) {
	return a.repo.FindAllUnmodifiedSince(ctx, farFuture)
}

// ListStale returns the records not modified for at least olderThan.
func (a *Admin) ListStale(ctx context.Context, olderThan time.Duration) ([]*Transaction, error) {
	return a.repo.FindAllUnmodifiedSince(ctx, a.now().Add(-olderThan))
}

// ListAbandoned returns the records whose retry count exceeds maxRetryCount,
// which the recovery job no longer attempts.
func (a *Admin) ListAbandoned(ctx context.Context, maxRetryCount int) ([]*Transaction, error) {
	txs, err := a.List(ctx)
	if err != nil {
		return nil, err
	}

	var abandoned []*Transaction
	for _, tx := range txs {
		if tx.retriedCount > maxRetryCount {
			abandoned = append(abandoned, tx)
		}
	}
	return abandoned, nil
}

// Get returns the record for xid.
func (a *Admin) Get(ctx context.Context, xid Xid) (*Transaction, error) {
	return a.repo.FindByXid(ctx, xid)
}

// ResetRetryCount sets the retry count of a record back to zero so that the
// recovery job attempts it again.
func (a *Admin) ResetRetryCount(ctx context.Context, xid Xid) (*Transaction, error) {
	tx, err := a.repo.FindByXid(ctx, xid)
	if err != nil {
		return nil, err
	}

	tx.ResetRetriedCount()
	if err := a.repo.Update(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Delete removes the record for xid without terminating its participants.
func (a *Admin) Delete(ctx context.Context, xid Xid) error {
	tx, err := a.repo.FindByXid(ctx, xid)
	if err != nil {
		return err
	}
	return a.repo.Delete(ctx, tx)
}
