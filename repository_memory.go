package tcc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryRepository keeps encoded records in process memory.  It is intended
// for tests and single process deployments that accept losing pending
// transactions on restart.
type MemoryRepository struct {
	lock    sync.Mutex
	records map[Xid][]byte
	now     func() time.Time
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[Xid][]byte),
		now:     time.Now,
	}
}

// Create implements Repository.
func (r *MemoryRepository) Create(ctx context.Context, tx *Transaction) error {
	data, err := encodeTransaction(tx)
	if err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.records[tx.xid]; ok {
		return errors.Wrapf(ErrTransactionExists, "%s", tx.xid)
	}
	r.records[tx.xid] = data
	return nil
}

// Update implements Repository.
func (r *MemoryRepository) Update(ctx context.Context, tx *Transaction) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	expectedVersion, restore := stageUpdate(tx, r.now())

	existing, ok := r.records[tx.xid]
	if !ok {
		restore()
		return errors.Wrapf(ErrOptimisticLock, "%s no longer exists", tx.xid)
	}

	stored, err := decodeTransaction(existing)
	if err != nil {
		restore()
		return err
	}
	if stored.version != expectedVersion {
		restore()
		return errors.Wrapf(ErrOptimisticLock, "%s expected version %d but found %d", tx.xid, expectedVersion, stored.version)
	}

	data, err := encodeTransaction(tx)
	if err != nil {
		restore()
		return err
	}
	r.records[tx.xid] = data
	return nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(ctx context.Context, tx *Transaction) error {
	r.lock.Lock()
	delete(r.records, tx.xid)
	r.lock.Unlock()
	return nil
}

// FindByXid implements Repository.
func (r *MemoryRepository) FindByXid(ctx context.Context, xid Xid) (*Transaction, error) {
	r.lock.Lock()
	data, ok := r.records[xid]
	r.lock.Unlock()

	if !ok {
		return nil, errors.Wrapf(ErrTransactionNotFound, "%s", xid)
	}
	return decodeTransaction(data)
}

// FindAllUnmodifiedSince implements Repository.  Results are ordered by
// last update time, oldest first.
func (r *MemoryRepository) FindAllUnmodifiedSince(ctx context.Context, since time.Time) ([]*Transaction, error) {
	r.lock.Lock()
	snapshot := make([][]byte, 0, len(r.records))
	for _, data := range r.records {
		snapshot = append(snapshot, data)
	}
	r.lock.Unlock()

	var txs []*Transaction
	for _, data := range snapshot {
		tx, err := decodeTransaction(data)
		if err != nil {
			return nil, err
		}
		if tx.lastUpdateTime.Before(since) {
			txs = append(txs, tx)
		}
	}

	sort.Slice(txs, func(i, j int) bool {
		return txs[i].lastUpdateTime.Before(txs[j].lastUpdateTime)
	})
	return txs, nil
}
