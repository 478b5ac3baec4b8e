package tcc

import (
	"context"
	"errors"
	"time"

	"github.com/boltdb/bolt"
	pkgerrors "github.com/pkg/errors"
)

var boltTransactionsBucket = []byte("tcc_transactions")

// BoltRepository stores records in a single bolt database file.  Every
// conditional write runs inside one read-write bolt transaction.
type BoltRepository struct {
	db  *bolt.DB
	now func() time.Time
}

// BoltRepositoryOptions configures OpenBoltRepository.
type BoltRepositoryOptions struct {
	// Timeout bounds how long to wait for the file lock.
	Timeout time.Duration

	// ReadOnly opens the file without write access.
	ReadOnly bool
}

// OpenBoltRepository opens or creates the database file at path.
func OpenBoltRepository(path string, opts *BoltRepositoryOptions) (*BoltRepository, error) {
	if opts == nil {
		opts = &BoltRepositoryOptions{}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 1 * time.Second
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:  opts.Timeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, wrapStorageError(err, "open "+path)
	}

	if !opts.ReadOnly {
		err = db.Update(func(btx *bolt.Tx) error {
			_, err := btx.CreateBucketIfNotExists(boltTransactionsBucket)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, wrapStorageError(err, "create bucket")
		}
	}

	return &BoltRepository{
		db:  db,
		now: time.Now,
	}, nil
}

// Close releases the database file.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

// Create implements Repository.
func (r *BoltRepository) Create(ctx context.Context, tx *Transaction) error {
	data, err := encodeTransaction(tx)
	if err != nil {
		return err
	}

	key := []byte(tx.xid.String())
	err = r.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(boltTransactionsBucket)
		if b.Get(key) != nil {
			return pkgerrors.Wrapf(ErrTransactionExists, "%s", tx.xid)
		}
		return b.Put(key, data)
	})
	return r.classify(err, "create")
}

// Update implements Repository.
func (r *BoltRepository) Update(ctx context.Context, tx *Transaction) error {
	expectedVersion, restore := stageUpdate(tx, r.now())

	data, err := encodeTransaction(tx)
	if err != nil {
		restore()
		return err
	}

	key := []byte(tx.xid.String())
	err = r.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(boltTransactionsBucket)

		existing := b.Get(key)
		if existing == nil {
			return pkgerrors.Wrapf(ErrOptimisticLock, "%s no longer exists", tx.xid)
		}

		stored, err := decodeTransaction(existing)
		if err != nil {
			return err
		}
		if stored.version != expectedVersion {
			return pkgerrors.Wrapf(ErrOptimisticLock, "%s expected version %d but found %d", tx.xid, expectedVersion, stored.version)
		}

		return b.Put(key, data)
	})
	if err != nil {
		restore()
		return r.classify(err, "update")
	}
	return nil
}

// Delete implements Repository.
func (r *BoltRepository) Delete(ctx context.Context, tx *Transaction) error {
	err := r.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(boltTransactionsBucket).Delete([]byte(tx.xid.String()))
	})
	return r.classify(err, "delete")
}

// FindByXid implements Repository.
func (r *BoltRepository) FindByXid(ctx context.Context, xid Xid) (*Transaction, error) {
	var tx *Transaction
	err := r.db.View(func(btx *bolt.Tx) error {
		b := btx.Bucket(boltTransactionsBucket)
		if b == nil {
			return pkgerrors.Wrapf(ErrTransactionNotFound, "%s", xid)
		}

		data := b.Get([]byte(xid.String()))
		if data == nil {
			return pkgerrors.Wrapf(ErrTransactionNotFound, "%s", xid)
		}

		var err error
		tx, err = decodeTransaction(data)
		return err
	})
	if err != nil {
		return nil, r.classify(err, "find")
	}
	return tx, nil
}

// FindAllUnmodifiedSince implements Repository.
func (r *BoltRepository) FindAllUnmodifiedSince(ctx context.Context, since time.Time) ([]*Transaction, error) {
	var txs []*Transaction
	err := r.db.View(func(btx *bolt.Tx) error {
		b := btx.Bucket(boltTransactionsBucket)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			tx, err := decodeTransaction(v)
			if err != nil {
				return pkgerrors.Wrapf(err, "record %s", k)
			}
			if tx.lastUpdateTime.Before(since) {
				txs = append(txs, tx)
			}
			return nil
		})
	})
	if err != nil {
		return nil, r.classify(err, "scan")
	}
	return txs, nil
}

// classify passes contract errors through and marks everything else as a
// storage failure.
func (r *BoltRepository) classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOptimisticLock) || errors.Is(err, ErrTransactionExists) ||
		errors.Is(err, ErrTransactionNotFound) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return wrapStorageError(err, op)
}
