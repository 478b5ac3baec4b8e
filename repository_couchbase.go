package tcc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/couchbase/gocbcore/v9"
	pkgerrors "github.com/pkg/errors"
)

// CouchbaseRepositoryOptions configures a CouchbaseRepository.
type CouchbaseRepositoryOptions struct {
	Agent          *gocbcore.Agent
	BucketName     string
	ScopeName      string
	CollectionName string

	// KeyPrefix is prepended to the xid to form the document key.
	KeyPrefix string

	// DurabilityLevel specifies the durability level used for all writes.
	DurabilityLevel DurabilityLevel

	// OperationTimeout is the default timeout for each key-value operation
	// and for the stale record query.
	OperationTimeout time.Duration
}

// CouchbaseRepository stores one JSON document per transaction record.
// Conditional writes are expressed with Add and CAS guarded Replace, and the
// stale record scan runs as a N1QL query over the record type tag.
type CouchbaseRepository struct {
	agent           *gocbcore.Agent
	bucketName      string
	scopeName       string
	collectionName  string
	keyPrefix       string
	durabilityLevel DurabilityLevel
	opTimeout       time.Duration
	now             func() time.Time
}

// NewCouchbaseRepository creates a repository on top of an existing agent.
func NewCouchbaseRepository(opts CouchbaseRepositoryOptions) (*CouchbaseRepository, error) {
	if opts.Agent == nil {
		return nil, pkgerrors.New("a couchbase agent must be provided")
	}
	if opts.BucketName == "" {
		return nil, pkgerrors.New("a bucket name must be provided")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "tcc::"
	}
	if opts.DurabilityLevel == DurabilityLevelUnknown {
		opts.DurabilityLevel = DurabilityLevelMajority
	}
	if opts.OperationTimeout == 0 {
		opts.OperationTimeout = 2500 * time.Millisecond
	}

	return &CouchbaseRepository{
		agent:           opts.Agent,
		bucketName:      opts.BucketName,
		scopeName:       opts.ScopeName,
		collectionName:  opts.CollectionName,
		keyPrefix:       opts.KeyPrefix,
		durabilityLevel: opts.DurabilityLevel,
		opTimeout:       opts.OperationTimeout,
		now:             time.Now,
	}, nil
}

func (r *CouchbaseRepository) key(xid Xid) []byte {
	return []byte(r.keyPrefix + xid.String())
}

func (r *CouchbaseRepository) timeouts(ctx context.Context) (time.Time, time.Duration) {
	var deadline time.Time
	var duraTimeout time.Duration
	if r.opTimeout > 0 {
		deadline = time.Now().Add(r.opTimeout)
		if r.durabilityLevel > DurabilityLevelNone {
			duraTimeout = r.opTimeout
		}
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
		if duraTimeout > 0 {
			duraTimeout = time.Until(ctxDeadline)
		}
	}
	return deadline, duraTimeout
}

type couchbaseDoc struct {
	value []byte
	cas   gocbcore.Cas
}

func (r *CouchbaseRepository) get(ctx context.Context, xid Xid) (*couchbaseDoc, error) {
	deadline, _ := r.timeouts(ctx)

	waitCh := make(chan struct{}, 1)
	var doc *couchbaseDoc
	var opErr error
	_, err := r.agent.Get(gocbcore.GetOptions{
		Key:            r.key(xid),
		ScopeName:      r.scopeName,
		CollectionName: r.collectionName,
		Deadline:       deadline,
	}, func(result *gocbcore.GetResult, err error) {
		if err != nil {
			opErr = err
		} else {
			doc = &couchbaseDoc{value: result.Value, cas: result.Cas}
		}
		waitCh <- struct{}{}
	})
	if err != nil {
		return nil, err
	}
	<-waitCh

	return doc, opErr
}

// Create implements Repository.
func (r *CouchbaseRepository) Create(ctx context.Context, tx *Transaction) error {
	data, err := encodeTransaction(tx)
	if err != nil {
		return err
	}

	deadline, duraTimeout := r.timeouts(ctx)

	waitCh := make(chan error, 1)
	_, err = r.agent.Add(gocbcore.AddOptions{
		Key:                    r.key(tx.xid),
		Value:                  data,
		ScopeName:              r.scopeName,
		CollectionName:         r.collectionName,
		DurabilityLevel:        durabilityLevelToMemd(r.durabilityLevel),
		DurabilityLevelTimeout: duraTimeout,
		Deadline:               deadline,
	}, func(result *gocbcore.StoreResult, err error) {
		waitCh <- err
	})
	if err == nil {
		err = <-waitCh
	}

	if errors.Is(err, gocbcore.ErrDocumentExists) {
		return pkgerrors.Wrapf(ErrTransactionExists, "%s", tx.xid)
	}
	if err != nil {
		return wrapStorageError(err, "add")
	}
	return nil
}

// Update implements Repository.
func (r *CouchbaseRepository) Update(ctx context.Context, tx *Transaction) error {
	expectedVersion, restore := stageUpdate(tx, r.now())

	err := r.update(ctx, tx, expectedVersion)
	if err != nil {
		restore()
		return err
	}
	return nil
}

func (r *CouchbaseRepository) update(ctx context.Context, tx *Transaction, expectedVersion int64) error {
	doc, err := r.get(ctx, tx.xid)
	if errors.Is(err, gocbcore.ErrDocumentNotFound) {
		return pkgerrors.Wrapf(ErrOptimisticLock, "%s no longer exists", tx.xid)
	}
	if err != nil {
		return wrapStorageError(err, "get")
	}

	stored, err := decodeTransaction(doc.value)
	if err != nil {
		return err
	}
	if stored.version != expectedVersion {
		return pkgerrors.Wrapf(ErrOptimisticLock, "%s expected version %d but found %d", tx.xid, expectedVersion, stored.version)
	}

	data, err := encodeTransaction(tx)
	if err != nil {
		return err
	}

	deadline, duraTimeout := r.timeouts(ctx)

	waitCh := make(chan error, 1)
	_, err = r.agent.Replace(gocbcore.ReplaceOptions{
		Key:                    r.key(tx.xid),
		Value:                  data,
		Cas:                    doc.cas,
		ScopeName:              r.scopeName,
		CollectionName:         r.collectionName,
		DurabilityLevel:        durabilityLevelToMemd(r.durabilityLevel),
		DurabilityLevelTimeout: duraTimeout,
		Deadline:               deadline,
	}, func(result *gocbcore.StoreResult, err error) {
		waitCh <- err
	})
	if err == nil {
		err = <-waitCh
	}

	if errors.Is(err, gocbcore.ErrCasMismatch) || errors.Is(err, gocbcore.ErrDocumentNotFound) {
		return pkgerrors.Wrapf(ErrOptimisticLock, "%s was modified concurrently", tx.xid)
	}
	if err != nil {
		return wrapStorageError(err, "replace")
	}
	return nil
}

// Delete implements Repository.
func (r *CouchbaseRepository) Delete(ctx context.Context, tx *Transaction) error {
	deadline, duraTimeout := r.timeouts(ctx)

	waitCh := make(chan error, 1)
	_, err := r.agent.Delete(gocbcore.DeleteOptions{
		Key:                    r.key(tx.xid),
		ScopeName:              r.scopeName,
		CollectionName:         r.collectionName,
		DurabilityLevel:        durabilityLevelToMemd(r.durabilityLevel),
		DurabilityLevelTimeout: duraTimeout,
		Deadline:               deadline,
	}, func(result *gocbcore.DeleteResult, err error) {
		waitCh <- err
	})
	if err == nil {
		err = <-waitCh
	}

	if err != nil && !errors.Is(err, gocbcore.ErrDocumentNotFound) {
		return wrapStorageError(err, "delete")
	}
	return nil
}

// FindByXid implements Repository.
func (r *CouchbaseRepository) FindByXid(ctx context.Context, xid Xid) (*Transaction, error) {
	doc, err := r.get(ctx, xid)
	if errors.Is(err, gocbcore.ErrDocumentNotFound) {
		return nil, pkgerrors.Wrapf(ErrTransactionNotFound, "%s", xid)
	}
	if err != nil {
		return nil, wrapStorageError(err, "get")
	}
	return decodeTransaction(doc.value)
}

func (r *CouchbaseRepository) keyspace() string {
	parts := []string{"`" + r.bucketName + "`"}
	if r.scopeName != "" || r.collectionName != "" {
		scope := r.scopeName
		if scope == "" {
			scope = "_default"
		}
		collection := r.collectionName
		if collection == "" {
			collection = "_default"
		}
		parts = append(parts, "`"+scope+"`", "`"+collection+"`")
	}
	return strings.Join(parts, ".")
}

// FindAllUnmodifiedSince implements Repository.
func (r *CouchbaseRepository) FindAllUnmodifiedSince(ctx context.Context, since time.Time) ([]*Transaction, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"statement": "SELECT RAW t FROM " + r.keyspace() +
			" t WHERE t.type = $type AND t.last_update_ms < $since ORDER BY t.last_update_ms",
		"$type":             jsonRecordType,
		"$since":            since.UnixNano() / int64(time.Millisecond),
		"scan_consistency":  "request_plus",
		"client_context_id": "tcc-recovery-" + NewXid().GlobalID.String(),
	})
	if err != nil {
		return nil, err
	}

	deadline, _ := r.timeouts(ctx)

	type queryResult struct {
		rows [][]byte
		err  error
	}
	waitCh := make(chan queryResult, 1)
	_, err = r.agent.N1QLQuery(gocbcore.N1QLQueryOptions{
		Payload:  payload,
		Deadline: deadline,
	}, func(reader *gocbcore.N1QLRowReader, err error) {
		if err != nil {
			waitCh <- queryResult{err: err}
			return
		}

		var rows [][]byte
		for row := reader.NextRow(); row != nil; row = reader.NextRow() {
			rows = append(rows, append([]byte(nil), row...))
		}
		if err := reader.Err(); err != nil {
			waitCh <- queryResult{err: err}
			return
		}
		waitCh <- queryResult{rows: rows, err: reader.Close()}
	})
	if err != nil {
		return nil, wrapStorageError(err, "query")
	}

	res := <-waitCh
	if res.err != nil {
		return nil, wrapStorageError(res.err, "query")
	}

	txs := make([]*Transaction, 0, len(res.rows))
	for _, row := range res.rows {
		tx, err := decodeTransaction(row)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
