// Copyright 2021 Couchbase
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tcc

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Transaction is the persisted record of a root or branch TCC transaction.
// It holds the enlisted participants in order, and a version counter used
// for optimistic concurrency control by the repository.
type Transaction struct {
	xid            Xid
	status         Status
	ttype          TransactionType
	participants   []*Participant
	attachments    map[string]string
	version        int64
	createTime     time.Time
	lastUpdateTime time.Time
	retriedCount   int
}

func newRootTransaction(now time.Time) *Transaction {
	return &Transaction{
		xid:            NewXid(),
		status:         StatusTrying,
		ttype:          TransactionTypeRoot,
		attachments:    make(map[string]string),
		version:        1,
		createTime:     now,
		lastUpdateTime: now,
	}
}

// newBranchTransaction creates a branch from a propagated context.  The
// branch takes the context's identity and status verbatim.
func newBranchTransaction(txCtx *TransactionContext, now time.Time) *Transaction {
	attachments := make(map[string]string, len(txCtx.Attachments))
	for k, v := range txCtx.Attachments {
		attachments[k] = v
	}

	return &Transaction{
		xid:            txCtx.Xid,
		status:         txCtx.Status,
		ttype:          TransactionTypeBranch,
		attachments:    attachments,
		version:        1,
		createTime:     now,
		lastUpdateTime: now,
	}
}

// Xid returns the identity of this transaction.
func (t *Transaction) Xid() Xid {
	return t.xid
}

// Status returns the current phase of this transaction.
func (t *Transaction) Status() Status {
	return t.status
}

// TransactionType returns whether this is a root or branch transaction.
func (t *Transaction) TransactionType() TransactionType {
	return t.ttype
}

// Participants returns the enlisted participants in enlistment order.
func (t *Transaction) Participants() []*Participant {
	return t.participants
}

// Attachments returns the free-form attachments of this transaction.
func (t *Transaction) Attachments() map[string]string {
	return t.attachments
}

// Version returns the optimistic concurrency version.
func (t *Transaction) Version() int64 {
	return t.version
}

// CreateTime returns the time that this transaction was created.
func (t *Transaction) CreateTime() time.Time {
	return t.createTime
}

// LastUpdateTime returns the time of the last persisted update.
func (t *Transaction) LastUpdateTime() time.Time {
	return t.lastUpdateTime
}

// RetriedCount returns how many times the recovery job has attempted to
// terminate this transaction.
func (t *Transaction) RetriedCount() int {
	return t.retriedCount
}

// Context returns the context to propagate to remote participants.
func (t *Transaction) Context() *TransactionContext {
	txCtx := NewTransactionContext(t.xid, t.status)
	for k, v := range t.attachments {
		txCtx.Attachments[k] = v
	}
	return txCtx
}

// EnlistParticipant appends a participant.  Participants may only be added
// while the transaction is trying.
func (t *Transaction) EnlistParticipant(p *Participant) error {
	if t.status != StatusTrying {
		return errors.Wrapf(ErrIllegalState, "cannot enlist participant on %s transaction %s", t.status, t.xid)
	}
	t.participants = append(t.participants, p)
	return nil
}

// ChangeStatus moves the transaction to a new phase.
func (t *Transaction) ChangeStatus(status Status) {
	t.status = status
}

// AddRetriedCount increments the recovery retry counter.
func (t *Transaction) AddRetriedCount() {
	t.retriedCount++
}

// ResetRetriedCount sets the recovery retry counter back to zero.
func (t *Transaction) ResetRetriedCount() {
	t.retriedCount = 0
}

// UpdateVersion increments the optimistic concurrency version.
func (t *Transaction) UpdateVersion() {
	t.version++
}

// UpdateTime sets the last update time to now.
func (t *Transaction) UpdateTime(now time.Time) {
	t.lastUpdateTime = now
}

// Commit confirms each participant in enlistment order, stopping at the
// first failure.
func (t *Transaction) Commit(ctx context.Context, terminator *Terminator) error {
	for _, p := range t.participants {
		if err := p.Commit(ctx, terminator); err != nil {
			return err
		}
	}
	return nil
}

// Rollback cancels each participant in enlistment order, stopping at the
// first failure.
func (t *Transaction) Rollback(ctx context.Context, terminator *Terminator) error {
	for _, p := range t.participants {
		if err := p.Rollback(ctx, terminator); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}

	participants := make([]*Participant, len(t.participants))
	for pIdx, p := range t.participants {
		participants[pIdx] = p.Clone()
	}

	attachments := make(map[string]string, len(t.attachments))
	for k, v := range t.attachments {
		attachments[k] = v
	}

	return &Transaction{
		xid:            t.xid,
		status:         t.status,
		ttype:          t.ttype,
		participants:   participants,
		attachments:    attachments,
		version:        t.version,
		createTime:     t.createTime,
		lastUpdateTime: t.lastUpdateTime,
		retriedCount:   t.retriedCount,
	}
}
