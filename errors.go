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
	"encoding/json"
	"errors"
	"net"
)

var (
	// ErrIllegalPropagation indicates a MANDATORY call arrived with neither an
	// active transaction nor an incoming transaction context.
	ErrIllegalPropagation = errors.New("no active compensable transaction while propagation is mandatory")

	// ErrNoExistingTransaction indicates a confirming or cancelling provider call
	// found no record, which usually means it was already completed.
	ErrNoExistingTransaction = errors.New("no existing transaction")

	// ErrOptimisticLock indicates that a persisted update saw a different version.
	ErrOptimisticLock = errors.New("optimistic lock violation")

	// ErrTransactionExists indicates a conditional create found an existing record.
	ErrTransactionExists = errors.New("transaction already exists")

	// ErrTransactionNotFound indicates that no record exists for an identity.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrStorageIO indicates an I/O failure in a repository backend.
	ErrStorageIO = errors.New("transaction storage io failure")

	// ErrSystem indicates that a participant operation could not be resolved or invoked.
	ErrSystem = errors.New("system error")

	// ErrNoSuchOperation indicates that no operation is registered for a descriptor.
	ErrNoSuchOperation = errors.New("no such operation")

	// ErrIllegalState indicates an operation that the transaction state forbids.
	ErrIllegalState = errors.New("illegal state")

	// ErrNoTransactionScope indicates the context carries no transaction scope.
	ErrNoTransactionScope = errors.New("no transaction scope in context")

	// ErrNoActiveTransaction indicates a manager operation needed an active transaction.
	ErrNoActiveTransaction = errors.New("no active transaction")

	// ErrWorkerPoolSaturated indicates the async termination pool refused work.
	ErrWorkerPoolSaturated = errors.New("async termination pool saturated")

	// ErrClosed indicates the coordinator has been closed.
	ErrClosed = errors.New("coordinator closed")
)

// ConfirmingError is returned when the participants of a transaction could
// not be confirmed.  The record is left in place for the recovery job.
type ConfirmingError struct {
	Xid   Xid
	cause error
}

func (e *ConfirmingError) Error() string {
	return "compensable transaction confirm failed, recovery job will try to confirm later: " + e.cause.Error()
}

// Unwrap returns the underlying cause.
func (e *ConfirmingError) Unwrap() error {
	return e.cause
}

// MarshalJSON will marshal this error for the wire.
func (e *ConfirmingError) MarshalJSON() ([]byte, error) {
	return marshalTerminationError("confirm", e.Xid, e.cause)
}

// CancellingError is returned when the participants of a transaction could
// not be cancelled.  The record is left in place for the recovery job.
type CancellingError struct {
	Xid   Xid
	cause error
}

func (e *CancellingError) Error() string {
	return "compensable transaction cancel failed, recovery job will try to cancel later: " + e.cause.Error()
}

// Unwrap returns the underlying cause.
func (e *CancellingError) Unwrap() error {
	return e.cause
}

// MarshalJSON will marshal this error for the wire.
func (e *CancellingError) MarshalJSON() ([]byte, error) {
	return marshalTerminationError("cancel", e.Xid, e.cause)
}

func marshalTerminationError(phase string, xid Xid, cause error) ([]byte, error) {
	var causeData json.RawMessage
	if marshaler, ok := cause.(json.Marshaler); ok {
		if data, err := marshaler.MarshalJSON(); err == nil {
			causeData = data
		}
	}
	if causeData == nil {
		data, err := json.Marshal(cause.Error())
		if err != nil {
			return nil, err
		}
		causeData = data
	}

	return json.Marshal(struct {
		Phase string          `json:"phase"`
		Xid   string          `json:"xid"`
		Cause json.RawMessage `json:"cause"`
	}{
		Phase: phase,
		Xid:   xid.String(),
		Cause: causeData,
	})
}

type classifiedError struct {
	Source error
	Class  ErrorClass
}

func classifyError(err error) *classifiedError {
	ec := ErrorClassFailOther
	var confirmErr *ConfirmingError
	var cancelErr *CancellingError
	if errors.Is(err, ErrOptimisticLock) {
		ec = ErrorClassFailOptimisticLock
	} else if errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrNoExistingTransaction) {
		ec = ErrorClassFailNotFound
	} else if errors.Is(err, ErrTransactionExists) {
		ec = ErrorClassFailAlreadyExists
	} else if errors.Is(err, ErrStorageIO) {
		ec = ErrorClassFailStorage
	} else if errors.As(err, &confirmErr) || errors.As(err, &cancelErr) || errors.Is(err, ErrSystem) {
		ec = ErrorClassFailTermination
	} else if errors.Is(err, ErrIllegalPropagation) || errors.Is(err, ErrIllegalState) {
		ec = ErrorClassFailIllegal
	}

	return &classifiedError{
		Source: err,
		Class:  ec,
	}
}

// DefaultDelayCancel reports whether a try-phase failure should defer
// cancellation to the recovery job rather than roll back immediately.  It
// matches optimistic lock conflicts and timeouts, where a remote try may
// still be running.
func DefaultDelayCancel(err error) bool {
	if errors.Is(err, ErrOptimisticLock) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// systemError reports a failure to resolve or run a participant operation.
// It matches both ErrSystem and the underlying cause.
type systemError struct {
	op    string
	cause error
}

func wrapSystemError(cause error, op string) error {
	return &systemError{op: op, cause: cause}
}

func (e *systemError) Error() string {
	return ErrSystem.Error() + ": " + e.op + ": " + e.cause.Error()
}

func (e *systemError) Unwrap() []error {
	return []error{ErrSystem, e.cause}
}

// storageError reports a backend I/O failure.  It matches both ErrStorageIO
// and the underlying cause.
type storageError struct {
	op    string
	cause error
}

func wrapStorageError(cause error, op string) error {
	return &storageError{op: op, cause: cause}
}

func (e *storageError) Error() string {
	return ErrStorageIO.Error() + ": " + e.op + ": " + e.cause.Error()
}

func (e *storageError) Unwrap() []error {
	return []error{ErrStorageIO, e.cause}
}
