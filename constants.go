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

import "fmt"

// Status represents the current phase of a TCC transaction.
type Status int

const (
	// StatusUnknown indicates an unset or unrecognised status.
	StatusUnknown = Status(0)

	// StatusTrying indicates that participants are reserving resources.
	StatusTrying = Status(1)

	// StatusConfirming indicates that a confirm decision has been taken and
	// participants are being committed.
	StatusConfirming = Status(2)

	// StatusCancelling indicates that a cancel decision has been taken and
	// participants are being rolled back.
	StatusCancelling = Status(3)
)

func (s Status) String() string {
	switch s {
	case StatusTrying:
		return "TRYING"
	case StatusConfirming:
		return "CONFIRMING"
	case StatusCancelling:
		return "CANCELLING"
	default:
		return fmt.Sprintf("unknown:%d", int(s))
	}
}

// StatusFromID maps a wire status code to a Status.  Any code other than
// trying or confirming is treated as cancelling.
func StatusFromID(id int) Status {
	switch id {
	case 1:
		return StatusTrying
	case 2:
		return StatusConfirming
	default:
		return StatusCancelling
	}
}

func statusFromString(status string) (Status, error) {
	switch status {
	case "TRYING":
		return StatusTrying, nil
	case "CONFIRMING":
		return StatusConfirming, nil
	case "CANCELLING":
		return StatusCancelling, nil
	}
	return StatusUnknown, fmt.Errorf("invalid transaction status string %q", status)
}

// TransactionType distinguishes a root transaction from a branch joined
// through a propagated context.
type TransactionType int

const (
	// TransactionTypeUnknown indicates an unset type.
	TransactionTypeUnknown = TransactionType(0)

	// TransactionTypeRoot is the top-level transaction started by the caller.
	TransactionTypeRoot = TransactionType(1)

	// TransactionTypeBranch is a participant-side transaction sharing the
	// global identity of its root.
	TransactionTypeBranch = TransactionType(2)
)

func (t TransactionType) String() string {
	switch t {
	case TransactionTypeRoot:
		return "ROOT"
	case TransactionTypeBranch:
		return "BRANCH"
	default:
		return fmt.Sprintf("unknown:%d", int(t))
	}
}

func transactionTypeFromString(ttype string) (TransactionType, error) {
	switch ttype {
	case "ROOT":
		return TransactionTypeRoot, nil
	case "BRANCH":
		return TransactionTypeBranch, nil
	}
	return TransactionTypeUnknown, fmt.Errorf("invalid transaction type string %q", ttype)
}

// ErrorClass describes the reason that a coordinator error occurred.
type ErrorClass uint8

const (
	// ErrorClassFailOther indicates an error that did not fit into any other class.
	ErrorClassFailOther ErrorClass = iota

	// ErrorClassFailOptimisticLock indicates a version conflict on a persisted update.
	ErrorClassFailOptimisticLock

	// ErrorClassFailNotFound indicates that a transaction record was missing.
	ErrorClassFailNotFound

	// ErrorClassFailAlreadyExists indicates a conditional create found an existing record.
	ErrorClassFailAlreadyExists

	// ErrorClassFailStorage indicates an I/O failure in the backing store.
	ErrorClassFailStorage

	// ErrorClassFailTermination indicates a participant confirm or cancel failed.
	ErrorClassFailTermination

	// ErrorClassFailIllegal indicates a propagation or state violation.
	ErrorClassFailIllegal
)

func errorClassToString(class ErrorClass) string {
	switch class {
	case ErrorClassFailOther:
		return "other"
	case ErrorClassFailOptimisticLock:
		return "optimistic_lock"
	case ErrorClassFailNotFound:
		return "not_found"
	case ErrorClassFailAlreadyExists:
		return "already_exists"
	case ErrorClassFailStorage:
		return "storage"
	case ErrorClassFailTermination:
		return "termination"
	case ErrorClassFailIllegal:
		return "illegal"
	default:
		return fmt.Sprintf("unknown:%d", class)
	}
}

func (c ErrorClass) String() string {
	return errorClassToString(c)
}
