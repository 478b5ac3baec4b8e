package tcc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Propagation is the declared policy of a compensable method.
type Propagation int

const (
	// PropagationRequired joins the active transaction, or starts a root
	// when there is none and no context arrived with the call.
	PropagationRequired = Propagation(0)

	// PropagationSupports joins an active transaction but never starts one.
	PropagationSupports = Propagation(1)

	// PropagationMandatory requires an active transaction or an incoming
	// context.
	PropagationMandatory = Propagation(2)

	// PropagationRequiresNew always starts a new root transaction,
	// suspending any active one.
	PropagationRequiresNew = Propagation(3)
)

func (p Propagation) String() string {
	switch p {
	case PropagationRequired:
		return "REQUIRED"
	case PropagationSupports:
		return "SUPPORTS"
	case PropagationMandatory:
		return "MANDATORY"
	case PropagationRequiresNew:
		return "REQUIRES_NEW"
	default:
		return fmt.Sprintf("unknown:%d", int(p))
	}
}

// MethodType is the handling chosen for an intercepted call.
type MethodType int

const (
	// MethodTypeNormal means the call runs without transaction handling.
	MethodTypeNormal = MethodType(0)

	// MethodTypeRoot means the call begins a root transaction.
	MethodTypeRoot = MethodType(1)

	// MethodTypeProvider means the call serves a branch of a remote
	// transaction.
	MethodTypeProvider = MethodType(2)
)

func (m MethodType) String() string {
	switch m {
	case MethodTypeRoot:
		return "ROOT"
	case MethodTypeProvider:
		return "PROVIDER"
	case MethodTypeNormal:
		return "NORMAL"
	default:
		return fmt.Sprintf("unknown:%d", int(m))
	}
}

// IsLegalTransactionContext reports whether a call may proceed.  A
// mandatory call with no active transaction and no incoming context has
// nothing to attach to.
func IsLegalTransactionContext(isTransactionActive bool, propagation Propagation, txCtx *TransactionContext) bool {
	return !(propagation == PropagationMandatory && !isTransactionActive && txCtx == nil)
}

// CalculateMethodType decides how a call is handled.
func CalculateMethodType(propagation Propagation, isTransactionActive bool, txCtx *TransactionContext) MethodType {
	if (propagation == PropagationRequired && !isTransactionActive && txCtx == nil) ||
		propagation == PropagationRequiresNew {
		return MethodTypeRoot
	}

	if (propagation == PropagationRequired || propagation == PropagationMandatory) &&
		!isTransactionActive && txCtx != nil {
		return MethodTypeProvider
	}

	return MethodTypeNormal
}

// Classify rejects illegal calls with ErrIllegalPropagation and otherwise
// returns the method type.
func Classify(propagation Propagation, isTransactionActive bool, txCtx *TransactionContext) (MethodType, error) {
	if !IsLegalTransactionContext(isTransactionActive, propagation, txCtx) {
		return MethodTypeNormal, errors.WithStack(ErrIllegalPropagation)
	}
	return CalculateMethodType(propagation, isTransactionActive, txCtx), nil
}
