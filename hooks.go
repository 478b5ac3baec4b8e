package tcc

// CoordinatorHooks provides a number of internal hooks used for testing.
// Internal: This should never be used and is not supported.
type CoordinatorHooks interface {
	BeforeCommit(xid Xid) error
	BeforeRollback(xid Xid) error
	BeforeRecoverTransaction(xid Xid) error
	BeforeRecoverTermination(xid Xid) error
}

// DefaultHooks is default set of noop hooks used within the library.
// Internal: This should never be used and is not supported.
type DefaultHooks struct{}

// BeforeCommit is called before the participants of a transaction are confirmed.
func (dh *DefaultHooks) BeforeCommit(xid Xid) error {
	return nil
}

// BeforeRollback is called before the participants of a transaction are cancelled.
func (dh *DefaultHooks) BeforeRollback(xid Xid) error {
	return nil
}

// BeforeRecoverTransaction is called before the recovery sweep persists
// its retry of a stale transaction.
func (dh *DefaultHooks) BeforeRecoverTransaction(xid Xid) error {
	return nil
}

// BeforeRecoverTermination is called after the recovery sweep persisted its
// retry and before it confirms or cancels the participants.
func (dh *DefaultHooks) BeforeRecoverTermination(xid Xid) error {
	return nil
}
