package tcc

// RecoveryAttempt represents the result of recovering a single stale
// transaction during a sweep.
type RecoveryAttempt struct {
	Xid          Xid
	Status       Status
	Type         TransactionType
	RetriedCount int

	// Skipped indicates that the sweep left the transaction untouched, with
	// the reason in SkipReason.
	Skipped    bool
	SkipReason string

	// Success indicates that the participants were terminated and the
	// record deleted.
	Success bool

	// Error is the failure that left the record in place, if any.
	Error error
	Class ErrorClass
}

// RecoveryResult represents the outcome of one recovery sweep.
type RecoveryResult struct {
	// Scanned is the number of stale records loaded by the sweep.
	Scanned int

	Attempts []RecoveryAttempt
}

// Succeeded returns how many transactions the sweep terminated.
func (r *RecoveryResult) Succeeded() int {
	count := 0
	for _, attempt := range r.Attempts {
		if attempt.Success {
			count++
		}
	}
	return count
}

// Failed returns how many transactions the sweep attempted but could not terminate.
func (r *RecoveryResult) Failed() int {
	count := 0
	for _, attempt := range r.Attempts {
		if attempt.Error != nil {
			count++
		}
	}
	return count
}

// SkippedCount returns how many transactions the sweep left untouched.
func (r *RecoveryResult) SkippedCount() int {
	count := 0
	for _, attempt := range r.Attempts {
		if attempt.Skipped {
			count++
		}
	}
	return count
}
