package tcc

import (
	"context"
)

// Participant is one enlisted resource of a transaction: the branch
// identity it was given and the invocations to use when confirming or
// cancelling it.
type Participant struct {
	Xid     Xid
	Confirm *Invocation
	Cancel  *Invocation

	// ContextEditor names the registered editor used to place the
	// transaction context into the invocation arguments.
	ContextEditor string
}

// NewParticipant creates a participant for the branch xid.  An empty editor
// name selects the positional editor.
func NewParticipant(xid Xid, confirm, cancel *Invocation, editor string) *Participant {
	if editor == "" {
		editor = PositionalContextEditorName
	}
	return &Participant{
		Xid:           xid,
		Confirm:       confirm,
		Cancel:        cancel,
		ContextEditor: editor,
	}
}

// Commit runs the confirm invocation with a confirming context.
func (p *Participant) Commit(ctx context.Context, terminator *Terminator) error {
	return terminator.Invoke(ctx, NewTransactionContext(p.Xid, StatusConfirming), p.Confirm, p.ContextEditor)
}

// Rollback runs the cancel invocation with a cancelling context.
func (p *Participant) Rollback(ctx context.Context, terminator *Terminator) error {
	return terminator.Invoke(ctx, NewTransactionContext(p.Xid, StatusCancelling), p.Cancel, p.ContextEditor)
}

// Clone returns a deep copy of the participant.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	return &Participant{
		Xid:           p.Xid,
		Confirm:       p.Confirm.Clone(),
		Cancel:        p.Cancel.Clone(),
		ContextEditor: p.ContextEditor,
	}
}
