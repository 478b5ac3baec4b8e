package tcc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

const (
	// PositionalContextEditorName is the name of the editor which keeps the
	// transaction context in a TransactionContextType argument.
	PositionalContextEditorName = "positional"

	// AttachmentContextEditorName is the name of the editor which keeps the
	// transaction context in the invocation metadata, out of band.
	AttachmentContextEditorName = "attachment"

	// NullContextEditorName is the name of the editor which never carries a
	// transaction context.
	NullContextEditorName = "null"

	// TransactionContextAttachment is the metadata key under which the
	// attachment editor stores the encoded transaction context.
	TransactionContextAttachment = "TRANSACTION_CONTEXT"
)

// ContextEditor extracts the transaction context from, and injects it into,
// the arguments of an invocation.
type ContextEditor interface {
	Extract(inv *Invocation) (*TransactionContext, error)
	Inject(txCtx *TransactionContext, inv *Invocation) error
}

// PositionalContextEditor stores the context in the first argument whose
// parameter type is TransactionContextType.  Invocations without such a
// parameter are left untouched.
type PositionalContextEditor struct{}

// Extract implements ContextEditor.
func (PositionalContextEditor) Extract(inv *Invocation) (*TransactionContext, error) {
	pos := inv.contextParameterPosition()
	if pos < 0 {
		return nil, nil
	}
	return inv.Arguments.TransactionContext(pos)
}

// Inject implements ContextEditor.
func (PositionalContextEditor) Inject(txCtx *TransactionContext, inv *Invocation) error {
	pos := inv.contextParameterPosition()
	if pos < 0 {
		return nil
	}
	if pos >= len(inv.Arguments) {
		return errors.Errorf("context parameter %d has no argument", pos)
	}

	data, err := txCtx.EncodeAsBytes()
	if err != nil {
		return err
	}
	inv.Arguments[pos] = data
	return nil
}

// AttachmentContextEditor stores the context in the invocation metadata so
// that operations need not declare a context parameter.  Operations read it
// back with TransactionContextFromContext.
type AttachmentContextEditor struct{}

// Extract implements ContextEditor.
func (AttachmentContextEditor) Extract(inv *Invocation) (*TransactionContext, error) {
	encoded := inv.Metadata[TransactionContextAttachment]
	if encoded == "" {
		return nil, nil
	}
	return DecodeTransactionContextString(encoded)
}

// Inject implements ContextEditor.
func (AttachmentContextEditor) Inject(txCtx *TransactionContext, inv *Invocation) error {
	encoded, err := txCtx.EncodeAsString()
	if err != nil {
		return err
	}
	if inv.Metadata == nil {
		inv.Metadata = make(map[string]string)
	}
	inv.Metadata[TransactionContextAttachment] = encoded
	return nil
}

// NullContextEditor never finds or stores a context.
type NullContextEditor struct{}

// Extract implements ContextEditor.
func (NullContextEditor) Extract(*Invocation) (*TransactionContext, error) {
	return nil, nil
}

// Inject implements ContextEditor.
func (NullContextEditor) Inject(*TransactionContext, *Invocation) error {
	return nil
}

// EditorRegistry resolves context editors by name.  Participants reference
// editors by name so that they survive persistence.
type EditorRegistry struct {
	lock    sync.RWMutex
	editors map[string]ContextEditor
}

// NewEditorRegistry returns a registry holding the built-in editors.
func NewEditorRegistry() *EditorRegistry {
	return &EditorRegistry{
		editors: map[string]ContextEditor{
			PositionalContextEditorName: PositionalContextEditor{},
			AttachmentContextEditorName: AttachmentContextEditor{},
			NullContextEditorName:       NullContextEditor{},
		},
	}
}

// Register adds or replaces the editor with the given name.
func (r *EditorRegistry) Register(name string, editor ContextEditor) {
	r.lock.Lock()
	r.editors[name] = editor
	r.lock.Unlock()
}

// Get returns the editor registered under name.
func (r *EditorRegistry) Get(name string) (ContextEditor, error) {
	r.lock.RLock()
	editor, ok := r.editors[name]
	r.lock.RUnlock()

	if !ok {
		return nil, errors.Errorf("no context editor registered as %q", name)
	}
	return editor, nil
}

type metadataCtxKey struct{}

func contextWithMetadata(ctx context.Context, metadata map[string]string) context.Context {
	if len(metadata) == 0 {
		return ctx
	}
	return context.WithValue(ctx, metadataCtxKey{}, metadata)
}

// MetadataFromContext returns the invocation metadata visible to an
// operation invoked by the Terminator.
func MetadataFromContext(ctx context.Context) map[string]string {
	metadata, _ := ctx.Value(metadataCtxKey{}).(map[string]string)
	return metadata
}

// TransactionContextFromContext returns the context stored by the
// attachment editor, or nil when the call carries none.
func TransactionContextFromContext(ctx context.Context) (*TransactionContext, error) {
	return AttachmentContextEditor{}.Extract(&Invocation{Metadata: MetadataFromContext(ctx)})
}
