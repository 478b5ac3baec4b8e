package tcc

import (
	"context"
)

// Terminator executes confirm and cancel invocations against live
// participant instances.
type Terminator struct {
	registry *Registry
	resolver Resolver
	editors  *EditorRegistry
}

// NewTerminator creates a Terminator.  A nil editors registry uses the
// built-in editors only.
func NewTerminator(registry *Registry, resolver Resolver, editors *EditorRegistry) *Terminator {
	if editors == nil {
		editors = NewEditorRegistry()
	}
	return &Terminator{
		registry: registry,
		resolver: resolver,
		editors:  editors,
	}
}

// Invoke places txCtx into a copy of inv using the named editor and runs the
// registered operation.  An invocation without an operation name does
// nothing.  Every failure is reported as ErrSystem.
func (t *Terminator) Invoke(ctx context.Context, txCtx *TransactionContext, inv *Invocation, editorName string) error {
	if inv == nil || inv.Operation == "" {
		return nil
	}

	target, err := t.resolver.Resolve(inv.TargetType)
	if err != nil {
		return wrapSystemError(err, "resolve "+inv.TargetType)
	}

	op, err := t.registry.Lookup(inv.Key())
	if err != nil {
		return wrapSystemError(err, "lookup")
	}

	editor, err := t.editors.Get(editorName)
	if err != nil {
		return wrapSystemError(err, "editor")
	}

	call := inv.Clone()
	if err := editor.Inject(txCtx, call); err != nil {
		return wrapSystemError(err, "inject context into "+inv.Key().String())
	}

	if err := op(contextWithMetadata(ctx, call.Metadata), target, call.Arguments); err != nil {
		return wrapSystemError(err, "invoke "+inv.Key().String())
	}
	return nil
}
