package tcc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTerminator(t *testing.T) (*Terminator, *Registry, *SingletonResolver) {
	registry := NewRegistry()
	resolver := NewSingletonResolver()
	return NewTerminator(registry, resolver, nil), registry, resolver
}

func TestTerminatorInjectsContext(t *testing.T) {
	terminator, registry, resolver := newTestTerminator(t)
	svc := registerAccountService(t, registry, resolver)

	inv, err := NewInvocation(accountTarget, "confirmDebit", accountParams, "alice", 10, nil)
	require.NoError(t, err)

	xid := NewXid()
	err = terminator.Invoke(context.Background(), NewTransactionContext(xid, StatusConfirming), inv, PositionalContextEditorName)
	require.NoError(t, err)
	assert.Equal(t, []string{"confirm:alice:CONFIRMING"}, svc.Calls())

	assert.Equal(t, "null", string(inv.Arguments[2]), "stored invocation must not be modified")
}

func TestTerminatorNoOperation(t *testing.T) {
	terminator, _, _ := newTestTerminator(t)
	txCtx := NewTransactionContext(NewXid(), StatusCancelling)

	assert.NoError(t, terminator.Invoke(context.Background(), txCtx, nil, PositionalContextEditorName))
	assert.NoError(t, terminator.Invoke(context.Background(), txCtx, &Invocation{TargetType: accountTarget}, PositionalContextEditorName))
}

func TestTerminatorFailures(t *testing.T) {
	terminator, registry, resolver := newTestTerminator(t)
	txCtx := NewTransactionContext(NewXid(), StatusConfirming)
	ctx := context.Background()

	inv, err := NewInvocation(accountTarget, "confirmDebit", accountParams, "alice", 10, nil)
	require.NoError(t, err)

	err = terminator.Invoke(ctx, txCtx, inv, PositionalContextEditorName)
	assert.ErrorIs(t, err, ErrSystem, "unresolvable target")

	resolver.Register(accountTarget, &accountService{})
	err = terminator.Invoke(ctx, txCtx, inv, PositionalContextEditorName)
	assert.ErrorIs(t, err, ErrSystem)
	assert.ErrorIs(t, err, ErrNoSuchOperation)

	cause := errors.New("ledger offline")
	require.NoError(t, registry.Register(accountTarget, "confirmDebit", accountParams,
		func(ctx context.Context, target interface{}, args Arguments) error {
			return cause
		}))
	err = terminator.Invoke(ctx, txCtx, inv, PositionalContextEditorName)
	assert.ErrorIs(t, err, ErrSystem)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorClassFailTermination, classifyError(err).Class)

	err = terminator.Invoke(ctx, txCtx, inv, "missing")
	assert.ErrorIs(t, err, ErrSystem, "unknown editor")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	op := func(ctx context.Context, target interface{}, args Arguments) error { return nil }

	require.NoError(t, registry.Register(accountTarget, "confirmDebit", accountParams, op))
	assert.Error(t, registry.Register(accountTarget, "confirmDebit", accountParams, op))
	assert.Error(t, registry.Register(accountTarget, "cancelDebit", accountParams, nil))

	// Overloads are told apart by their signature.
	require.NoError(t, registry.Register(accountTarget, "confirmDebit", []string{"string"}, op))

	_, err := registry.Lookup(OperationKey{TargetType: accountTarget, Operation: "confirmDebit", Signature: "string"})
	assert.NoError(t, err)
	_, err = registry.Lookup(OperationKey{TargetType: accountTarget, Operation: "confirmDebit", Signature: "int"})
	assert.ErrorIs(t, err, ErrNoSuchOperation)
}

func TestPositionalContextEditor(t *testing.T) {
	editor := PositionalContextEditor{}

	inv, err := NewInvocation(accountTarget, "tryDebit", accountParams, "alice", 10, nil)
	require.NoError(t, err)

	txCtx, err := editor.Extract(inv)
	require.NoError(t, err)
	assert.Nil(t, txCtx)

	injected := NewTransactionContext(NewXid(), StatusTrying)
	injected.Attachments["tenant"] = "eu-1"
	require.NoError(t, editor.Inject(injected, inv))

	txCtx, err = editor.Extract(inv)
	require.NoError(t, err)
	assert.Equal(t, injected.Xid, txCtx.Xid)
	assert.Equal(t, StatusTrying, txCtx.Status)
	assert.Equal(t, "eu-1", txCtx.Attachments["tenant"])

	plain, err := NewInvocation(accountTarget, "tryDebit", []string{"string"}, "alice")
	require.NoError(t, err)
	require.NoError(t, editor.Inject(injected, plain))
	txCtx, err = editor.Extract(plain)
	require.NoError(t, err)
	assert.Nil(t, txCtx, "invocations without a context parameter carry no context")
}

func TestAttachmentContextEditor(t *testing.T) {
	editor := AttachmentContextEditor{}

	inv, err := NewInvocation("test.Inventory", "tryReserve", []string{"string"}, "sku-1")
	require.NoError(t, err)

	txCtx, err := editor.Extract(inv)
	require.NoError(t, err)
	assert.Nil(t, txCtx)

	injected := NewTransactionContext(NewXid(), StatusCancelling)
	require.NoError(t, editor.Inject(injected, inv))
	assert.NotEmpty(t, inv.Metadata[TransactionContextAttachment])
	assert.Len(t, inv.Arguments, 1, "arguments are left alone")

	txCtx, err = editor.Extract(inv)
	require.NoError(t, err)
	assert.Equal(t, injected.Xid, txCtx.Xid)
	assert.Equal(t, StatusCancelling, txCtx.Status)
}

func TestEditorRegistry(t *testing.T) {
	editors := NewEditorRegistry()

	for _, name := range []string{PositionalContextEditorName, AttachmentContextEditorName, NullContextEditorName} {
		_, err := editors.Get(name)
		assert.NoError(t, err, name)
	}

	_, err := editors.Get("grpc")
	assert.Error(t, err)

	editors.Register("grpc", AttachmentContextEditor{})
	editor, err := editors.Get("grpc")
	require.NoError(t, err)

	inv := &Invocation{}
	require.NoError(t, NullContextEditor{}.Inject(NewTransactionContext(NewXid(), StatusTrying), inv))
	txCtx, err := editor.Extract(inv)
	require.NoError(t, err)
	assert.Nil(t, txCtx)
}
