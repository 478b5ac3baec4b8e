package tcc

import (
	"context"
)

// Scope is the stack of transactions active in one call chain.  The most
// recently begun transaction is on top.  A Scope belongs to a single call
// chain and must not be shared between concurrent calls.
type Scope struct {
	stack []*Transaction
}

type scopeCtxKey struct{}

// WithScope returns a context carrying a transaction scope.  If ctx already
// carries one it is returned unchanged, so nested calls share the stack of
// their caller.
func WithScope(ctx context.Context) context.Context {
	if _, ok := ctx.Value(scopeCtxKey{}).(*Scope); ok {
		return ctx
	}
	return context.WithValue(ctx, scopeCtxKey{}, &Scope{})
}

// ScopeFromContext returns the scope carried by ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	scope, _ := ctx.Value(scopeCtxKey{}).(*Scope)
	return scope
}

func (s *Scope) push(tx *Transaction) {
	s.stack = append(s.stack, tx)
}

func (s *Scope) pop() *Transaction {
	if len(s.stack) == 0 {
		return nil
	}
	tx := s.stack[len(s.stack)-1]
	s.stack[len(s.stack)-1] = nil
	s.stack = s.stack[:len(s.stack)-1]
	return tx
}

func (s *Scope) top() *Transaction {
	if s == nil || len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// Depth returns the number of transactions on the stack.
func (s *Scope) Depth() int {
	if s == nil {
		return 0
	}
	return len(s.stack)
}
