package tcc

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// OperationKey identifies a registered confirm or cancel operation by its
// target type, operation name and canonical parameter signature.
type OperationKey struct {
	TargetType string
	Operation  string
	Signature  string
}

func (k OperationKey) String() string {
	return k.TargetType + "." + k.Operation + "(" + k.Signature + ")"
}

// Operation is the callable registered for an OperationKey.  target is the
// instance returned by the Resolver for the key's target type.
type Operation func(ctx context.Context, target interface{}, args Arguments) error

// Registry maps operation descriptors to callables.  It is populated at
// startup and looked up by exact match.
type Registry struct {
	lock       sync.RWMutex
	operations map[OperationKey]Operation
}

// NewRegistry returns an empty operation registry.
func NewRegistry() *Registry {
	return &Registry{
		operations: make(map[OperationKey]Operation),
	}
}

// Register adds an operation for the given target type, operation name and
// parameter types.
func (r *Registry) Register(targetType, operation string, parameterTypes []string, fn Operation) error {
	if fn == nil {
		return errors.New("cannot register a nil operation")
	}

	key := OperationKey{
		TargetType: targetType,
		Operation:  operation,
		Signature:  strings.Join(parameterTypes, ","),
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.operations[key]; ok {
		return errors.Errorf("operation %s already registered", key)
	}
	r.operations[key] = fn
	return nil
}

// Lookup returns the operation registered for key.
func (r *Registry) Lookup(key OperationKey) (Operation, error) {
	r.lock.RLock()
	fn, ok := r.operations[key]
	r.lock.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrNoSuchOperation, "%s", key)
	}
	return fn, nil
}

// Resolver maps a target type identifier to a live instance.
type Resolver interface {
	Resolve(targetType string) (interface{}, error)
}

// SingletonResolver resolves target types to instances registered once at startup.
type SingletonResolver struct {
	lock      sync.RWMutex
	instances map[string]interface{}
}

// NewSingletonResolver returns an empty SingletonResolver.
func NewSingletonResolver() *SingletonResolver {
	return &SingletonResolver{
		instances: make(map[string]interface{}),
	}
}

// Register records the instance serving targetType.
func (r *SingletonResolver) Register(targetType string, instance interface{}) {
	r.lock.Lock()
	r.instances[targetType] = instance
	r.lock.Unlock()
}

// Resolve implements Resolver.
func (r *SingletonResolver) Resolve(targetType string) (interface{}, error) {
	r.lock.RLock()
	instance, ok := r.instances[targetType]
	r.lock.RUnlock()

	if !ok {
		return nil, errors.Errorf("no instance registered for target type %q", targetType)
	}
	return instance, nil
}
