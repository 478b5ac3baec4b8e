package tcc

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Arguments holds the encoded argument values of an invocation.
type Arguments []json.RawMessage

// Decode decodes the argument at position idx into v.
func (a Arguments) Decode(idx int, v interface{}) error {
	if idx < 0 || idx >= len(a) {
		return errors.Errorf("argument index %d out of range (%d arguments)", idx, len(a))
	}
	if err := json.Unmarshal(a[idx], v); err != nil {
		return errors.Wrapf(err, "failed to decode argument %d", idx)
	}
	return nil
}

// TransactionContext decodes the argument at position idx as a transaction context.
func (a Arguments) TransactionContext(idx int) (*TransactionContext, error) {
	if idx < 0 || idx >= len(a) {
		return nil, errors.Errorf("argument index %d out of range (%d arguments)", idx, len(a))
	}
	if isJSONNull(a[idx]) {
		return nil, nil
	}
	return DecodeTransactionContext(a[idx])
}

func isJSONNull(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}

// Invocation describes which confirm or cancel operation to call and with
// which arguments.  It holds no references to live objects so that it can
// be persisted and replayed by another process.
type Invocation struct {
	TargetType     string
	Operation      string
	ParameterTypes []string
	Arguments      Arguments

	// Metadata carries out-of-band values, such as an RPC attachment holding
	// the transaction context.
	Metadata map[string]string
}

// NewInvocation encodes args and builds an invocation descriptor.
func NewInvocation(targetType, operation string, parameterTypes []string, args ...interface{}) (*Invocation, error) {
	if len(parameterTypes) != len(args) {
		return nil, errors.Errorf("invocation of %s.%s has %d parameter types but %d arguments",
			targetType, operation, len(parameterTypes), len(args))
	}

	encoded := make(Arguments, len(args))
	for argIdx, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode argument %d of %s.%s", argIdx, targetType, operation)
		}
		encoded[argIdx] = data
	}

	return &Invocation{
		TargetType:     targetType,
		Operation:      operation,
		ParameterTypes: append([]string(nil), parameterTypes...),
		Arguments:      encoded,
	}, nil
}

// Signature returns the parameter type list in its canonical string form.
func (i *Invocation) Signature() string {
	return strings.Join(i.ParameterTypes, ",")
}

// Key returns the registry key identifying the operation to call.
func (i *Invocation) Key() OperationKey {
	return OperationKey{
		TargetType: i.TargetType,
		Operation:  i.Operation,
		Signature:  i.Signature(),
	}
}

// Clone returns a deep copy of the invocation.
func (i *Invocation) Clone() *Invocation {
	if i == nil {
		return nil
	}

	args := make(Arguments, len(i.Arguments))
	for argIdx, arg := range i.Arguments {
		args[argIdx] = append(json.RawMessage(nil), arg...)
	}

	var metadata map[string]string
	if i.Metadata != nil {
		metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			metadata[k] = v
		}
	}

	return &Invocation{
		TargetType:     i.TargetType,
		Operation:      i.Operation,
		ParameterTypes: append([]string(nil), i.ParameterTypes...),
		Arguments:      args,
		Metadata:       metadata,
	}
}

func (i *Invocation) contextParameterPosition() int {
	for paramIdx, paramType := range i.ParameterTypes {
		if paramType == TransactionContextType {
			return paramIdx
		}
	}
	return -1
}
