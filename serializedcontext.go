package tcc

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// TransactionContextType is the parameter type identifier used in operation
// signatures for a TransactionContext argument.
const TransactionContextType = "tcc.TransactionContext"

// TransactionContext is the minimal state passed to a remote participant so
// that it can create or rejoin a branch transaction.
type TransactionContext struct {
	Xid         Xid
	Status      Status
	Attachments map[string]string
}

// NewTransactionContext creates a context for the given identity and status.
func NewTransactionContext(xid Xid, status Status) *TransactionContext {
	return &TransactionContext{
		Xid:         xid,
		Status:      status,
		Attachments: make(map[string]string),
	}
}

type jsonTransactionContext struct {
	Xid         string            `json:"xid"`
	Status      int               `json:"status"`
	Attachments map[string]string `json:"att,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *TransactionContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonTransactionContext{
		Xid:         c.Xid.String(),
		Status:      int(c.Status),
		Attachments: c.Attachments,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *TransactionContext) UnmarshalJSON(data []byte) error {
	var ctxData jsonTransactionContext
	if err := json.Unmarshal(data, &ctxData); err != nil {
		return err
	}

	if ctxData.Xid == "" {
		return errors.New("invalid transaction context - no xid")
	}

	xid, err := ParseXid(ctxData.Xid)
	if err != nil {
		return err
	}

	c.Xid = xid
	c.Status = StatusFromID(ctxData.Status)
	c.Attachments = ctxData.Attachments
	if c.Attachments == nil {
		c.Attachments = make(map[string]string)
	}
	return nil
}

// EncodeAsBytes will encode this context so that it can ride along with a
// remote call and be decoded by the provider.
func (c *TransactionContext) EncodeAsBytes() ([]byte, error) {
	return json.Marshal(c)
}

// EncodeAsString will encode this context to a string which is safe to carry
// in headers or RPC attachments.
func (c *TransactionContext) EncodeAsString() (string, error) {
	data, err := c.EncodeAsBytes()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeTransactionContext decodes a context produced by EncodeAsBytes.
func DecodeTransactionContext(data []byte) (*TransactionContext, error) {
	var c TransactionContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "invalid transaction context")
	}
	return &c, nil
}

// DecodeTransactionContextString decodes a context produced by EncodeAsString.
func DecodeTransactionContextString(s string) (*TransactionContext, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid transaction context encoding")
	}
	return DecodeTransactionContext(data)
}
