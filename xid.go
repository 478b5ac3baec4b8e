package tcc

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Xid identifies a transaction.  A root transaction has a fresh global id;
// each branch reuses its root's global id with its own branch qualifier.
type Xid struct {
	GlobalID        uuid.UUID
	BranchQualifier uuid.UUID
}

// NewXid returns the identity for a new root transaction.
func NewXid() Xid {
	return Xid{
		GlobalID:        uuid.New(),
		BranchQualifier: uuid.New(),
	}
}

// NewBranchXid returns a new branch identity under the given global id.
func NewBranchXid(globalID uuid.UUID) Xid {
	return Xid{
		GlobalID:        globalID,
		BranchQualifier: uuid.New(),
	}
}

// IsZero reports whether the identity is unset.
func (x Xid) IsZero() bool {
	return x.GlobalID == uuid.Nil && x.BranchQualifier == uuid.Nil
}

// SameGlobal reports whether both identities belong to the same global transaction.
func (x Xid) SameGlobal(other Xid) bool {
	return x.GlobalID == other.GlobalID
}

func (x Xid) String() string {
	return x.GlobalID.String() + ":" + x.BranchQualifier.String()
}

// MarshalText implements encoding.TextMarshaler.
func (x Xid) MarshalText() ([]byte, error) {
	return []byte(x.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (x *Xid) UnmarshalText(text []byte) error {
	parsed, err := ParseXid(string(text))
	if err != nil {
		return err
	}
	*x = parsed
	return nil
}

// ParseXid parses the string form produced by Xid.String.
func ParseXid(s string) (Xid, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Xid{}, errors.Errorf("invalid xid %q - expected <global>:<branch>", s)
	}

	globalID, err := uuid.Parse(parts[0])
	if err != nil {
		return Xid{}, errors.Wrapf(err, "invalid xid %q - bad global id", s)
	}

	branch, err := uuid.Parse(parts[1])
	if err != nil {
		return Xid{}, errors.Wrapf(err, "invalid xid %q - bad branch qualifier", s)
	}

	return Xid{
		GlobalID:        globalID,
		BranchQualifier: branch,
	}, nil
}
