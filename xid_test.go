package tcc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseXid(t *testing.T) {
	xid := NewXid()
	parsed, err := ParseXid(xid.String())
	require.NoError(t, err)
	assert.Equal(t, xid, parsed)

	for _, invalid := range []string{"", "abc", "not-a-uuid:" + uuid.NewString(), uuid.NewString() + ":bad"} {
		_, err := ParseXid(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestBranchXid(t *testing.T) {
	root := NewXid()
	branch := NewBranchXid(root.GlobalID)

	assert.True(t, branch.SameGlobal(root))
	assert.NotEqual(t, root, branch)
	assert.False(t, NewXid().SameGlobal(root))
	assert.True(t, Xid{}.IsZero())
	assert.False(t, root.IsZero())
}

func TestXidAsMapKey(t *testing.T) {
	xid := NewXid()
	data, err := json.Marshal(map[Xid]int{xid: 1})
	require.NoError(t, err)

	var decoded map[Xid]int
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1, decoded[xid])
}

func TestTransactionContextEncoding(t *testing.T) {
	txCtx := NewTransactionContext(NewXid(), StatusConfirming)
	txCtx.Attachments["tenant"] = "eu-1"

	encoded, err := txCtx.EncodeAsString()
	require.NoError(t, err)

	decoded, err := DecodeTransactionContextString(encoded)
	require.NoError(t, err)
	assert.Equal(t, txCtx, decoded)

	_, err = DecodeTransactionContextString("%%%")
	assert.Error(t, err)
	_, err = DecodeTransactionContext([]byte(`{"status":1}`))
	assert.Error(t, err, "a context needs an xid")
}

func TestStatusFromID(t *testing.T) {
	assert.Equal(t, StatusTrying, StatusFromID(1))
	assert.Equal(t, StatusConfirming, StatusFromID(2))
	assert.Equal(t, StatusCancelling, StatusFromID(3))
	assert.Equal(t, StatusCancelling, StatusFromID(99), "unknown codes cancel")

	decoded, err := DecodeTransactionContext([]byte(`{"xid":"` + NewXid().String() + `","status":0}`))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelling, decoded.Status)
}

func TestTransactionContextFromTransaction(t *testing.T) {
	tx := newRootTransaction(time.Now())
	tx.attachments["tenant"] = "eu-1"

	txCtx := tx.Context()
	assert.Equal(t, tx.Xid(), txCtx.Xid)
	assert.Equal(t, StatusTrying, txCtx.Status)

	txCtx.Attachments["tenant"] = "us-1"
	assert.Equal(t, "eu-1", tx.Attachments()["tenant"], "context attachments are a copy")

	branch := newBranchTransaction(txCtx, time.Now())
	assert.Equal(t, tx.Xid(), branch.Xid())
	assert.Equal(t, TransactionTypeBranch, branch.TransactionType())
	assert.Equal(t, "us-1", branch.Attachments()["tenant"])
}
