package tcc

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// jsonRecordType tags persisted records so that a shared bucket can be
// queried for transaction records only.
const jsonRecordType = "tcc_txn"

type jsonInvocation struct {
	TargetType     string            `json:"tgt,omitempty"`
	Operation      string            `json:"op,omitempty"`
	ParameterTypes []string          `json:"ptyp,omitempty"`
	Arguments      []json.RawMessage `json:"args,omitempty"`
	Metadata       map[string]string `json:"meta,omitempty"`
}

type jsonParticipant struct {
	Xid     string          `json:"xid"`
	Confirm *jsonInvocation `json:"cfm,omitempty"`
	Cancel  *jsonInvocation `json:"cnl,omitempty"`
	Editor  string          `json:"ed,omitempty"`
}

type jsonTransactionRecord struct {
	Type         string            `json:"type"`
	Xid          string            `json:"xid"`
	GlobalID     string            `json:"gid"`
	Status       string            `json:"st"`
	TxnType      string            `json:"tt"`
	Participants []jsonParticipant `json:"parts,omitempty"`
	Attachments  map[string]string `json:"att,omitempty"`
	Version      int64             `json:"ver"`
	CreateMs     int64             `json:"create_ms"`
	LastUpdateMs int64             `json:"last_update_ms"`
	RetriedCount int               `json:"retried,omitempty"`
}

func invocationToJSON(inv *Invocation) *jsonInvocation {
	if inv == nil {
		return nil
	}
	return &jsonInvocation{
		TargetType:     inv.TargetType,
		Operation:      inv.Operation,
		ParameterTypes: inv.ParameterTypes,
		Arguments:      inv.Arguments,
		Metadata:       inv.Metadata,
	}
}

func invocationFromJSON(inv *jsonInvocation) *Invocation {
	if inv == nil {
		return nil
	}
	return &Invocation{
		TargetType:     inv.TargetType,
		Operation:      inv.Operation,
		ParameterTypes: inv.ParameterTypes,
		Arguments:      inv.Arguments,
		Metadata:       inv.Metadata,
	}
}

func encodeTransaction(tx *Transaction) ([]byte, error) {
	record := jsonTransactionRecord{
		Type:         jsonRecordType,
		Xid:          tx.xid.String(),
		GlobalID:     tx.xid.GlobalID.String(),
		Status:       tx.status.String(),
		TxnType:      tx.ttype.String(),
		Attachments:  tx.attachments,
		Version:      tx.version,
		CreateMs:     tx.createTime.UnixNano() / int64(time.Millisecond),
		LastUpdateMs: tx.lastUpdateTime.UnixNano() / int64(time.Millisecond),
		RetriedCount: tx.retriedCount,
	}

	for _, p := range tx.participants {
		record.Participants = append(record.Participants, jsonParticipant{
			Xid:     p.Xid.String(),
			Confirm: invocationToJSON(p.Confirm),
			Cancel:  invocationToJSON(p.Cancel),
			Editor:  p.ContextEditor,
		})
	}

	return json.Marshal(record)
}

func decodeTransaction(data []byte) (*Transaction, error) {
	var record jsonTransactionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "invalid transaction record")
	}

	if record.Type != jsonRecordType {
		return nil, errors.Errorf("invalid transaction record - unexpected type %q", record.Type)
	}

	xid, err := ParseXid(record.Xid)
	if err != nil {
		return nil, err
	}

	status, err := statusFromString(record.Status)
	if err != nil {
		return nil, err
	}

	ttype, err := transactionTypeFromString(record.TxnType)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		xid:            xid,
		status:         status,
		ttype:          ttype,
		attachments:    record.Attachments,
		version:        record.Version,
		createTime:     time.Unix(0, record.CreateMs*int64(time.Millisecond)),
		lastUpdateTime: time.Unix(0, record.LastUpdateMs*int64(time.Millisecond)),
		retriedCount:   record.RetriedCount,
	}
	if tx.attachments == nil {
		tx.attachments = make(map[string]string)
	}

	for _, p := range record.Participants {
		pXid, err := ParseXid(p.Xid)
		if err != nil {
			return nil, errors.Wrap(err, "invalid participant")
		}

		tx.participants = append(tx.participants, &Participant{
			Xid:           pXid,
			Confirm:       invocationFromJSON(p.Confirm),
			Cancel:        invocationFromJSON(p.Cancel),
			ContextEditor: p.Editor,
		})
	}

	return tx, nil
}
