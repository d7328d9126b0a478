package models

import (
	"encoding/json"
	"fmt"
)

// OperationType distinguishes the kinds of mutations the queue can carry.
type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

// EntityType names the collection a queued operation targets.
type EntityType string

const (
	EntityExpense    EntityType = "EXPENSE"
	EntityGroup      EntityType = "GROUP"
	EntitySettlement EntityType = "SETTLEMENT"
)

// OperationStatus is the persisted state of a queued operation. In-flight is
// deliberately not a persisted state: a crash mid-delivery must leave the
// operation PENDING so the next drain retries it.
type OperationStatus string

const (
	StatusPending OperationStatus = "PENDING"
	StatusFailed  OperationStatus = "FAILED"
)

// FailureType is the authoritative classification of a delivery failure.
// FailureReason is opaque diagnostic text and is never branched on.
type FailureType string

const (
	FailureNetwork    FailureType = "NETWORK"
	FailureAuth       FailureType = "AUTH"
	FailureValidation FailureType = "VALIDATION"
	FailureConflict   FailureType = "CONFLICT"
)

// SyncOperation is one entry in the write-ahead sync queue: a local mutation
// awaiting remote confirmation. Entries are created atomically with the
// entity write they describe, consumed on confirmed remote success or
// explicit acknowledgment, and mutated only by the replication worker and
// the reconciler.
type SyncOperation struct {
	// ID is assigned by the store and is monotonic; it defines FIFO order.
	ID int64 `json:"id"`

	Op         OperationType `json:"op"`
	EntityType EntityType    `json:"entity_type"`
	EntityID   string        `json:"entity_id"`

	// Payload is the full serialized entity snapshot at enqueue time.
	// Replaying it any number of times yields the same store state.
	Payload json.RawMessage `json:"payload"`

	Status OperationStatus `json:"status"`

	// FailureType is empty while the operation has never failed.
	FailureType FailureType `json:"failure_type,omitempty"`

	// FailureReason is free text captured from the last failure.
	FailureReason string `json:"failure_reason,omitempty"`

	// Attempts counts delivery attempts that ended in a transport failure.
	Attempts int `json:"attempts"`

	// Timestamp is the Unix timestamp the operation was enqueued.
	Timestamp int64 `json:"timestamp"`
}

// ExpensePayload is the snapshot carried by EXPENSE operations. The splits
// travel with the expense so that replay keeps the split-sum invariant.
type ExpensePayload struct {
	Expense Expense        `json:"expense"`
	Splits  []ExpenseSplit `json:"splits"`
}

// EncodeExpense serializes an expense snapshot for the queue.
func EncodeExpense(e *Expense, splits []ExpenseSplit) (json.RawMessage, error) {
	raw, err := json.Marshal(ExpensePayload{Expense: *e, Splits: splits})
	if err != nil {
		return nil, fmt.Errorf("failed to encode expense payload: %w", err)
	}
	return raw, nil
}

// DecodeExpense deserializes an EXPENSE operation payload.
func DecodeExpense(raw json.RawMessage) (*Expense, []ExpenseSplit, error) {
	var p ExpensePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("failed to decode expense payload: %w", err)
	}
	return &p.Expense, p.Splits, nil
}

// EncodeGroup serializes a group snapshot for the queue.
func EncodeGroup(g *Group) (json.RawMessage, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode group payload: %w", err)
	}
	return raw, nil
}

// DecodeGroup deserializes a GROUP operation payload.
func DecodeGroup(raw json.RawMessage) (*Group, error) {
	g := &Group{}
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, fmt.Errorf("failed to decode group payload: %w", err)
	}
	return g, nil
}

// EncodeSettlement serializes a settlement snapshot for the queue.
func EncodeSettlement(s *Settlement) (json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settlement payload: %w", err)
	}
	return raw, nil
}

// DecodeSettlement deserializes a SETTLEMENT operation payload.
func DecodeSettlement(raw json.RawMessage) (*Settlement, error) {
	s := &Settlement{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("failed to decode settlement payload: %w", err)
	}
	return s, nil
}
