package amqp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType names a change to a bill, its ledger or its settlement mirror.
type EventType string

const (
	TransactionCreated EventType = "transaction.created"
	TransactionUpdated EventType = "transaction.updated"
	TransactionDeleted EventType = "transaction.deleted"

	BillCreated EventType = "bill.created"
	BillUpdated EventType = "bill.updated"
	BillDeleted EventType = "bill.deleted"

	SettlementCreated EventType = "settlement.created"
	SettlementUpdated EventType = "settlement.updated"
	SettlementDeleted EventType = "settlement.deleted"

	CycleAdvanced EventType = "cycle.advanced"
)

// IsTransaction reports whether the event concerns a ledger entry.
func (t EventType) IsTransaction() bool {
	return strings.HasPrefix(string(t), "transaction.")
}

// IsSettlement reports whether the event was emitted by the reconciler itself.
func (t EventType) IsSettlement() bool {
	return strings.HasPrefix(string(t), "settlement.")
}

// BillEventMessage is a lightweight notification; consumers reload the bill
// from the store instead of trusting the payload.
type BillEventMessage struct {
	Type          EventType `json:"type"`
	BillID        string    `json:"bill_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Cycle         string    `json:"cycle,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewBillEventMessage(eventType EventType, billID string) *BillEventMessage {
	return &BillEventMessage{
		Type:      eventType,
		BillID:    billID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *BillEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BillEventMessageFromJSON decodes a message and rejects ones without a type or bill.
func BillEventMessageFromJSON(data []byte) (*BillEventMessage, error) {
	var msg BillEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" || msg.BillID == "" {
		return nil, fmt.Errorf("incomplete bill event: type=%q bill_id=%q", msg.Type, msg.BillID)
	}
	return &msg, nil
}
