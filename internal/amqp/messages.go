package amqp

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a committed ledger change.
type EventType string

const (
	EventAccountCreated  EventType = "account.created"
	EventAccountDeleted  EventType = "account.deleted"
	EventBalanceSet      EventType = "account.balance_set"
	EventItemAdded       EventType = "item.added"
	EventItemDeleted     EventType = "item.deleted"
	EventRecurringPosted EventType = "recurring.posted"
	EventGoalCreated     EventType = "goal.created"
	EventGoalDeposit     EventType = "goal.deposit"
	EventGoalDeleted     EventType = "goal.deleted"
)

// LedgerEvent is published after a ledger change has been committed.
// Consumers must treat it as a notification; the store stays authoritative.
type LedgerEvent struct {
	Type      EventType       `json:"type"`
	UserID    string          `json:"userId"`
	Month     string          `json:"month,omitempty"`
	EntityID  string          `json:"entityId"`
	AccountID string          `json:"accountId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewLedgerEvent creates an event stamped with the current time.
func NewLedgerEvent(typ EventType, userID, entityID string) *LedgerEvent {
	return &LedgerEvent{
		Type:      typ,
		UserID:    userID,
		EntityID:  entityID,
		Timestamp: time.Now(),
	}
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// RecurringRequest asks the recurring worker to post a user's bills into a
// month. Handling it twice is harmless.
type RecurringRequest struct {
	UserID    string    `json:"userId"`
	Month     string    `json:"month"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRecurringRequest(userID, month string) *RecurringRequest {
	return &RecurringRequest{
		UserID:    userID,
		Month:     month,
		Timestamp: time.Now(),
	}
}

func (m *RecurringRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RecurringRequestFromJSON(data []byte) (*RecurringRequest, error) {
	var msg RecurringRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
