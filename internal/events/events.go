// Package events describes what the ledger tells the rest of the system.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nkiryanov/depositledger/internal/models"
)

const (
	// Deposit reached a new status through an applied transition
	TopicDepositSettled = "deposit.settled"

	// Gateway reported a reference the ledger never issued
	TopicDepositUnmatched = "deposit.unmatched"
)

type Publisher interface {
	// Publish payload to topic. Key orders messages of one entity
	Publish(ctx context.Context, topic string, key string, payload any) error
}

type DepositSettled struct {
	DepositID string               `json:"depositId"`
	UserID    string               `json:"uid"`
	Reference string               `json:"reference"`
	Amount    int64                `json:"amount"`
	Status    models.DepositStatus `json:"status"`
	Credited  bool                 `json:"credited"`
	Source    models.Source        `json:"source"`
	At        time.Time            `json:"at"`
}

type DepositUnmatched struct {
	Reference      string          `json:"reference"`
	ReportedStatus string          `json:"reportedStatus"`
	Source         models.Source   `json:"source"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	At             time.Time       `json:"at"`
}

// Publisher that drops everything. Used when no broker is configured
type Noop struct{}

func (Noop) Publish(context.Context, string, string, any) error {
	return nil
}
