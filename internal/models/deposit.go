package models

import (
	"encoding/json"
	"time"
)

type DepositStatus string

const (
	DepositInitiated  DepositStatus = "initiated"
	DepositProcessing DepositStatus = "processing"
	DepositApproved   DepositStatus = "approved"
	DepositDeclined   DepositStatus = "declined"
	DepositCancelled  DepositStatus = "cancelled"
)

// Largest single deposit, minor units. Keeps balances far from int64 overflow
const MaxDepositAmount int64 = 1_000_000_000_00

// Terminal statuses have no outbound transitions
func (s DepositStatus) IsTerminal() bool {
	switch s {
	case DepositApproved, DepositDeclined, DepositCancelled:
		return true
	default:
		return false
	}
}

// Deposit is one attempted funding operation.
// Amount is in minor units (e.g. kobo, cents) and never changes after creation.
type Deposit struct {
	ID             string          `json:"depositId"`
	UserID         string          `json:"uid"`
	Reference      string          `json:"reference"`
	Amount         int64           `json:"amount"`
	Status         DepositStatus   `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	GatewayPayload json.RawMessage `json:"gatewayPayload,omitempty"`
}

// Age of the deposit measured from creation
func (d Deposit) Age(now time.Time) time.Duration {
	return now.Sub(d.CreatedAt)
}

// Back-reference from a gateway reference to the deposit coordinate
type ReferenceEntry struct {
	UserID    string `json:"uid"`
	DepositID string `json:"depositId"`
}
