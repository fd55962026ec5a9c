package models

import (
	"time"
)

const (
	TransactionKindCredit = "credit"
)

type Balance struct {
	UserID  string `json:"uid"`
	Balance int64  `json:"balance"`
}

// Immutable audit entry, one per approved deposit
type Transaction struct {
	ID         string    `json:"txId"`
	UserID     string    `json:"uid"`
	DepositID  string    `json:"depositId"`
	Amount     int64     `json:"amount"`
	Kind       string    `json:"kind"`
	RecordedAt time.Time `json:"recordedAt"`
}
