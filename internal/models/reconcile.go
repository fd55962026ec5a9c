package models

import (
	"encoding/json"
	"time"
)

// Entry point that asked for reconciliation
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceVerify  Source = "verify"
	SourceSweep   Source = "sweep"
)

type ReconcileRequest struct {
	Reference string

	// Status as reported by the gateway. Ignored for SourceSweep
	ReportedStatus string

	// Raw gateway snapshot stored as deposit payload when a transition applies
	Evidence json.RawMessage

	Source Source

	// Age after which SourceSweep may cancel a deposit. Zero means the configured default
	StaleAfter time.Duration
}

type ReconcileResult struct {
	Status   DepositStatus `json:"status"`
	Credited bool          `json:"credited"`

	// False when the call was a no-op (already terminal, lost race, unknown status...)
	Applied bool `json:"-"`
}
