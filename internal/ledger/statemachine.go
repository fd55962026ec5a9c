package ledger

import (
	"strings"

	"github.com/nkiryanov/depositledger/internal/models"
)

// Event that may move a deposit to another status
type Event string

const (
	EventUnrecognized Event = ""
	EventSucceeded    Event = "succeeded"
	EventFailed       Event = "failed"
	EventAbandoned    Event = "abandoned"
	EventPending      Event = "pending"

	// Emitted by the staleness sweep only, never parsed from the gateway
	EventTimedOut Event = "timed_out"
)

// The only place deposit transitions are defined.
// Terminal statuses have no entry: every event on them is a no-op
var transitions = map[models.DepositStatus]map[Event]models.DepositStatus{
	models.DepositInitiated: {
		EventSucceeded: models.DepositApproved,
		EventFailed:    models.DepositDeclined,
		EventAbandoned: models.DepositCancelled,
		EventPending:   models.DepositProcessing,
		EventTimedOut:  models.DepositCancelled,
	},
	models.DepositProcessing: {
		EventSucceeded: models.DepositApproved,
		EventFailed:    models.DepositDeclined,
		EventTimedOut:  models.DepositCancelled,
	},
}

// Next status for event, ok is false when the event does not move the deposit
func Next(current models.DepositStatus, event Event) (next models.DepositStatus, ok bool) {
	next, ok = transitions[current][event]
	return next, ok
}

// Map gateway transaction status to an event.
// Unrecognized statuses return EventUnrecognized and must be reviewed manually
func EventFromGateway(status string) Event {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "paid":
		return EventSucceeded
	case "failed", "declined":
		return EventFailed
	case "abandoned", "cancelled", "expired", "reversed":
		return EventAbandoned
	case "pending", "ongoing", "processing", "queued":
		return EventPending
	default:
		return EventUnrecognized
	}
}

// Position of status in the lifecycle, statuses only move to a greater rank
func Rank(s models.DepositStatus) int {
	switch {
	case s == models.DepositInitiated:
		return 0
	case s == models.DepositProcessing:
		return 1
	case s.IsTerminal():
		return 2
	default:
		return -1
	}
}
