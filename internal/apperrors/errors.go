package apperrors

import (
	"errors"
)

var (
	// Fatal: missing secret, unreachable store, etc. Calls fail closed.
	ErrConfiguration = errors.New("configuration error")

	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrUnknownReference     = errors.New("unknown payment reference")
	ErrUpstreamVerification = errors.New("gateway verification failed")
	ErrStaleWrite           = errors.New("stale write: record changed since read")

	ErrDepositNotFound = errors.New("deposit not found")
	ErrInvalidAmount   = errors.New("amount must be positive and within the deposit limit")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidPayload  = errors.New("invalid payload")

	// Credit would not fit the balance; nothing is written and the deposit needs manual review
	ErrBalanceOverflow = errors.New("balance overflow")

	// Gateway could not start the payment; the deposit is left initiated
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
