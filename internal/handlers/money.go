package handlers

import (
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/models"
)

// Amounts travel over the API in major units, the ledger keeps minor units
const minorUnitsExp = 2

var maxMinorUnits = decimal.NewFromInt(models.MaxDepositAmount)

func toMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(minorUnitsExp)

	if !minor.IsPositive() || !minor.Equal(minor.Truncate(0)) || minor.GreaterThan(maxMinorUnits) {
		return 0, apperrors.ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

func toMajorUnits(minor int64) string {
	return decimal.New(minor, -minorUnitsExp).StringFixed(minorUnitsExp)
}
