package ledger

import (
	"errors"
	"strings"
)

// Key layout of the record store
const (
	depositPrefix     = "deposit/"
	referencePrefix   = "referenceIndex/"
	balancePrefix     = "balance/"
	transactionPrefix = "transaction/"
)

var errInvalidKeyPart = errors.New("identifier must be non-empty and must not contain '/'")

func DepositKey(uid, depositID string) string {
	return depositPrefix + uid + "/" + depositID
}

func ReferenceKey(reference string) string {
	return referencePrefix + reference
}

func BalanceKey(uid string) string {
	return balancePrefix + uid
}

func TransactionKey(uid, txID string) string {
	return transactionPrefix + uid + "/" + txID
}

func validKeyParts(parts ...string) error {
	for _, p := range parts {
		if p == "" || strings.Contains(p, "/") {
			return errInvalidKeyPart
		}
	}
	return nil
}
