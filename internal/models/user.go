package models

// Authenticated caller. Users are managed elsewhere, the ledger only knows their id
type User struct {
	ID    string
	Email string
}
