package postgres

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/depositledger/internal/store"
)

// Satisfied by *pgxpool.Pool and pgx.Tx (Begin on a tx opens a savepoint)
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store keeps records in the single 'records' table
type Store struct {
	DB DBTX
}

func New(db DBTX) *Store {
	return &Store{DB: db}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	const getRecord = `-- name: GetRecord
	SELECT value FROM records
	WHERE key = $1
	`

	var value []byte
	err := s.DB.QueryRow(ctx, getRecord, key).Scan(&value)

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, store.ErrNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

// Lock precondition rows in key order, compare, then write.
// Rows expected absent can't be locked; a concurrent insert of the same key
// surfaces as unique violation and is reported as a conflict
func (s *Store) AtomicUpdate(ctx context.Context, writes map[string][]byte, preconditions map[string]store.Precondition) (err error) {
	const lockRecords = `-- name: LockRecords
	SELECT key, value FROM records
	WHERE key = ANY($1)
	ORDER BY key
	FOR UPDATE
	`
	const insertRecord = `-- name: InsertRecord
	INSERT INTO records (key, value)
	VALUES ($1, $2)
	`
	const upsertRecord = `-- name: UpsertRecord
	INSERT INTO records (key, value)
	VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			err = tx.Commit(ctx)
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	if len(preconditions) > 0 {
		keys := slices.Sorted(maps.Keys(preconditions))

		rows, _ := tx.Query(ctx, lockRecords, keys)
		locked, err := pgx.CollectRows(rows, pgx.RowToStructByPos[store.Record])
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		current := make(map[string][]byte, len(locked))
		for _, r := range locked {
			current[r.Key] = r.Value
		}

		for _, key := range keys {
			value, exists := current[key]
			if !preconditions[key].Matches(value, exists) {
				return &store.ConflictError{Key: key}
			}
		}
	}

	for _, key := range slices.Sorted(maps.Keys(writes)) {
		query := upsertRecord
		if pre, ok := preconditions[key]; ok && pre.Absent() {
			query = insertRecord
		}

		_, err := tx.Exec(ctx, query, key, writes[key])
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return &store.ConflictError{Key: key}
			}
			return fmt.Errorf("db error: %w", err)
		}
	}

	return nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]store.Record, error) {
	const scanRecords = `-- name: ScanRecords
	SELECT key, value FROM records
	WHERE starts_with(key, $1)
	ORDER BY key
	`

	rows, _ := s.DB.Query(ctx, scanRecords, prefix)
	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[store.Record])
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return records, nil
}
