package internal

import (
	"context"
	"database/sql"
	"strings"
)

// SQLiteStore backs the ceremony key space with a single kv table. One
// PutAtomic batch is one transaction, which is what gives the state machine
// its all-or-nothing multi-key writes.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func EnsureSchema(db *sql.DB) error {
	createTable := `
    CREATE TABLE IF NOT EXISTS ceremony_kv (
        operation_id TEXT NOT NULL,
        k TEXT NOT NULL,
        v BLOB NOT NULL,
        PRIMARY KEY (operation_id, k)
    );
	`
	_, err := db.Exec(createTable)
	if err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, operationID string, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	placeholders := strings.Repeat("?,", len(keys))
	placeholders = placeholders[:len(placeholders)-1]
	query := `SELECT k, v FROM ceremony_kv WHERE operation_id = ? AND k IN (` + placeholders + `)`

	args := make([]any, 0, len(keys)+1)
	args = append(args, operationID)
	for _, k := range keys {
		args = append(args, k)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string][]byte, len(keys))
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

func (s *SQLiteStore) PutAtomic(ctx context.Context, operationID string, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Rollback on error

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ceremony_kv (operation_id, k, v) VALUES (?, ?, ?)
		ON CONFLICT (operation_id, k) DO UPDATE SET v = excluded.v
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for k, v := range entries {
		if _, err := stmt.ExecContext(ctx, operationID, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListOperations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT operation_id FROM ceremony_kv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
