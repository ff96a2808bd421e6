package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

var _ UserStore = (*SQLiteStore)(nil)

// SQLiteStore keeps one row per user with the watchlist as a JSON array.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between the saver and loaders
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS users (
		email TEXT PRIMARY KEY,
		subscriptions TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadUsers(ctx context.Context) ([]models.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, subscriptions FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var records []models.UserRecord
	for rows.Next() {
		var email, subs string
		if err := rows.Scan(&email, &subs); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		rec := models.UserRecord{Email: email}
		if err := json.Unmarshal([]byte(subs), &rec.Subscriptions); err != nil {
			return nil, fmt.Errorf("decode subscriptions for %s: %w", email, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveUsers rewrites the table inside one transaction.
func (s *SQLiteStore) SaveUsers(ctx context.Context, records []models.UserRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("clear users: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO users (email, subscriptions) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		subs := rec.Subscriptions
		if subs == nil {
			subs = []string{}
		}
		payload, err := json.Marshal(subs)
		if err != nil {
			return fmt.Errorf("encode subscriptions for %s: %w", rec.Email, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.Email, string(payload)); err != nil {
			return fmt.Errorf("insert %s: %w", rec.Email, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
