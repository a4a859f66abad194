package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetCachedRead overwrites the snapshot stored under label.
func (db *DB) SetCachedRead(ctx context.Context, label string, value []byte) error {
	query := `INSERT INTO cached_reads (label, value, captured_at) VALUES (?, ?, ?)
              ON CONFLICT(label) DO UPDATE SET value = excluded.value, captured_at = excluded.captured_at`
	if _, err := db.ExecContext(ctx, query, label, string(value), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store cached read %s: %w", label, err)
	}
	return nil
}

// GetCachedRead returns the snapshot and its capture time, or a nil value
// when label was never stored.
func (db *DB) GetCachedRead(ctx context.Context, label string) ([]byte, time.Time, error) {
	var (
		value      string
		capturedAt time.Time
	)
	err := db.QueryRowContext(ctx, `SELECT value, captured_at FROM cached_reads WHERE label = ?`, label).Scan(&value, &capturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load cached read %s: %w", label, err)
	}
	return []byte(value), capturedAt, nil
}
