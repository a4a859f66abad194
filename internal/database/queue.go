package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mozzafiato/internal/models"

	"github.com/google/uuid"
)

var ErrInvalidPayload = models.ErrInvalidPayload

// Enqueue appends a record to the category queue. The row is committed
// before the call returns.
func (db *DB) Enqueue(ctx context.Context, category models.Category, payload json.RawMessage) (*models.PendingRecord, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownCategory, category)
	}
	if err := models.ValidatePayload(payload); err != nil {
		return nil, err
	}

	record := &models.PendingRecord{
		ID:        uuid.NewString(),
		Category:  category,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now().UTC(),
	}

	query := `INSERT INTO pending_records (id, category, payload, created_at) VALUES (?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query, record.ID, string(category), string(payload), record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s record: %w", category, err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.Seq = seq

	return record, nil
}

// PeekAll returns the category queue in insertion order without mutating it.
func (db *DB) PeekAll(ctx context.Context, category models.Category) ([]models.PendingRecord, error) {
	query := `SELECT seq, id, category, payload, created_at
              FROM pending_records
              WHERE category = ?
              ORDER BY seq ASC`
	rows, err := db.QueryContext(ctx, query, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s queue: %w", category, err)
	}
	defer rows.Close()

	records := []models.PendingRecord{}
	for rows.Next() {
		var (
			r       models.PendingRecord
			cat     string
			payload string
		)
		if err := rows.Scan(&r.Seq, &r.ID, &cat, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending record: %w", err)
		}
		r.Category = models.Category(cat)
		r.Payload = json.RawMessage(payload)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s queue: %w", category, err)
	}
	return records, nil
}

// Clear empties the category queue. Clearing an empty queue is a no-op.
func (db *DB) Clear(ctx context.Context, category models.Category) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM pending_records WHERE category = ?`, string(category)); err != nil {
		return fmt.Errorf("failed to clear %s queue: %w", category, err)
	}
	return nil
}

// ClearThrough removes the records of category whose position is <= seq,
// leaving anything enqueued after the submitted batch in place.
func (db *DB) ClearThrough(ctx context.Context, category models.Category, seq int64) error {
	query := `DELETE FROM pending_records WHERE category = ? AND seq <= ?`
	if _, err := db.ExecContext(ctx, query, string(category), seq); err != nil {
		return fmt.Errorf("failed to clear %s queue through %d: %w", category, seq, err)
	}
	return nil
}

func (db *DB) Count(ctx context.Context, category models.Category) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_records WHERE category = ?`, string(category)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s queue: %w", category, err)
	}
	return n, nil
}
