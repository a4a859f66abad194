package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"mozzafiato/internal/models"
)

// ResponseCacheStore is the SQLite-backed response cache, used as the
// fallback when Redis is absent or down.
type ResponseCacheStore struct {
	db *DB
}

func (db *DB) ResponseCache() *ResponseCacheStore {
	return &ResponseCacheStore{db: db}
}

func (s *ResponseCacheStore) Put(ctx context.Context, entry *models.CacheEntry) error {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("failed to encode cached header: %w", err)
	}

	query := `INSERT INTO response_cache (namespace, request_key, status, header, body, captured_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(namespace, request_key) DO UPDATE SET
                  status = excluded.status,
                  header = excluded.header,
                  body = excluded.body,
                  captured_at = excluded.captured_at`
	_, err = s.db.ExecContext(ctx, query,
		entry.Namespace,
		entry.Key,
		entry.Status,
		string(header),
		entry.Body,
		entry.CapturedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to cache %s: %w", entry.Key, err)
	}
	return nil
}

func (s *ResponseCacheStore) Get(ctx context.Context, namespace, key string) (*models.CacheEntry, error) {
	query := `SELECT status, header, body, captured_at FROM response_cache WHERE namespace = ? AND request_key = ?`

	entry := models.CacheEntry{Namespace: namespace, Key: key}
	var header sql.NullString
	err := s.db.QueryRowContext(ctx, query, namespace, key).Scan(&entry.Status, &header, &entry.Body, &entry.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached %s: %w", key, err)
	}

	if header.Valid && header.String != "" {
		entry.Header = http.Header{}
		if err := json.Unmarshal([]byte(header.String), &entry.Header); err != nil {
			return nil, fmt.Errorf("failed to decode cached header: %w", err)
		}
	}
	return &entry, nil
}

func (s *ResponseCacheStore) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE namespace = ? AND request_key = ?`, namespace, key); err != nil {
		return fmt.Errorf("failed to delete cached %s: %w", key, err)
	}
	return nil
}

func (s *ResponseCacheStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM response_cache ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("failed to scan cache namespace: %w", err)
		}
		names = append(names, ns)
	}
	return names, rows.Err()
}

func (s *ResponseCacheStore) DropNamespace(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("failed to drop cache namespace %s: %w", namespace, err)
	}
	return nil
}
