package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidPayload rejects records that are not a single JSON object.
// Remote rows are keyed by field name, so nothing else can ever be submitted.
var ErrInvalidPayload = errors.New("payload must be a JSON object")

// ValidatePayload accepts only a well-formed JSON object.
func ValidatePayload(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return ErrInvalidPayload
	}
	return nil
}

// PendingRecord is a write captured locally and not yet accepted by the remote store.
type PendingRecord struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Category  Category        `json:"category"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// LastSeq returns the highest queue position in records, or 0 when empty.
func LastSeq(records []PendingRecord) int64 {
	var last int64
	for _, r := range records {
		if r.Seq > last {
			last = r.Seq
		}
	}
	return last
}

// SyncResult is the outcome of one batch submission.
type SyncResult struct {
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

func SyncFailed(reason string) SyncResult {
	return SyncResult{Succeeded: false, Error: reason}
}
