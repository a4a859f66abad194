package models

import (
	"net/http"
	"time"
)

// CacheEntry is the last successful response observed for a request identity.
type CacheEntry struct {
	Namespace  string      `json:"namespace"`
	Key        string      `json:"key"`
	Status     int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body"`
	CapturedAt time.Time   `json:"captured_at"`
}

// RequestKey builds the cache identity for a read request.
func RequestKey(method, requestURI string) string {
	if method == http.MethodHead {
		method = http.MethodGet
	}
	return method + " " + requestURI
}
