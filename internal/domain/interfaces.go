package domain

import (
	"context"
	"encoding/json"
	"time"

	"mozzafiato/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// QueueStore persists pending writes per category.
type QueueStore interface {
	Enqueue(ctx context.Context, category models.Category, payload json.RawMessage) (*models.PendingRecord, error)
	PeekAll(ctx context.Context, category models.Category) ([]models.PendingRecord, error)
	Clear(ctx context.Context, category models.Category) error
	ClearThrough(ctx context.Context, category models.Category, seq int64) error
	Count(ctx context.Context, category models.Category) (int, error)
}

// ResponseCache stores request→response snapshots grouped in namespaces.
type ResponseCache interface {
	Put(ctx context.Context, entry *models.CacheEntry) error
	Get(ctx context.Context, namespace, key string) (*models.CacheEntry, error)
	Delete(ctx context.Context, namespace, key string) error
	Namespaces(ctx context.Context) ([]string, error)
	DropNamespace(ctx context.Context, namespace string) error
}

// CachedReadStore keeps the last known copy of remote read-through data.
type CachedReadStore interface {
	SetCachedRead(ctx context.Context, label string, value []byte) error
	GetCachedRead(ctx context.Context, label string) ([]byte, time.Time, error)
}

// RemoteGateway is the fail-soft contract with the authoritative store.
type RemoteGateway interface {
	TestConnection(ctx context.Context) bool
	FetchCatalog(ctx context.Context) []models.Product
	FetchInventory(ctx context.Context) []models.InventoryItem
	FetchStats(ctx context.Context) models.Stats
	FetchReports(ctx context.Context) models.Reports
	SubmitBatch(ctx context.Context, category models.Category, records []models.PendingRecord) models.SyncResult
}

// Reporter receives diagnostics for failures that are otherwise swallowed.
type Reporter interface {
	Report(op string, err error)
}

type ConnectivityMonitor interface {
	IsOnline() bool
	OnBecameOnline(handler func())
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NopReporter discards every report.
type NopReporter struct{}

func (NopReporter) Report(string, error) {}
