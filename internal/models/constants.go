package models

import "time"

// Remote actions.
const (
	ActionTest           = "test"
	ActionGetCatalog     = "getCatalogo"
	ActionGetInventory   = "getInventario"
	ActionGetStats       = "getEstadisticas"
	ActionGetReports     = "getReportes"
	ActionSaveProduction = "guardarProduccion"
	ActionSaveSales      = "guardarVentas"
)

// Cached read labels.
const (
	LabelInventory = "inventario_cache"
	LabelStats     = "mozzafiato_stats"
	LabelCatalog   = "catalogo_cache"
	LabelReports   = "reportes_cache"
)

// Event types published on the in-process bus.
const (
	EventConnectivityOnline  = "connectivity_online"
	EventConnectivityOffline = "connectivity_offline"
	EventRecordEnqueued      = "record_enqueued"
	EventSyncCompleted       = "sync_completed"
)

const (
	// DefaultSyncInterval период фоновой синхронизации
	DefaultSyncInterval = 60 * time.Second

	// DefaultCacheName текущее пространство имён кэша ответов
	DefaultCacheName = "mozzafiato-v1"

	// DefaultShellPath документ-оболочка для офлайн-навигации
	DefaultShellPath = "/index.html"

	// DefaultRemoteTimeout таймаут одного запроса к удалённому API
	DefaultRemoteTimeout = 15 * time.Second
)

// DefaultShellURLs are precached on install.
var DefaultShellURLs = []string{
	"/",
	"/index.html",
	"/produccion.html",
	"/ventas.html",
	"/inventario.html",
	"/stock-bajo.html",
	"/reportes.html",
	"/productos.html",
	"/manifest.json",
}
