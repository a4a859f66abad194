package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mozzafiato/internal/config"
	"mozzafiato/internal/domain"
	"mozzafiato/internal/metrics"
	"mozzafiato/internal/models"

	"github.com/rs/zerolog"
)

const maxRecordBytes = 1 << 20

// Syncer is the part of the coordinator the API drives.
type Syncer interface {
	Enqueue(ctx context.Context, category models.Category, payload json.RawMessage) (*models.PendingRecord, error)
	Trigger(reason string)
}

type Deps struct {
	Syncer  Syncer
	Queue   domain.QueueStore
	Reads   domain.CachedReadStore
	Monitor domain.ConnectivityMonitor
	// Fallback serves every non-API path, normally the fetch interceptor.
	Fallback http.Handler
	Logger   *zerolog.Logger
}

// HTTPServer exposes the local API and forwards everything else to the
// front-end through the interceptor.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	log    zerolog.Logger
}

// cachedReadRoutes maps read endpoints to their cached-read labels.
var cachedReadRoutes = map[string]string{
	"/api/v1/catalog":   models.LabelCatalog,
	"/api/v1/inventory": models.LabelInventory,
	"/api/v1/stats":     models.LabelStats,
	"/api/v1/reports":   models.LabelReports,
}

func NewHTTPServer(cfg config.APIConfig, deps Deps) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, deps: deps, auth: NewHTTPAuth(cfg), log: zerolog.Nop()}
	if deps.Logger != nil {
		srv.log = deps.Logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv.handle(mux, "POST /api/v1/records/{category}", srv.handleEnqueue)
	srv.handle(mux, "GET /api/v1/records/{category}", srv.handlePending)
	for path, label := range cachedReadRoutes {
		srv.handle(mux, "GET "+path, srv.handleCachedRead(label))
	}
	srv.handle(mux, "GET /api/v1/reports/export", srv.handleExport)
	srv.handle(mux, "GET /api/v1/status", srv.handleStatus)
	srv.handle(mux, "POST /api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	if deps.Fallback != nil {
		mux.Handle("/", deps.Fallback)
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	category, err := models.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxRecordBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "record too large")
		return
	}
	if err := models.ValidatePayload(body); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	record, err := s.deps.Syncer.Enqueue(r.Context(), category, json.RawMessage(body))
	if err != nil {
		s.log.Error().Err(err).Str("category", category.String()).Msg("failed to persist record")
		writeError(w, http.StatusInternalServerError, "failed to persist record")
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (s *HTTPServer) handlePending(w http.ResponseWriter, r *http.Request) {
	category, err := models.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	records, err := s.deps.Queue.PeekAll(r.Context(), category)
	if err != nil {
		s.log.Error().Err(err).Str("category", category.String()).Msg("failed to read queue")
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"count":    len(records),
		"records":  records,
	})
}

func (s *HTTPServer) handleCachedRead(label string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, capturedAt, err := s.deps.Reads.GetCachedRead(r.Context(), label)
		if err != nil {
			s.log.Error().Err(err).Str("label", label).Msg("failed to load cached read")
			writeError(w, http.StatusInternalServerError, "failed to load cached data")
			return
		}
		if value == nil {
			writeError(w, http.StatusNotFound, "no cached data yet")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"label":       label,
			"captured_at": capturedAt.UTC(),
			"data":        json.RawMessage(value),
		})
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		inventory []models.InventoryItem
		reports   models.Reports
		latest    time.Time
	)
	load := func(label string, out any) bool {
		raw, capturedAt, err := s.deps.Reads.GetCachedRead(ctx, label)
		if err != nil || raw == nil {
			return err == nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			s.log.Warn().Err(err).Str("label", label).Msg("cached read is not decodable")
			return true
		}
		if capturedAt.After(latest) {
			latest = capturedAt
		}
		return true
	}
	if !load(models.LabelInventory, &inventory) || !load(models.LabelReports, &reports) {
		writeError(w, http.StatusInternalServerError, "failed to load cached data")
		return
	}
	if len(inventory) == 0 && len(reports) == 0 {
		writeError(w, http.StatusNotFound, "no cached data yet")
		return
	}

	buf, err := buildWorkbook(inventory, reports, latest)
	if err != nil {
		s.log.Error().Err(err).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	name := fmt.Sprintf("mozzafiato_%s.xlsx", latest.UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending := make(map[string]int, len(models.Categories))
	for _, c := range models.Categories {
		n, err := s.deps.Queue.Count(r.Context(), c)
		if err != nil {
			s.log.Error().Err(err).Str("category", c.String()).Msg("failed to count queue")
			writeError(w, http.StatusInternalServerError, "failed to count queue")
			return
		}
		pending[c.String()] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"online":  s.deps.Monitor.IsOnline(),
		"pending": pending,
	})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	s.deps.Syncer.Trigger("manual")
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "scheduled"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses from the interceptor working.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
