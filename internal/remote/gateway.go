package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"mozzafiato/internal/config"
	"mozzafiato/internal/domain"
	"mozzafiato/internal/models"

	"golang.org/x/time/rate"
)

const maxResponseBytes = 10 << 20

var (
	ErrMalformedResponse = errors.New("malformed response")
	ErrMissingField      = errors.New("missing field")
)

// StatusError is returned for non-2xx answers from the web app.
type StatusError struct {
	Action string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: remote returned status %d", e.Action, e.Code)
}

// envelope is the union of every body the web app answers with.
type envelope struct {
	Success    *bool                  `json:"success"`
	Error      string                 `json:"error,omitempty"`
	Productos  []models.Product       `json:"productos"`
	Inventario []models.InventoryItem `json:"inventario"`
	Stats      models.Stats           `json:"stats"`
	Reportes   models.Reports         `json:"reportes"`
}

type batchRequest struct {
	Action    string            `json:"action"`
	Registros []json.RawMessage `json:"registros"`
}

// Gateway talks to the Apps Script web app in front of the spreadsheet.
// Every method is fail-soft: errors are handed to the reporter and the
// caller gets an empty value.
type Gateway struct {
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	reporter domain.Reporter
}

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

func NewGateway(cfg config.RemoteConfig, reporter domain.Reporter, opts ...Option) *Gateway {
	if reporter == nil {
		reporter = domain.NopReporter{}
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = models.DefaultRemoteTimeout
	}

	g := &Gateway{
		baseURL:  cfg.WebAppURL,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		reporter: reporter,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) TestConnection(ctx context.Context) bool {
	env, err := g.get(ctx, models.ActionTest)
	if err != nil {
		g.reporter.Report(models.ActionTest, err)
		return false
	}
	return env.Success != nil && *env.Success
}

func (g *Gateway) FetchCatalog(ctx context.Context) []models.Product {
	env, err := g.get(ctx, models.ActionGetCatalog)
	if err == nil && env.Productos == nil {
		err = fmt.Errorf("%w: productos", ErrMissingField)
	}
	if err != nil {
		g.reporter.Report(models.ActionGetCatalog, err)
		return []models.Product{}
	}
	return env.Productos
}

func (g *Gateway) FetchInventory(ctx context.Context) []models.InventoryItem {
	env, err := g.get(ctx, models.ActionGetInventory)
	if err == nil && env.Inventario == nil {
		err = fmt.Errorf("%w: inventario", ErrMissingField)
	}
	if err != nil {
		g.reporter.Report(models.ActionGetInventory, err)
		return []models.InventoryItem{}
	}
	return env.Inventario
}

func (g *Gateway) FetchStats(ctx context.Context) models.Stats {
	env, err := g.get(ctx, models.ActionGetStats)
	if err == nil && env.Stats == nil {
		err = fmt.Errorf("%w: stats", ErrMissingField)
	}
	if err != nil {
		g.reporter.Report(models.ActionGetStats, err)
		return nil
	}
	return env.Stats
}

func (g *Gateway) FetchReports(ctx context.Context) models.Reports {
	env, err := g.get(ctx, models.ActionGetReports)
	if err == nil && env.Reportes == nil {
		err = fmt.Errorf("%w: reportes", ErrMissingField)
	}
	if err != nil {
		g.reporter.Report(models.ActionGetReports, err)
		return nil
	}
	return env.Reportes
}

// SubmitBatch sends the whole queue in one request. Only an explicit
// success flag counts as acceptance.
func (g *Gateway) SubmitBatch(ctx context.Context, category models.Category, records []models.PendingRecord) models.SyncResult {
	action := category.Action()
	if action == "" {
		err := fmt.Errorf("%w: %q", models.ErrUnknownCategory, category)
		g.reporter.Report("submitBatch", err)
		return models.SyncFailed(err.Error())
	}
	if len(records) == 0 {
		return models.SyncResult{Succeeded: true}
	}

	env, err := g.post(ctx, action, records)
	if err == nil {
		switch {
		case env.Success == nil:
			err = fmt.Errorf("%w: no success flag", ErrMalformedResponse)
		case !*env.Success:
			reason := env.Error
			if reason == "" {
				reason = "rejected by remote"
			}
			err = errors.New(reason)
		}
	}
	if err != nil {
		g.reporter.Report(action, err)
		return models.SyncFailed(err.Error())
	}
	return models.SyncResult{Succeeded: true}
}

func (g *Gateway) get(ctx context.Context, action string) (*envelope, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid web app url: %w", err)
	}
	q := u.Query()
	q.Set("action", action)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return g.do(req, action)
}

func (g *Gateway) post(ctx context.Context, action string, records []models.PendingRecord) (*envelope, error) {
	body, err := json.Marshal(batchRequest{Action: action, Registros: registros(records)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, action)
}

func (g *Gateway) do(req *http.Request, action string) (*envelope, error) {
	if err := g.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Action: action, Code: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &env, nil
}

// registros tags every object payload with its client_id so the remote can
// drop a batch it has already applied.
func registros(records []models.PendingRecord) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		out = append(out, withClientID(r))
	}
	return out
}

func withClientID(r models.PendingRecord) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(r.Payload, &obj); err != nil || obj == nil {
		return r.Payload
	}
	if _, ok := obj["client_id"]; ok {
		return r.Payload
	}
	id, _ := json.Marshal(r.ID)
	obj["client_id"] = id
	tagged, err := json.Marshal(obj)
	if err != nil {
		return r.Payload
	}
	return tagged
}
