package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"mozzafiato/internal/config"
	"mozzafiato/internal/domain"
	"mozzafiato/internal/metrics"
	"mozzafiato/internal/models"

	"github.com/rs/zerolog"
)

const (
	HeaderCache      = "X-Cache"
	HeaderCapturedAt = "X-Cache-Captured-At"

	maxCacheableBytes = 32 << 20
)

const offlinePage = `<!DOCTYPE html>
<html lang="es"><head><meta charset="utf-8"><title>Mozzafiato</title></head>
<body><h1>Sin conexión</h1><p>Los datos se sincronizarán al recuperar la conexión.</p></body></html>
`

// Interceptor proxies requests to the front-end origin. Reads are
// network-first: every 200 refreshes the cache, and when the origin cannot be
// reached the last captured response is served instead, then the shell
// document, then a built-in offline page.
type Interceptor struct {
	proxy     *httputil.ReverseProxy
	upstream  *url.URL
	client    *http.Client
	cache     domain.ResponseCache
	namespace string
	shellPath string
	precache  []string
	reporter  domain.Reporter
	logger    *zerolog.Logger
	now       func() time.Time
}

type Option func(*Interceptor)

type inboundURIKey struct{}

// WithTransport replaces the round tripper used for the origin.
func WithTransport(rt http.RoundTripper) Option {
	return func(i *Interceptor) {
		i.proxy.Transport = rt
		i.client.Transport = rt
	}
}

func New(cfg config.CacheConfig, cache domain.ResponseCache, reporter domain.Reporter, logger *zerolog.Logger, opts ...Option) (*Interceptor, error) {
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", cfg.Upstream, err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream %q must be an absolute URL", cfg.Upstream)
	}
	if reporter == nil {
		reporter = domain.NopReporter{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	namespace := cfg.Name
	if namespace == "" {
		namespace = models.DefaultCacheName
	}
	shell := cfg.ShellPath
	if shell == "" {
		shell = models.DefaultShellPath
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = models.DefaultRemoteTimeout

	i := &Interceptor{
		upstream:  upstream,
		client:    &http.Client{Transport: transport, Timeout: models.DefaultRemoteTimeout},
		cache:     cache,
		namespace: namespace,
		shellPath: shell,
		precache:  cfg.Precache,
		reporter:  reporter,
		logger:    logger,
		now:       time.Now,
	}
	i.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			pr.Out = pr.Out.WithContext(context.WithValue(pr.Out.Context(), inboundURIKey{}, pr.In.URL.RequestURI()))
		},
		Transport:      transport,
		ModifyResponse: i.capture,
		ErrorHandler:   i.fallback,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Namespace is the cache generation this interceptor reads and writes.
func (i *Interceptor) Namespace() string {
	return i.namespace
}

func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	i.proxy.ServeHTTP(w, r)
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// capture stores successful GET responses. The origin answered, so whatever
// status it gave is passed through.
func (i *Interceptor) capture(resp *http.Response) error {
	req := resp.Request
	if !isRead(req.Method) {
		return nil
	}
	metrics.IncCacheLookup(metrics.OutcomeNetwork)

	if req.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheableBytes+1))
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("read upstream body: %w", err)
	}
	if len(body) > maxCacheableBytes {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		i.reporter.Report("cachePut", fmt.Errorf("%s exceeds %d bytes, not cached", req.URL.Path, maxCacheableBytes))
		return nil
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	uri, _ := req.Context().Value(inboundURIKey{}).(string)
	if uri == "" {
		uri = req.URL.RequestURI()
	}
	i.store(req.Context(), uri, resp.StatusCode, resp.Header, body)
	return nil
}

func (i *Interceptor) store(ctx context.Context, uri string, status int, header http.Header, body []byte) {
	entry := &models.CacheEntry{
		Namespace:  i.namespace,
		Key:        models.RequestKey(http.MethodGet, uri),
		Status:     status,
		Header:     header.Clone(),
		Body:       body,
		CapturedAt: i.now().UTC(),
	}
	if err := i.cache.Put(ctx, entry); err != nil {
		i.reporter.Report("cachePut", err)
	}
}

// fallback runs when the origin could not be reached.
func (i *Interceptor) fallback(w http.ResponseWriter, r *http.Request, err error) {
	if !isRead(r.Method) {
		i.reporter.Report("proxy", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "offline"})
		return
	}

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}

	if entry := i.lookup(r.Context(), r.Method, r.URL.RequestURI()); entry != nil {
		metrics.IncCacheLookup(metrics.OutcomeStale)
		i.writeEntry(w, r, entry, "stale")
		return
	}

	if entry := i.lookup(r.Context(), http.MethodGet, i.shellPath); entry != nil {
		metrics.IncCacheLookup(metrics.OutcomeShell)
		i.writeEntry(w, r, entry, "shell")
		return
	}

	metrics.IncCacheLookup(metrics.OutcomeMiss)
	i.logger.Debug().Str("path", r.URL.Path).Msg("nothing cached, serving offline page")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set(HeaderCache, "offline")
	w.WriteHeader(http.StatusServiceUnavailable)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, offlinePage)
	}
}

func (i *Interceptor) lookup(ctx context.Context, method, uri string) *models.CacheEntry {
	entry, err := i.cache.Get(ctx, i.namespace, models.RequestKey(method, uri))
	if err != nil {
		i.reporter.Report("cacheGet", err)
		return nil
	}
	return entry
}

func (i *Interceptor) writeEntry(w http.ResponseWriter, r *http.Request, entry *models.CacheEntry, provenance string) {
	h := w.Header()
	for k, vv := range entry.Header {
		for _, v := range vv {
			h.Add(k, v)
		}
	}
	h.Set(HeaderCache, provenance)
	h.Set(HeaderCapturedAt, entry.CapturedAt.UTC().Format(time.RFC3339))

	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(entry.Body)
	}
}

// Install precaches the shell URLs into the current namespace and returns
// how many were stored. Individual failures are reported and skipped.
func (i *Interceptor) Install(ctx context.Context) int {
	stored := 0
	for _, path := range i.precache {
		if err := i.precacheOne(ctx, path); err != nil {
			i.reporter.Report("install", fmt.Errorf("%s: %w", path, err))
			continue
		}
		stored++
	}
	i.logger.Info().Int("stored", stored).Int("total", len(i.precache)).Str("namespace", i.namespace).Msg("cache installed")
	return stored
}

func (i *Interceptor) precacheOne(ctx context.Context, path string) error {
	ref, err := url.Parse(path)
	if err != nil {
		return err
	}
	target := i.upstream.JoinPath(ref.Path)
	target.RawQuery = ref.RawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheableBytes))
	if err != nil {
		return err
	}
	i.store(ctx, ref.RequestURI(), resp.StatusCode, resp.Header, body)
	return nil
}

// Activate drops every cache namespace except the current one.
func (i *Interceptor) Activate(ctx context.Context) error {
	names, err := i.cache.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("list cache namespaces: %w", err)
	}
	for _, ns := range names {
		if ns == i.namespace {
			continue
		}
		if err := i.cache.DropNamespace(ctx, ns); err != nil {
			i.reporter.Report("activate", err)
			continue
		}
		i.logger.Info().Str("namespace", ns).Msg("stale cache namespace deleted")
	}
	return nil
}
