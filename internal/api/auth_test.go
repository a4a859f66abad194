package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"mozzafiato/internal/config"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func authConfig() config.APIConfig {
	return config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "valid-key", Name: "tablet", Permissions: []string{permReadHealth, permWriteRecords}},
				{Key: "admin-key", Name: "admin"},
			},
		},
		RateLimit: config.APIRateLimitConfig{
			RPS:   100,
			Burst: 200,
		},
	}
}

func TestAuthInterceptor(t *testing.T) {
	cfg := authConfig()
	interceptor := NewAuthInterceptor(cfg).Unary()

	handler := func(_ context.Context, req any) (any, error) {
		return "ok", nil
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	t.Run("Success", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "valid-key"))
		resp, err := interceptor(ctx, "req", info, handler)
		assert.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), "req", info, handler)
		assert.Error(t, err)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidKey", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "invalid"))
		_, err := interceptor(ctx, "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		restricted := cfg
		restricted.Auth.APIKeys = []config.APIClientKey{{Key: "writer", Permissions: []string{permWriteRecords}}}
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "writer"))
		_, err := NewAuthInterceptor(restricted).Unary()(ctx, "req", info, handler)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})
}

func TestAuthInterceptor_RateLimit(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{Enabled: false},
		RateLimit: config.APIRateLimitConfig{
			RPS:   1,
			Burst: 1,
		},
	}

	interceptor := NewAuthInterceptor(cfg).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: "test"}
	handler := func(_ context.Context, req any) (any, error) { return "ok", nil }

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "key1"))

	// First request - ok
	_, err := interceptor(ctx, "req", info, handler)
	assert.NoError(t, err)

	// Second request - blocked
	_, err = interceptor(ctx, "req", info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// Other clients have their own bucket
	other := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "key2"))
	_, err = interceptor(other, "req", info, handler)
	assert.NoError(t, err)
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	interceptor := LoggingUnaryInterceptor(nil)
	handler := func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "test"}

	resp, err := interceptor(context.Background(), "req", info, handler)
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestRequiredPermission(t *testing.T) {
	assert.Equal(t, permReadHealth, requiredPermission("/grpc.health.v1.Health/Check"))
	assert.Equal(t, permReadHealth, requiredPermission("/grpc.health.v1.Health/Watch"))
	assert.Equal(t, "", requiredPermission("other"))
}

func TestRequiredPermissionHTTP(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodPost, "/api/v1/records/production", permWriteRecords},
		{http.MethodGet, "/api/v1/records/sales", permReadRecords},
		{http.MethodPost, "/api/v1/sync", permSync},
		{http.MethodGet, "/api/v1/inventory", permReadCache},
		{http.MethodGet, "/index.html", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, requiredPermissionHTTP(r), tt.path)
	}
}

func TestHTTPAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := NewHTTPAuth(authConfig()).Wrap(ok)

	do := func(method, path, key string) int {
		r := httptest.NewRequest(method, path, nil)
		if key != "" {
			r.Header.Set("X-Api-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do(http.MethodGet, "/index.html", ""), "front-end paths are public")
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/status", ""))
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/status", "nope"))
	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/api/v1/status", "valid-key"))
	assert.Equal(t, http.StatusNoContent, do(http.MethodPost, "/api/v1/records/production", "valid-key"))
	assert.Equal(t, http.StatusNoContent, do(http.MethodGet, "/api/v1/status", "admin-key"))
}

func TestHTTPAuthRateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 1}}
	h := NewHTTPAuth(cfg).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
