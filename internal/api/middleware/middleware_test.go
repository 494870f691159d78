package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/llm-gateway/internal/api/middleware"
	"github.com/Rrens/llm-gateway/internal/audit"
	"github.com/Rrens/llm-gateway/internal/security"
)

func echoClientIP(w http.ResponseWriter, r *http.Request) {
	ip, _ := middleware.GetClientIP(r.Context())
	w.Write([]byte(ip))
}

func TestAuthenticate(t *testing.T) {
	allow := security.ParseAllowList([]string{"10.0.0.0/8"})

	tests := []struct {
		name       string
		remoteAddr string
		header     string
		wantStatus int
		wantDetail string
		wantFact   string
	}{
		{"valid key", "10.1.2.3:4000", "Bearer s3cret", http.StatusOK, "", audit.StatusAuthOK},
		{"lowercase scheme", "10.1.2.3:4000", "bearer s3cret", http.StatusOK, "", audit.StatusAuthOK},
		{"wrong key", "10.1.2.3:4000", "Bearer nope", http.StatusUnauthorized, "Invalid API key", audit.StatusAuthFailed},
		{"missing header", "10.1.2.3:4000", "", http.StatusUnauthorized, "Invalid API key", audit.StatusAuthFailed},
		{"wrong scheme", "10.1.2.3:4000", "Basic s3cret", http.StatusUnauthorized, "Invalid API key", audit.StatusAuthFailed},
		{"blocked origin with valid key", "192.0.2.1:4000", "Bearer s3cret", http.StatusForbidden, "IP not allowed", audit.StatusIPBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			guard := security.NewGuard("s3cret", allow, audit.NewSink(&buf, true))
			h := middleware.NewAuthMiddleware(guard).Authenticate(http.HandlerFunc(echoClientIP))

			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantDetail != "" {
				var body map[string]any
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.wantDetail, body["detail"])
			} else {
				assert.Equal(t, "10.1.2.3", rec.Body.String())
			}

			var fact map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &fact))
			assert.Equal(t, tt.wantFact, fact["status"])
			assert.Equal(t, "/v1/models", fact["endpoint"])
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.9:1234", "203.0.113.9"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.9", "203.0.113.9"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		assert.Equal(t, tt.want, middleware.ClientIP(req))
	}
}

type fakeLimiter struct {
	allowed   bool
	remaining int
	err       error
	keys      []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (bool, int, time.Time, error) {
	f.keys = append(f.keys, key)
	return f.allowed, f.remaining, time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), f.err
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("within limit", func(t *testing.T) {
		limiter := &fakeLimiter{allowed: true, remaining: 12}
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		req.RemoteAddr = "198.51.100.4:80"
		rec := httptest.NewRecorder()

		middleware.NewRateLimitMiddleware(limiter).Limit(ok).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "12", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "2024-01-01T00:01:00Z", rec.Header().Get("X-RateLimit-Reset"))
		assert.Equal(t, []string{"198.51.100.4|chat"}, limiter.keys)
	})

	t.Run("exceeded", func(t *testing.T) {
		limiter := &fakeLimiter{allowed: false}
		rec := httptest.NewRecorder()

		middleware.NewRateLimitMiddleware(limiter).Limit(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("limiter failure lets the request through", func(t *testing.T) {
		limiter := &fakeLimiter{err: errors.New("redis down")}
		rec := httptest.NewRecorder()

		middleware.NewRateLimitMiddleware(limiter).Limit(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining"))
	})
}

func TestRateLimit_KeyedByCallerAndEndpointGroup(t *testing.T) {
	limiter := &fakeLimiter{allowed: true}
	h := middleware.NewRateLimitMiddleware(limiter).Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	paths := []struct {
		remoteAddr string
		path       string
	}{
		{"198.51.100.4:80", "/v1/chat/completions"},
		{"198.51.100.4:80", "/v1/sessions/abc/messages"},
		{"198.51.100.4:80", "/v1/sessions"},
		{"198.51.100.4:80", "/v1/models"},
		{"203.0.113.7:80", "/v1/chat/completions"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(http.MethodGet, p.path, nil)
		req.RemoteAddr = p.remoteAddr
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, []string{
		"198.51.100.4|chat",
		"198.51.100.4|sessions",
		"198.51.100.4|sessions",
		"198.51.100.4|models",
		"203.0.113.7|chat",
	}, limiter.keys)
}

func TestLogger_PassesThrough(t *testing.T) {
	h := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pot", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
