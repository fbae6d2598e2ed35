package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capactiyvirus/cafe-checkout/store"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
	}{
		{"wildcard echoes origin", []string{"*"}, "https://cafe.example", http.MethodGet, "https://cafe.example"},
		{"listed origin", []string{"https://cafe.example"}, "https://cafe.example", http.MethodGet, "https://cafe.example"},
		{"unlisted origin", []string{"https://cafe.example"}, "https://evil.example", http.MethodGet, ""},
		{"preflight", []string{"*"}, "https://cafe.example", http.MethodOptions, "https://cafe.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			h := CORS(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(tt.method, "/api/payment/config", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
			assert.Equal(t, tt.method != http.MethodOptions, called)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	Security(false)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Empty(t, rr.Header().Get("Strict-Transport-Security"))

	rr = httptest.NewRecorder()
	Security(true)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rr.Header().Get("Strict-Transport-Security"))
}

func TestIdempotencyReplaysStoredReply(t *testing.T) {
	var calls int32
	h := Idempotency(store.NewMemoryIdempotencyCache())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true}`))
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/confirm", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyHeader, "confirm-pi_1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
}

func TestIdempotencyDoesNotCacheServerErrors(t *testing.T) {
	var calls int32
	h := Idempotency(store.NewMemoryIdempotencyCache())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/confirm", nil)
		req.Header.Set(IdempotencyHeader, "confirm-pi_1")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	cache := store.NewMemoryIdempotencyCache()
	ok, err := cache.Acquire(t.Context(), "/api/payment/confirm:confirm-pi_1", inFlightTTL)
	require.NoError(t, err)
	require.True(t, ok)

	h := Idempotency(cache)(okHandler)
	req := httptest.NewRequest(http.MethodPost, "/api/payment/confirm", nil)
	req.Header.Set(IdempotencyHeader, "confirm-pi_1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestIdempotencyIgnoresRequestsWithoutKey(t *testing.T) {
	var calls int32
	h := Idempotency(store.NewMemoryIdempotencyCache())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/payment/confirm", nil))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNewRelicDisabledPassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRelic(nil)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	app, err := NewRelicApp("cafe-checkout", "")
	require.NoError(t, err)
	assert.Nil(t, app)
}
