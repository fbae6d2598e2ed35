// middleware/idempotency.go
package middleware

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/capactiyvirus/cafe-checkout/store"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	inFlightTTL       = time.Minute
)

// responseRecorder captures the reply so it can be replayed later.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   *bytes.Buffer
}

func (w *responseRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored reply for a POST that repeats an
// Idempotency-Key, and answers 409 while the first request is still running.
// Requests without the header pass through untouched. Server errors are not
// cached so the caller may retry them.
func Idempotency(cache store.IdempotencyCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if cache == nil || key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			scoped := r.URL.Path + ":" + key

			cached, err := cache.Get(ctx, scoped)
			if err != nil {
				// Cache unavailable - proceed without idempotency.
				log.Printf("Idempotency cache read failed for %s: %v", r.URL.Path, err)
				next.ServeHTTP(w, r)
				return
			}
			if cached != nil {
				for k, v := range cached.Headers {
					for _, val := range v {
						w.Header().Add(k, val)
					}
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(cached.StatusCode)
				w.Write(cached.Body)
				return
			}

			acquired, err := cache.Acquire(ctx, scoped, inFlightTTL)
			if err == nil && !acquired {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "A request with this Idempotency-Key is already in progress",
					"kind":  "conflict",
				})
				return
			}
			if acquired {
				defer cache.Release(ctx, scoped)
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 500 {
				resp := &store.CachedResponse{
					StatusCode: rec.status,
					Body:       rec.body.Bytes(),
				}
				if err := cache.Set(ctx, scoped, resp, idempotencyTTL); err != nil {
					log.Printf("Idempotency cache write failed for %s: %v", r.URL.Path, err)
				}
			}
		})
	}
}
