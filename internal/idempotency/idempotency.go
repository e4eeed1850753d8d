// Package idempotency replays the stored response of a mutating request when
// a client retries it with the same Idempotency-Key.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/punchamoorthee/walletops/internal/auth"
)

const (
	Header = "Idempotency-Key"

	// CacheTTL is how long a completed response is replayable.
	CacheTTL = 24 * time.Hour
	// LockTimeout releases the key if the holder crashes mid-request.
	LockTimeout = 10 * time.Second

	keyPrefix  = "idempotency:"
	lockPrefix = "lock:"

	maxBody = 1 << 20
)

// Client is the subset of *redis.Client the middleware needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ Client = (*redis.Client)(nil)

// record is what gets cached for a completed request.
type record struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware caches 2xx responses per account and key. A retry with the same
// key and body gets the cached response; the same key with a different body is
// rejected with 422; a retry while the first attempt is in flight gets 409.
// Requests without the header, and reads, pass straight through.
func Middleware(rdb Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" || safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))
			reqHash := hex.EncodeToString(sum[:])

			scope := "anonymous"
			if account, ok := auth.AccountID(ctx); ok {
				scope = account.String()
			}
			cacheKey := keyPrefix + scope + ":" + key
			lockKey := lockPrefix + scope + ":" + key

			cached, err := rdb.Get(ctx, cacheKey).Bytes()
			switch {
			case err == nil:
				var rec record
				if jerr := json.Unmarshal(cached, &rec); jerr == nil {
					if rec.RequestHash != reqHash {
						writeError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request")
						return
					}
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotency-Hit", "true")
					w.WriteHeader(rec.Status)
					w.Write(rec.Body)
					return
				}
				log.Printf("[idempotency] discarding unreadable cache entry for %s", key)
			case err != redis.Nil:
				log.Printf("[idempotency] cache lookup failed: %v", err)
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}

			acquired, err := rdb.SetNX(ctx, lockKey, reqHash, LockTimeout).Result()
			if err != nil {
				log.Printf("[idempotency] lock acquisition failed: %v", err)
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}
			if !acquired {
				writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
				return
			}
			// Cleanup must outlive a client that hung up.
			bg := context.WithoutCancel(ctx)
			defer func() {
				if err := rdb.Del(bg, lockKey).Err(); err != nil {
					log.Printf("[idempotency] failed to release lock: %v", err)
				}
			}()

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 200 || rec.statusCode >= 300 {
				return
			}
			payload, err := json.Marshal(record{RequestHash: reqHash, Status: rec.statusCode, Body: rec.body.Bytes()})
			if err != nil {
				return
			}
			if err := rdb.Set(bg, cacheKey, payload, CacheTTL).Err(); err != nil {
				log.Printf("[idempotency] failed to cache response for %s: %v", key, err)
			}
		})
	}
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
