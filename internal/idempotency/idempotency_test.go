package idempotency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// fakeRedis is an in-process stand-in for the handful of commands used.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	GetFunc func(key string) (string, error)
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.GetFunc != nil {
		return redis.NewStringResult(f.GetFunc(key))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = toString(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = toString(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	}
	return ""
}

func post(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(body))
	if key != "" {
		req.Header.Set(Header, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReplaysCompletedResponse(t *testing.T) {
	calls := 0
	h := Middleware(newFakeRedis())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"tx-1"}`))
	}))

	first := post(h, "k1", `{"amount":"10"}`)
	second := post(h, "k1", `{"amount":"10"}`)

	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %q, want %d %q", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get("X-Idempotency-Hit") != "true" {
		t.Error("replay not marked")
	}
}

func TestRejectsKeyReuseWithDifferentBody(t *testing.T) {
	h := Middleware(newFakeRedis())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	post(h, "k1", `{"amount":"10"}`)
	if rec := post(h, "k1", `{"amount":"99"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestDoesNotCacheFailures(t *testing.T) {
	calls := 0
	h := Middleware(newFakeRedis())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	post(h, "k1", `{}`)
	post(h, "k1", `{}`)
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}

func TestConcurrentDuplicateGetsConflict(t *testing.T) {
	rdb := newFakeRedis()
	started := make(chan struct{})
	release := make(chan struct{})
	h := Middleware(rdb)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusCreated)
	}))

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- post(h, "k1", `{}`) }()
	<-started

	if rec := post(h, "k1", `{}`); rec.Code != http.StatusConflict {
		t.Errorf("in-flight duplicate status = %d, want 409", rec.Code)
	}
	close(release)
	if rec := <-done; rec.Code != http.StatusCreated {
		t.Errorf("first request status = %d", rec.Code)
	}
}

func TestPassThroughWithoutKey(t *testing.T) {
	calls := 0
	h := Middleware(newFakeRedis())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	post(h, "", `{}`)
	post(h, "", `{}`)
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}

func TestReadsBypassCache(t *testing.T) {
	rdb := newFakeRedis()
	calls := 0
	h := Middleware(rdb)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
		req.Header.Set(Header, "k1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Header().Get("X-Idempotency-Hit") != "" {
			t.Fatalf("GET %d served from cache", i)
		}
	}
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
	if len(rdb.data) != 0 {
		t.Errorf("reads left keys behind: %v", rdb.data)
	}
}

func TestRedisOutage(t *testing.T) {
	rdb := newFakeRedis()
	rdb.GetFunc = func(string) (string, error) { return "", errors.New("dial tcp: connection refused") }
	h := Middleware(rdb)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without the idempotency store")
	}))
	if rec := post(h, "k1", `{}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
