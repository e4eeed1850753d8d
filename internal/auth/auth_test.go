package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestIssueAndParse(t *testing.T) {
	a := New("test-secret")
	id := uuid.New()

	tok, err := a.IssueToken(id, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	got, err := a.ParseToken(tok)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if got != id {
		t.Errorf("subject = %s, want %s", got, id)
	}
}

func TestParseRejects(t *testing.T) {
	a := New("test-secret")
	id := uuid.New()

	expired, _ := a.IssueToken(id, -time.Minute)
	foreign, _ := New("other-secret").IssueToken(id, time.Hour)
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: id.String()}).SignedString([]byte("test-secret"))
	badSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: id.String()}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"expired":        expired,
		"wrong secret":   foreign,
		"no expiry":      noExp,
		"non-uuid sub":   badSub,
		"none algorithm": unsigned,
		"garbage":        "abc.def.ghi",
	} {
		if _, err := a.ParseToken(tok); err == nil {
			t.Errorf("%s: token accepted", name)
		}
	}
}

func TestMiddleware(t *testing.T) {
	a := New("test-secret")
	id := uuid.New()
	tok, _ := a.IssueToken(id, time.Hour)

	var seen uuid.UUID
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AccountID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + tok, http.StatusNoContent},
		{"lowercase scheme", "bearer " + tok, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"tampered", "Bearer " + tok + "x", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = uuid.Nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && seen != id {
				t.Errorf("account in context = %s, want %s", seen, id)
			}
		})
	}
}

func TestAccountIDMissing(t *testing.T) {
	if _, ok := AccountID(httptest.NewRequest(http.MethodGet, "/", nil).Context()); ok {
		t.Error("expected no account on a bare context")
	}
}
