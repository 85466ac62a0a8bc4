package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/DukeRupert/sitegate/internal/auth"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

// clientEcho writes the authenticated client name, or "anonymous".
var clientEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if c := auth.GetClientFromRequest(r); c != nil {
		_, _ = w.Write([]byte(c.Name))
		return
	}
	_, _ = w.Write([]byte("anonymous"))
})

// =============================================================================
// ParseAPIKeys Tests
// =============================================================================

func TestParseAPIKeys(t *testing.T) {
	mobile := mustHash(t, "mobile-secret")
	scanner := mustHash(t, "scanner-secret")

	keys, err := ParseAPIKeys(" mobile:" + mobile + ", scanner:" + scanner + ",")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0].Name != "mobile" || keys[1].Name != "scanner" {
		t.Errorf("unexpected names: %q, %q", keys[0].Name, keys[1].Name)
	}

	keys, err = ParseAPIKeys("")
	if err != nil || len(keys) != 0 {
		t.Errorf("empty list should parse to no keys, got %v, %v", keys, err)
	}
}

func TestParseAPIKeys_Malformed(t *testing.T) {
	for _, raw := range []string{
		"no-separator",
		":$2a$04$abc",
		"name:",
		"name:not-a-bcrypt-hash",
	} {
		if _, err := ParseAPIKeys(raw); err == nil {
			t.Errorf("ParseAPIKeys(%q) should fail", raw)
		}
	}
}

// =============================================================================
// APIKeyMiddleware Tests
// =============================================================================

func TestAPIKeyMiddleware_ValidKey_SetsClient(t *testing.T) {
	mw := NewAPIKeyMiddleware([]APIKey{
		{Name: "mobile", Hash: []byte(mustHash(t, "mobile-secret"))},
		{Name: "scanner", Hash: []byte(mustHash(t, "scanner-secret"))},
	}, newTestLogger())

	req := httptest.NewRequest("POST", "/v1/access-check", nil)
	req.Header.Set("Authorization", "Bearer scanner-secret")
	rec := httptest.NewRecorder()

	mw.RequireClient(clientEcho).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "scanner" {
		t.Errorf("expected client scanner, got %q", rec.Body.String())
	}
}

func TestAPIKeyMiddleware_CachesVerifiedKeys(t *testing.T) {
	mw := NewAPIKeyMiddleware([]APIKey{{Name: "mobile", Hash: []byte(mustHash(t, "mobile-secret"))}}, newTestLogger())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/v1/tiers", nil)
		req.Header.Set("Authorization", "bearer mobile-secret")
		rec := httptest.NewRecorder()
		mw.RequireClient(clientEcho).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	if len(mw.verified) != 1 {
		t.Errorf("expected one cached key, got %d", len(mw.verified))
	}
}

func TestAPIKeyMiddleware_Rejects(t *testing.T) {
	mw := NewAPIKeyMiddleware([]APIKey{{Name: "mobile", Hash: []byte(mustHash(t, "mobile-secret"))}}, newTestLogger())

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong key", "Bearer guess"},
		{"basic scheme", "Basic bW9iaWxlLXNlY3JldA=="},
		{"empty bearer", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

			req := httptest.NewRequest("POST", "/v1/access-check", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			mw.RequireClient(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			if called {
				t.Error("handler should not be called")
			}
			if !strings.Contains(rec.Body.String(), `"unauthorized"`) {
				t.Errorf("expected JSON error envelope, got %s", rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "guess") {
				t.Error("response must not echo the presented key")
			}
		})
	}
}

func TestAPIKeyMiddleware_DisabledWithoutKeys(t *testing.T) {
	mw := NewAPIKeyMiddleware(nil, newTestLogger())

	req := httptest.NewRequest("GET", "/v1/tiers", nil)
	rec := httptest.NewRecorder()
	mw.RequireClient(clientEcho).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "anonymous" {
		t.Errorf("expected anonymous, got %q", rec.Body.String())
	}
}

// =============================================================================
// Stack Tests
// =============================================================================

func TestStack_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("outer"), mark("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if strings.Join(order, ",") != "outer,inner,handler" {
		t.Errorf("unexpected order: %v", order)
	}
}
