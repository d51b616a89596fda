package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newProvider(t *testing.T, cfg Config) *JWTProvider {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	p, err := NewJWTProvider(cfg)
	if err != nil {
		t.Fatalf("NewJWTProvider() error: %v", err)
	}
	return p
}

func TestNewJWTProvider_ShortSecret(t *testing.T) {
	if _, err := NewJWTProvider(Config{Secret: "short"}); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestVerify(t *testing.T) {
	p := newProvider(t, Config{Issuer: "tweetpilot", Audience: "dashboard"})
	now := time.Now()

	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("signing failed: %v", err)
		}
		return s
	}
	valid := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "tweetpilot",
		Audience:  jwt.ClaimStrings{"dashboard"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	tests := []struct {
		name    string
		token   string
		wantSub string
		wantErr bool
	}{
		{
			name:    "valid",
			token:   sign(jwt.SigningMethodHS256, []byte(testSecret), valid),
			wantSub: "user-1",
		},
		{
			name: "expired",
			token: sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Subject: "user-1", Issuer: "tweetpilot", Audience: jwt.ClaimStrings{"dashboard"},
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			}),
			wantErr: true,
		},
		{
			name: "expired within leeway",
			token: sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Subject: "user-1", Issuer: "tweetpilot", Audience: jwt.ClaimStrings{"dashboard"},
				ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)),
			}),
			wantSub: "user-1",
		},
		{
			name: "missing expiry",
			token: sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Subject: "user-1", Issuer: "tweetpilot", Audience: jwt.ClaimStrings{"dashboard"},
			}),
			wantErr: true,
		},
		{
			name: "missing subject",
			token: sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Issuer: "tweetpilot", Audience: jwt.ClaimStrings{"dashboard"},
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			wantErr: true,
		},
		{
			name: "wrong issuer",
			token: sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Subject: "user-1", Issuer: "someone-else", Audience: jwt.ClaimStrings{"dashboard"},
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			wantErr: true,
		},
		{
			name: "wrong audience",
			token: sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Subject: "user-1", Issuer: "tweetpilot", Audience: jwt.ClaimStrings{"other"},
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			wantErr: true,
		},
		{
			name:    "wrong secret",
			token:   sign(jwt.SigningMethodHS256, []byte("ffffffffffffffffffffffffffffffff"), valid),
			wantErr: true,
		},
		{
			name:    "wrong algorithm",
			token:   sign(jwt.SigningMethodHS512, []byte(testSecret), valid),
			wantErr: true,
		},
		{
			name:    "unsigned",
			token:   sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := p.Verify(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("expected ErrInvalidToken, got sub=%q err=%v", sub, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sub != tt.wantSub {
				t.Errorf("expected subject %q, got %q", tt.wantSub, sub)
			}
		})
	}
}

func TestIssueToken_RoundTrip(t *testing.T) {
	p := newProvider(t, Config{Issuer: "tweetpilot"})

	token, err := IssueToken(testSecret, "user-42", "tweetpilot", "", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	sub, err := p.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if sub != "user-42" {
		t.Errorf("expected user-42, got %q", sub)
	}
}

func TestIssueToken_Validation(t *testing.T) {
	if _, err := IssueToken("short", "u", "", "", time.Hour); err == nil {
		t.Error("expected error for short secret")
	}
	if _, err := IssueToken(testSecret, "", "", "", time.Hour); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := IssueToken(testSecret, "u", "", "", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestUserID_Sources(t *testing.T) {
	p := newProvider(t, Config{})
	token, err := IssueToken(testSecret, "user-7", "", "", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		wantOK bool
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, true},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, true},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token}) }, true},
		{"other cookie name", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: token}) }, false},
		{"basic auth", func(r *http.Request) { r.SetBasicAuth("user", "pass") }, false},
		{"nothing", func(*http.Request) {}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/profile", http.NoBody)
			tt.setup(r)
			id, ok := p.UserID(r)
			if ok != tt.wantOK {
				t.Fatalf("UserID() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && id != "user-7" {
				t.Errorf("expected user-7, got %q", id)
			}
		})
	}
}

type staticProvider struct {
	id string
}

func (s staticProvider) UserID(*http.Request) (string, bool) {
	return s.id, s.id != ""
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(staticProvider{id: "user-1"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if seen != "user-1" {
		t.Errorf("expected user id in context, got %q", seen)
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	called := false
	h := Middleware(staticProvider{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if called {
		t.Error("handler must not run for unauthenticated requests")
	}
	if !strings.Contains(rec.Body.String(), `"error":"unauthorized"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		wantCode int
	}{
		{"admin", "root", http.StatusOK},
		{"regular user", "user-1", http.StatusForbidden},
		{"anonymous", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAdmin([]string{"root"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			r := httptest.NewRequest(http.MethodGet, "/api/admin/cache", http.NoBody)
			if tt.user != "" {
				r = r.WithContext(WithUserID(r.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}
