// Package auth authenticates dashboard requests with signed session tokens.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Defaults.
const (
	DefaultCookieName = "tp_session"
	clockLeeway       = 30 * time.Second
	minSecretLength   = 32
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("auth: invalid session token")

// Provider resolves the authenticated user of a request.
type Provider interface {
	UserID(r *http.Request) (string, bool)
}

// Config configures a JWTProvider.
type Config struct {
	Secret   string
	Issuer   string // optional; enforced when set
	Audience string // optional; enforced when set
	Cookie   string
}

// JWTProvider verifies HS256 session tokens from the Authorization header or a cookie.
type JWTProvider struct {
	parser *jwt.Parser
	secret []byte
	cookie string
}

// NewJWTProvider creates a provider. The secret must be at least 32 bytes.
func NewJWTProvider(cfg Config) (*JWTProvider, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	if cfg.Cookie == "" {
		cfg.Cookie = DefaultCookieName
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTProvider{
		parser: jwt.NewParser(opts...),
		secret: []byte(cfg.Secret),
		cookie: cfg.Cookie,
	}, nil
}

// Verify parses a token and returns its subject.
func (p *JWTProvider) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := p.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// UserID implements Provider.
func (p *JWTProvider) UserID(r *http.Request) (string, bool) {
	raw := bearerToken(r)
	if raw == "" {
		if c, err := r.Cookie(p.cookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return "", false
	}

	sub, err := p.Verify(raw)
	if err != nil {
		slog.Debug("Rejected session token", "component", "auth", "error", err)
		return "", false
	}
	return sub, true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// IssueToken mints an HS256 session token for subject.
func IssueToken(secret, subject, issuer, audience string, ttl time.Duration) (string, error) {
	if len(secret) < minSecretLength {
		return "", fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type ctxKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// UserID returns the authenticated user id stored by Middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Middleware rejects requests without a valid session and stores the user id in the context.
func Middleware(p Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := p.UserID(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// RequireAdmin allows only the listed user ids. It must run after Middleware.
func RequireAdmin(admins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := UserID(r.Context())
			if id == "" || !slices.Contains(admins, id) {
				slog.Warn("Admin route denied", "component", "auth", "user", id, "path", r.URL.Path)
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": code, "code": code}); err != nil {
		slog.Debug("Failed to write auth error", "component", "auth", "error", err)
	}
}
