package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/facturaIA/nfse-chat-service/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNoClaims           = errors.New("no claims in context")
	ErrPhoneNotAllowed    = errors.New("phone not allowed for tenant")
	ErrNoSecret           = errors.New("jwt secret not configured")
)

type contextKey struct{}

// Claims identify the gateway client calling the API
type Claims struct {
	ClientID string `json:"client_id"`
	Tenant   string `json:"tenant"`
	jwt.RegisteredClaims
}

// Authenticator issues and checks gateway tokens
type Authenticator struct {
	secret  []byte
	ttl     time.Duration
	clients map[string]models.GatewayClient
	now     func() time.Time
}

// NewAuthenticator builds an authenticator from config
func NewAuthenticator(cfg models.AuthConfig) (*Authenticator, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	clients := make(map[string]models.GatewayClient, len(cfg.Clients))
	for _, c := range cfg.Clients {
		clients[c.ID] = c
	}
	return &Authenticator{
		secret:  []byte(cfg.JWTSecret),
		ttl:     ttl,
		clients: clients,
		now:     time.Now,
	}, nil
}

// GenerateToken signs an HS256 token for a configured client
func (a *Authenticator) GenerateToken(clientID string) (string, time.Time, error) {
	client, ok := a.clients[clientID]
	if !ok {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		ClientID: client.ID,
		Tenant:   client.Tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client.ID,
			Issuer:    "nfse-chat-service",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken validates signature, algorithm and expiry
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, ok := a.clients[claims.ClientID]; !ok {
		return nil, fmt.Errorf("%w: unknown client %q", ErrInvalidToken, claims.ClientID)
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := a.ParseToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the claims stored by Middleware
func ClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}

// Authorize checks that the client may talk on behalf of phone
func (a *Authenticator) Authorize(claims *Claims, phone string) error {
	client, ok := a.clients[claims.ClientID]
	if !ok || client.Tenant != claims.Tenant {
		return ErrInvalidToken
	}
	if len(client.Phones) == 0 {
		return nil
	}

	want := NormalizePhone(phone)
	for _, p := range client.Phones {
		if NormalizePhone(p) == want {
			return nil
		}
	}
	return ErrPhoneNotAllowed
}

// NormalizePhone keeps only the digits of a phone number
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
