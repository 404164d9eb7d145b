// Package auth issues and verifies the bearer tokens of the HTTP API.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated means no valid token was presented
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the token is valid but lacks the required role or company
	ErrForbidden = errors.New("forbidden")
)

// Role is the caller's company role
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// CanReview reports whether r may approve, deny and resolve
func (r Role) CanReview() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Claims is the JWT payload
type Claims struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller of one request
type Principal struct {
	UserID    string
	CompanyID string
	Role      Role
}

// Authorize checks that p belongs to companyID and, when review is set, may review
func (p *Principal) Authorize(companyID string, review bool) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if companyID != "" && p.CompanyID != companyID {
		return fmt.Errorf("%w: company %s", ErrForbidden, companyID)
	}
	if review && !p.Role.CanReview() {
		return fmt.Errorf("%w: role %s cannot review", ErrForbidden, p.Role)
	}
	return nil
}

// Manager signs and validates HS256 tokens
type Manager struct {
	secret   []byte
	tokenTTL time.Duration
	issuer   string
}

// NewManager creates a manager. An empty secret gets a random one, so tokens
// do not survive a restart.
func NewManager(secret string) *Manager {
	if secret == "" {
		secret = randomSecret(32)
	}
	return &Manager{secret: []byte(secret), tokenTTL: 24 * time.Hour, issuer: "axis"}
}

// GenerateToken signs a token for p
func (m *Manager) GenerateToken(p Principal) (string, error) {
	if p.UserID == "" || p.CompanyID == "" {
		return "", fmt.Errorf("user_id and company_id are required")
	}
	if !p.Role.Valid() {
		return "", fmt.Errorf("unknown role: %s", p.Role)
	}
	now := time.Now()
	claims := &Claims{
		UserID:    p.UserID,
		CompanyID: p.CompanyID,
		Role:      p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   p.UserID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken parses a token and returns its principal
func (m *Manager) ValidateToken(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.UserID == "" || claims.CompanyID == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", ErrUnauthenticated)
	}
	return &Principal{UserID: claims.UserID, CompanyID: claims.CompanyID, Role: claims.Role}, nil
}

// Authenticate reads the bearer token of r
func (m *Manager) Authenticate(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	return m.ValidateToken(strings.TrimSpace(token))
}

type contextKey struct{}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}

func randomSecret(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", b)
}
