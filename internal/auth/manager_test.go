package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("test-secret")
	token, err := m.GenerateToken(Principal{UserID: "u-1", CompanyID: "c-1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	p, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if p.UserID != "u-1" || p.CompanyID != "c-1" || p.Role != RoleAdmin {
		t.Errorf("ValidateToken() = %+v", p)
	}
}

func TestGenerateToken_RejectsBadPrincipals(t *testing.T) {
	m := NewManager("test-secret")
	tests := []Principal{
		{CompanyID: "c-1", Role: RoleOwner},
		{UserID: "u-1", Role: RoleOwner},
		{UserID: "u-1", CompanyID: "c-1", Role: "ceo"},
	}
	for _, p := range tests {
		if _, err := m.GenerateToken(p); err == nil {
			t.Errorf("GenerateToken(%+v) succeeded, want error", p)
		}
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	m := NewManager("test-secret")
	other := NewManager("other-secret")
	foreign, _ := other.GenerateToken(Principal{UserID: "u-1", CompanyID: "c-1", Role: RoleOwner})

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u-1", CompanyID: "c-1", Role: RoleOwner,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "axis",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("test-secret"))

	noCompany, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u-1", Role: RoleOwner,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "axis",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))

	tests := map[string]string{
		"garbage":        "not-a-token",
		"wrong secret":   foreign,
		"expired":        expired,
		"missing claims": noCompany,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := m.ValidateToken(token); !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("ValidateToken() error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	m := NewManager("test-secret")
	token, _ := m.GenerateToken(Principal{UserID: "u-1", CompanyID: "c-1", Role: RoleMember})

	r := httptest.NewRequest("GET", "/api/v1/tasks/t-1", nil)
	if _, err := m.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Authenticate() without header error = %v", err)
	}

	r.Header.Set("Authorization", "Bearer "+token)
	p, err := m.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	ctx := WithPrincipal(context.Background(), p)
	if FromContext(ctx) != p {
		t.Error("FromContext() did not return the stored principal")
	}
	if FromContext(context.Background()) != nil {
		t.Error("FromContext() on empty context should be nil")
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		p       *Principal
		company string
		review  bool
		want    error
	}{
		{"member reads", &Principal{CompanyID: "c-1", Role: RoleMember}, "c-1", false, nil},
		{"member reviews", &Principal{CompanyID: "c-1", Role: RoleMember}, "c-1", true, ErrForbidden},
		{"admin reviews", &Principal{CompanyID: "c-1", Role: RoleAdmin}, "c-1", true, nil},
		{"owner other company", &Principal{CompanyID: "c-1", Role: RoleOwner}, "c-2", false, ErrForbidden},
		{"anonymous", nil, "c-1", false, ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Authorize(tt.company, tt.review)
			if tt.want == nil {
				if err != nil {
					t.Errorf("Authorize() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Authorize() error = %v, want %v", err, tt.want)
			}
		})
	}
}
