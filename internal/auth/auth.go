package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "crm-automation-api"

// DefaultTTL is the lifetime of user session tokens.
const DefaultTTL = 7 * 24 * time.Hour

// ServiceTTL is the lifetime of tokens minted for background dispatches.
const ServiceTTL = 5 * time.Minute

// Claims is de payload van een sessie-token.
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Role     Role      `json:"role"`
	jwt.RegisteredClaims
}

// Principal returns the tenant member the token was issued for.
func (c *Claims) Principal() Member {
	return Member{UserID: c.UserID, TenantID: c.TenantID, Role: c.Role}
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	key []byte
	now func() time.Time
}

// NewIssuer creates an Issuer for JWT_SECRET_KEY.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("JWT_SECRET_KEY is niet ingesteld")
	}
	return &Issuer{key: []byte(secret), now: time.Now}, nil
}

// Issue creert een nieuw JWT token voor een tenant member.
func (i *Issuer) Issue(member Member, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		UserID:   member.UserID,
		TenantID: member.TenantID,
		Role:     member.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("kon token niet ondertekenen: %w", err)
	}
	return tokenString, nil
}

// IssueService mints a short-lived token used by the scheduler to call the relay.
func (i *Issuer) IssueService(tenantID uuid.UUID) (string, error) {
	return i.Issue(Member{TenantID: tenantID, Role: RoleService}, ServiceTTL)
}

// Parse valideert het token en geeft de claims terug.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("ongeldige signing method")
		}
		return i.key, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("ongeldige token")
	}
	if claims.TenantID == uuid.Nil {
		return nil, errors.New("geen tenant ID in token")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("onbekende rol %q", claims.Role)
	}
	return claims, nil
}
