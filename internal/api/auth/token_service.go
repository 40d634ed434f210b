package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService signs and validates the bearer tokens issued to tenant users.
// Token issuance for end users happens outside this service; Issue exists for
// operators and tests.
type TokenService struct {
	secretKey []byte

	// AccessTokenDuration is the lifetime given to issued tokens. Default: 12 hours
	AccessTokenDuration time.Duration

	now func() time.Time
}

// JWTClaims represents the claims in our JWT tokens
type JWTClaims struct {
	TenantID int64  `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	Lang     string `json:"lang,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoTenant     = errors.New("token carries no tenant")
)

// NewTokenService creates a new token service
func NewTokenService(secretKey string) *TokenService {
	return &TokenService{
		secretKey:           []byte(secretKey),
		AccessTokenDuration: 12 * time.Hour,
		now:                 time.Now,
	}
}

// Issue signs an access token for a tenant user
func (ts *TokenService) Issue(tenantID int64, userID, lang string) (string, time.Time, error) {
	if tenantID <= 0 {
		return "", time.Time{}, ErrNoTenant
	}
	now := ts.now()
	expiresAt := now.Add(ts.AccessTokenDuration)
	claims := &JWTClaims{
		TenantID: tenantID,
		UserID:   userID,
		Lang:     lang,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(tenantID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "leadpilot",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken parses tokenString and returns its claims
func (ts *TokenService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	}, jwt.WithTimeFunc(ts.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if claims.TenantID <= 0 {
		return nil, ErrNoTenant
	}
	return claims, nil
}
