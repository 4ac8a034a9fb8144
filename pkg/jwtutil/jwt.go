package jwtutil

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"tenant-service/pkg/config"
)

var (
	secret       []byte
	tokenExpiry  time.Duration
	reauthExpiry time.Duration
)

// ErrNotReauthToken is returned when a token is valid but was not issued for
// identity re-proof.
var ErrNotReauthToken = errors.New("token is not a reauthentication token")

// Initialize sets up the JWT utility from configuration
func Initialize(cfg *config.JWTConfig) {
	secret = []byte(cfg.SigningKey)
	tokenExpiry = time.Duration(cfg.ExpirationHours) * time.Hour
	reauthExpiry = time.Duration(cfg.ReauthExpiryMins) * time.Minute
}

// UserClaims represents the JWT claims for user authentication
type UserClaims struct {
	Email    string `json:"email"`
	UserID   uint   `json:"user_id"`
	TenantID *uint  `json:"tenant_id,omitempty"` // Selected tenant for multi-tenancy
	Role     string `json:"role,omitempty"`      // User's role in the selected tenant
	Purpose  string `json:"purpose,omitempty"`   // "reauth" for identity re-proof tokens
	jwt.RegisteredClaims
}

// GenerateToken creates a JWT token with user information
func GenerateToken(email string, userID uint) (string, error) {
	return GenerateTokenWithTenant(email, userID, nil, "")
}

// GenerateTokenWithTenant creates a JWT token with user and tenant information
func GenerateTokenWithTenant(email string, userID uint, tenantID *uint, role string) (string, error) {
	claims := UserClaims{
		Email:    email,
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// GenerateReauthToken creates a short-lived token proving the user re-entered
// their password just now. Destructive operations require this proof.
func GenerateReauthToken(email string, userID uint) (string, error) {
	claims := UserClaims{
		Email:   email,
		UserID:  userID,
		Purpose: "reauth",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(reauthExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken validates and parses the JWT token
func ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// ValidateReauthToken validates a token and checks it was issued for identity
// re-proof by the given user.
func ValidateReauthToken(tokenString string, userID uint) (*UserClaims, error) {
	claims, err := ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != "reauth" || claims.UserID != userID {
		return nil, ErrNotReauthToken
	}
	return claims, nil
}
