// ABOUTME: JWT caller tokens for authenticating agent requests
// ABOUTME: Uses HS256 signing with a configured secret of at least 32 bytes

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// MinSecretLength is the minimum accepted HS256 secret length in bytes.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = errors.New("secret too short")
)

// TokenVerifier turns a bearer token into the caller it was issued for.
type TokenVerifier interface {
	Verify(tokenString string) (*toolkit.Caller, error)
}

// CallerClaims is the token payload: the caller identity plus the
// registered expiry claims.
type CallerClaims struct {
	ID          int               `json:"id"`
	Email       string            `json:"email"`
	FirstName   string            `json:"firstName"`
	LastName    string            `json:"lastName"`
	Team        string            `json:"team"`
	Role        string            `json:"role"`
	RenderingID int               `json:"renderingId"`
	Tags        map[string]string `json:"tags,omitempty"`
	Timezone    string            `json:"timezone"`
	jwt.RegisteredClaims
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and returns the caller described by its claims.
func (v *JWTVerifier) Verify(tokenString string) (*toolkit.Caller, error) {
	claims := &CallerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.ID <= 0 {
		return nil, fmt.Errorf("%w: id", ErrMissingClaim)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingClaim)
	}

	return &toolkit.Caller{
		ID:          claims.ID,
		Email:       claims.Email,
		FirstName:   claims.FirstName,
		LastName:    claims.LastName,
		Team:        claims.Team,
		Role:        claims.Role,
		RenderingID: claims.RenderingID,
		Tags:        claims.Tags,
		Timezone:    claims.Timezone,
	}, nil
}

// Generate signs a token for caller that expires after expiresIn.
func (v *JWTVerifier) Generate(caller *toolkit.Caller, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := CallerClaims{
		ID:          caller.ID,
		Email:       caller.Email,
		FirstName:   caller.FirstName,
		LastName:    caller.LastName,
		Team:        caller.Team,
		Role:        caller.Role,
		RenderingID: caller.RenderingID,
		Tags:        caller.Tags,
		Timezone:    caller.Timezone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.IDString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
