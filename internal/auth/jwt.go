package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenExpiry is the lifetime of tokens issued by GenerateAccessToken.
const DefaultTokenExpiry = 24 * time.Hour

// ErrMissingUserID is returned for a correctly signed token without a user ID.
var ErrMissingUserID = errors.New("token has no user id")

// Claims defines the JWT payload for access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenService validates and issues HS256 access tokens.
type TokenService struct {
	secret       []byte
	accessExpiry time.Duration
}

// NewTokenService creates a TokenService with the given HMAC secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{
		secret:       []byte(secret),
		accessExpiry: DefaultTokenExpiry,
	}
}

// GenerateAccessToken creates a signed JWT for the given user ID using the
// default expiry.
func (ts *TokenService) GenerateAccessToken(userID string) (string, error) {
	return ts.GenerateAccessTokenWithExpiry(userID, ts.accessExpiry)
}

// GenerateAccessTokenWithExpiry creates a signed JWT that expires after ttl.
func (ts *TokenService) GenerateAccessTokenWithExpiry(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrMissingUserID
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and validates a JWT, returning the claims.
func (ts *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" {
		return nil, ErrMissingUserID
	}
	return claims, nil
}
