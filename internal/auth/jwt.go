package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed, badly signed or of the wrong type.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	SecretKey            string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
	Issuer               string
}

// Claims mirrors the payload issued by the auth endpoints: {id, email, username}.
type Claims struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 bearer credentials.
type JWTManager struct {
	config JWTConfig
}

// NewJWTManager creates a JWTManager. Zero durations fall back to 7d access / 30d refresh.
func NewJWTManager(config JWTConfig) *JWTManager {
	if config.AccessTokenDuration <= 0 {
		config.AccessTokenDuration = 7 * 24 * time.Hour
	}
	if config.RefreshTokenDuration <= 0 {
		config.RefreshTokenDuration = 30 * 24 * time.Hour
	}
	return &JWTManager{config: config}
}

// GenerateAccessToken issues an access token for the user.
func (m *JWTManager) GenerateAccessToken(userID, email, username string) (string, error) {
	return m.generate(userID, email, username, tokenTypeAccess, m.config.AccessTokenDuration)
}

// GenerateRefreshToken issues a refresh token for the user.
func (m *JWTManager) GenerateRefreshToken(userID, email, username string) (string, error) {
	return m.generate(userID, email, username, tokenTypeRefresh, m.config.RefreshTokenDuration)
}

func (m *JWTManager) generate(userID, email, username, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:        userID,
		Email:     email,
		Username:  username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.SecretKey))
}

// Verify validates signature, expiry and issuer and returns the claims.
// Refresh tokens are rejected: only access credentials open a session.
// Tokens without a token_type claim are accepted as access tokens.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(m.config.SecretKey), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType == tokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" {
		claims.ID = claims.Subject
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
