package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned for a well-signed token that names no user.
var ErrNoSubject = errors.New("token has no subject")

// Claims are the JWT claims dmchat issues. The user id travels both as the
// registered subject and as user_id; either one is enough to identify the user.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

func (cfg *JWTConfig) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return jwt.NewParser(opts...)
}

// IssueToken signs an HS256 token for the user, valid for cfg.TTL.
func IssueToken(cfg *JWTConfig, userID, username string) (string, error) {
	now := time.Now()
	registered := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    cfg.Issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	if cfg.Audience != "" {
		registered.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           userID,
		Username:         username,
		RegisteredClaims: registered,
	}).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature, expiry, issuer and audience. The returned
// claims always have UserID set.
func ParseToken(cfg *JWTConfig, raw string) (*Claims, error) {
	var claims Claims
	if _, err := cfg.parser().ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	}); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	switch {
	case claims.UserID == "" && claims.Subject == "":
		return nil, ErrNoSubject
	case claims.UserID == "":
		claims.UserID = claims.Subject
	case claims.Subject != "" && claims.Subject != claims.UserID:
		return nil, fmt.Errorf("parse token: subject %q does not match user %q", claims.Subject, claims.UserID)
	}
	return &claims, nil
}
