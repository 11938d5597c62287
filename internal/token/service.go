// Package token issues and verifies the two signed credentials the service
// relies on: single-use magic-link tokens and longer-lived session tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the token_type claim. A magic-link token presented
// where a session token is expected (or vice versa) is rejected explicitly,
// not just by its shorter expiry.
const (
	TypeMagicLink = "magic-link"
	TypeSession   = "session"
)

// Issuer is the fixed iss claim on every token this service mints.
const Issuer = "mailloop"

// SessionTTL is the fixed lifetime of a session token.
const SessionTTL = 30 * 24 * time.Hour

// DefaultMagicLinkTTL is used when no expiration policy is configured.
const DefaultMagicLinkTTL = 7 * 24 * time.Hour

// Verification errors. Messages are deliberately generic; the underlying
// JWT library error is never surfaced to callers.
var (
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims is the payload carried by both token types.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	TokenType string `json:"token_type"`
}

// SubscriberID returns the subject the token was issued for.
func (c *Claims) SubscriberID() string {
	return c.Subject
}

// Config contains token service configuration.
type Config struct {
	Secret       string
	MagicLinkTTL time.Duration
}

// Service signs and verifies tokens. It holds no mutable state and is safe
// for concurrent use.
type Service struct {
	secret       []byte
	magicLinkTTL time.Duration
}

// NewService creates a token service from configuration.
func NewService(cfg Config) *Service {
	ttl := cfg.MagicLinkTTL
	if ttl <= 0 {
		ttl = DefaultMagicLinkTTL
	}
	return &Service{
		secret:       []byte(cfg.Secret),
		magicLinkTTL: ttl,
	}
}

// GenerateMagicLink mints a magic-link token for the subscriber.
// Each call produces a distinct token string: the jti claim is a fresh UUID.
func (s *Service) GenerateMagicLink(subscriberID, email string) (string, time.Time, error) {
	return s.generate(subscriberID, email, TypeMagicLink, s.magicLinkTTL)
}

// GenerateSession mints a session token for the subscriber.
func (s *Service) GenerateSession(subscriberID, email string) (string, time.Time, error) {
	return s.generate(subscriberID, email, TypeSession, SessionTTL)
}

func (s *Service) generate(subscriberID, email, tokenType string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subscriberID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     email,
		TokenType: tokenType,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}

	return signed, expiresAt, nil
}

// VerifyMagicLink validates a magic-link token and returns its claims.
func (s *Service) VerifyMagicLink(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TypeMagicLink)
}

// VerifySession validates a session token and returns its claims.
func (s *Service) VerifySession(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TypeSession)
}

func (s *Service) verify(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}

	if claims.TokenType != wantType {
		return nil, ErrWrongTokenType
	}

	return claims, nil
}
