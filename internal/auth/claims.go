package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// minSecretLength is the shortest HMAC secret NewJWTCodec accepts.
const minSecretLength = 32

// Claims is the access-token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Identity returns the caller identity carried by the claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.Subject, Email: c.Email, Role: c.Role}
}

// AccessTokenCodec signs and verifies stateless access tokens.
type AccessTokenCodec interface {
	Issue(user *User) (token string, expiresAt time.Time, err error)
	Parse(token string) (*Claims, error)
}

// CodecConfig configures a JWTCodec.
type CodecConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// JWTCodec issues HS256 access tokens.
type JWTCodec struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewJWTCodec validates cfg and returns a codec.
func NewJWTCodec(cfg CodecConfig) (*JWTCodec, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretLength)
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("jwt issuer and audience are required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &JWTCodec{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      now,
	}, nil
}

// Issue signs an access token for user.
func (c *JWTCodec) Issue(user *User) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Email: user.Email,
		Role:  user.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies signature, algorithm, expiry, issuer and audience and
// returns the claims. Every failure is an authentication error.
func (c *JWTCodec) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(_ *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, newAuthenticationError("Invalid or expired access token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || !claims.Role.IsValid() {
		return nil, newAuthenticationError("Invalid or expired access token")
	}
	return claims, nil
}
