package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	"go.uber.org/fx"
)

var (
	ErrNotConfigured = errors.New("auth_not_configured")
	ErrInvalidToken  = errors.New("auth_invalid_token")
)

// Claims is the portal session token payload. MemberID travels as a string
// because snowflake ids overflow JSON numbers.
type Claims struct {
	MemberID string `json:"member_id"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Manager signs and verifies portal session tokens with HS256.
type Manager struct {
	secret []byte
	clock  clock.Clock
}

var Module = fx.Module("auth",
	fx.Provide(NewManager),
)

func NewManager(cfg config.Config, clk clock.Clock) *Manager {
	return &Manager{
		secret: []byte(cfg.AuthJWTSecret),
		clock:  clk,
	}
}

func (m *Manager) Issue(memberID snowflake.ID, admin bool, ttl time.Duration) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrNotConfigured
	}
	now := m.clock.Now()
	claims := Claims{
		MemberID: memberID.String(),
		Admin:    admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "morada",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses and validates a token, rejecting any signing method other
// than HMAC.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, ErrNotConfigured
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.clock.Now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := snowflake.ParseString(claims.MemberID); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// MemberID returns the subject as a snowflake id. Verify has already checked
// it parses.
func (c *Claims) MemberIDValue() snowflake.ID {
	id, _ := snowflake.ParseString(c.MemberID)
	return id
}
