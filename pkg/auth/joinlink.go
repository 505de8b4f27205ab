package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"telecare/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid join token")
	ErrExpiredToken = errors.New("join token expired")
)

// JoinLinkClaims identify the invited participant and the consultation a
// magic link grants access to.
type JoinLinkClaims struct {
	ConsultationID int64                  `json:"consultation_id"`
	Email          string                 `json:"email"`
	Name           string                 `json:"name"`
	Role           domain.ParticipantRole `json:"role"`
	jwt.RegisteredClaims
}

// JoinLinkManager issues and parses signed join link tokens
type JoinLinkManager struct {
	signingKey []byte
	defaultTTL time.Duration
}

func NewJoinLinkManager(signingKey string, defaultTTL time.Duration) *JoinLinkManager {
	return &JoinLinkManager{
		signingKey: []byte(signingKey),
		defaultTTL: defaultTTL,
	}
}

// Issue signs a join token. A zero ttl falls back to the configured default.
func (m *JoinLinkManager) Issue(consultationID int64, email, name string, role domain.ParticipantRole, ttl time.Duration) (string, time.Time, error) {
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	expiresAt := time.Now().Add(ttl)
	claims := JoinLinkClaims{
		ConsultationID: consultationID,
		Email:          email,
		Name:           name,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   fmt.Sprintf("consultation:%d", consultationID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign join token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates a join token and returns its claims
func (m *JoinLinkManager) Parse(tokenString string) (*JoinLinkClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JoinLinkClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JoinLinkClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
