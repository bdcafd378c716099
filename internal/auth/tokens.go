package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	audienceSession = "session"
	audienceVideo   = "video"
)

type sessionClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type videoClaims struct {
	Room string `json:"room"`
	Role Role   `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens for API sessions and video rooms.
type Issuer struct {
	secret   []byte
	ttl      time.Duration
	videoTTL time.Duration
	now      func() time.Time
}

func NewIssuer(secret string, ttl, videoTTL time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, videoTTL: videoTTL, now: time.Now}
}

func (i *Issuer) IssueSession(p Principal) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := sessionClaims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			Audience:  jwt.ClaimStrings{audienceSession},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

func (i *Issuer) ParseSession(token string) (Principal, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audienceSession),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	switch claims.Role {
	case RoleProvider, RoleRequester, RoleAdmin:
	default:
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return Principal{Role: claims.Role, ID: id}, nil
}

// IssueVideo mints a join token scoped to a single room.
func (i *Issuer) IssueVideo(room string, p Principal) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.videoTTL)
	claims := videoClaims{
		Room: room,
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			Audience:  jwt.ClaimStrings{audienceVideo},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign video token: %w", err)
	}
	return signed, exp, nil
}

// ParseVideo returns the room a video token grants access to.
func (i *Issuer) ParseVideo(token string) (string, Principal, error) {
	var claims videoClaims
	_, err := jwt.ParseWithClaims(token, &claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audienceVideo),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return "", Principal{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return claims.Room, Principal{Role: claims.Role, ID: id}, nil
}

func (i *Issuer) keyFunc(*jwt.Token) (any, error) {
	return i.secret, nil
}
