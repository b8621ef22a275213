// Package identity resolves bearer session tokens into a caller identity and
// role. Tokens are HS256 JWTs carrying the user id and role.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

const audience = "civicwatch"

// Claims are the session token claims.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver issues and validates session tokens.
type JWTResolver struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

type Option func(*JWTResolver)

func WithClock(now func() time.Time) Option {
	return func(r *JWTResolver) {
		if now != nil {
			r.now = now
		}
	}
}

func NewJWTResolver(signingKey, issuer string, opts ...Option) *JWTResolver {
	r := &JWTResolver{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Issue signs a session token for the actor.
func (r *JWTResolver) Issue(actor id.Actor, expiresIn time.Duration) (string, error) {
	if !actor.Valid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "actor id and role are required")
	}
	now := r.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: actor.ID.String(),
		Role:   string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    r.issuer,
			Audience:  []string{audience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(r.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// Resolve validates the token and returns the actor it names. Every failure
// is reported as unauthenticated.
func (r *JWTResolver) Resolve(_ context.Context, token string) (id.Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return r.signingKey, nil
	},
		jwt.WithIssuer(r.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthenticated, "token has expired")
		}
		return id.Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthenticated, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return id.Actor{}, dErrors.New(dErrors.CodeUnauthenticated, "invalid token claims")
	}

	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return id.Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthenticated, "invalid token subject")
	}
	role, err := id.ParseRole(claims.Role)
	if err != nil {
		return id.Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthenticated, "token carries no known role")
	}
	return id.Actor{ID: userID, Role: role}, nil
}
