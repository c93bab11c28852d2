package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-identity-service/internal/model"
)

const minSecretLength = 32

type TokenErrorKind string

const (
	TokenExpired      TokenErrorKind = "expired"
	TokenMalformed    TokenErrorKind = "malformed"
	TokenBadSignature TokenErrorKind = "bad_signature"
)

type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token %s", e.Kind)
	}
	return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

type sessionClaims struct {
	User model.PublicUser `json:"user"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 session tokens. The key is fixed at
// construction; rotating it invalidates every outstanding token.
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenIssuer(secret string, issuer string) (*TokenIssuer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes", minSecretLength)
	}

	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	clone := *i
	clone.now = now
	return &clone
}

func (i *TokenIssuer) Issue(user model.PublicUser, ttl time.Duration) (string, model.AuthClaims, error) {
	if ttl <= 0 {
		return "", model.AuthClaims{}, fmt.Errorf("token ttl must be positive")
	}

	now := i.now().UTC().Truncate(time.Second)
	claims := sessionClaims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", model.AuthClaims{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, toAuthClaims(claims), nil
}

func (i *TokenIssuer) Validate(tokenString string) (*model.AuthClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}

	if claims.Subject == "" || claims.Subject != claims.User.ID {
		return nil, &TokenError{Kind: TokenMalformed, Err: errors.New("subject does not match user claim")}
	}

	out := toAuthClaims(*claims)
	return &out, nil
}

func classify(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Kind: TokenExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &TokenError{Kind: TokenBadSignature, Err: err}
	default:
		return &TokenError{Kind: TokenMalformed, Err: err}
	}
}

func toAuthClaims(claims sessionClaims) model.AuthClaims {
	out := model.AuthClaims{
		UserID:  claims.Subject,
		User:    claims.User,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out
}
