package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrTokenMissing = errors.New("authorization token not provided")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// TokenAuth verifies HS256 bearer tokens. The subject claim is the user id.
type TokenAuth struct {
	secret []byte
	issuer string
}

// NewTokenAuth creates a TokenAuth. When issuer is set, tokens from other issuers are rejected.
func NewTokenAuth(secret, issuer string) (*TokenAuth, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	return &TokenAuth{secret: []byte(secret), issuer: issuer}, nil
}

// Issue signs a token for userID valid for ttl
func (a *TokenAuth) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *TokenAuth) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return a.secret, nil
}

// UserID validates token and returns its subject
func (a *TokenAuth) UserID(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrTokenMissing
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", ErrTokenInvalid
	}
	return strings.TrimSpace(token), nil
}

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the authenticated user id of a request context
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey{}).(string)
	return userID, ok && userID != ""
}
