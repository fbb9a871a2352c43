// Package auth handles the bearer credential used for the push channel
// handshake.  The credential is issued by an external authentication
// provider and verified by the authoritative store; this engine only
// inspects the claims it needs (subject and expiry) so it can route a
// dead-on-arrival token to the fallback path without a network round
// trip.  A Mint helper signs tokens locally for development setups
// where no provider is running.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when the bearer token cannot be parsed
// as a JWT at all.
var ErrMalformedToken = errors.New("malformed bearer token")

// ErrTokenExpired is returned when the token's exp claim is already in
// the past.  Presenting such a token to the channel would fail the
// handshake, which is terminal for the push path, so callers should
// treat this exactly like an authentication rejection.
var ErrTokenExpired = errors.New("bearer token expired")

// Credentials carries the bearer token presented during the channel
// handshake together with the identity extracted from it.
type Credentials struct {
	Token     string    // the serialized JWT string
	UserID    string    // subject claim; the user this context acts for
	ExpiresAt time.Time // exp claim; zero when the token never expires
}

// FromToken inspects a bearer JWT without verifying its signature.
// Signature verification is the authority's job; the client only needs
// the subject for ownership classification and the expiry for a
// fail-fast check.  An expired token yields ErrTokenExpired together
// with the parsed credentials so callers can still log the subject.
func FromToken(token string) (Credentials, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Credentials{}, ErrMalformedToken
	}
	creds := Credentials{Token: token}
	if sub, err := claims.GetSubject(); err == nil {
		creds.UserID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		creds.ExpiresAt = exp.Time
		if !exp.Time.After(time.Now().UTC()) {
			return creds, ErrTokenExpired
		}
	}
	if creds.UserID == "" {
		return creds, ErrMalformedToken
	}
	return creds, nil
}

// Mint builds and signs an HS256 JWT for a user.  It exists for
// development and test environments where the external authentication
// provider is not available; production deployments pass a provider
// token through CHANNEL_TOKEN instead.  The JWT includes the standard
// subject (sub), expiration (exp) and issued at (iat) claims.
func Mint(secret, userID string, ttl time.Duration) (Credentials, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": exp.Unix(),
		"iat": now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: signed, UserID: userID, ExpiresAt: exp}, nil
}
