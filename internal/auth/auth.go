package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidToken is returned for missing, unknown or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// ErrNotOwner is returned when an authenticated user touches a session that
// belongs to someone else.
var ErrNotOwner = errors.New("session belongs to another user")

// Verifier resolves a bearer token to the user id it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// StaticVerifier resolves tokens from a fixed token -> user table, loaded
// from configuration. Suitable for development and tests; production deploys
// plug a real identity provider behind the Verifier interface.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier parses a "token:user,token:user" list.
func NewStaticVerifier(pairs string) (*StaticVerifier, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, ":")
		token = strings.TrimSpace(token)
		user = strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("invalid auth token pair %q", pair)
		}
		tokens[token] = user
	}
	return &StaticVerifier{tokens: tokens}, nil
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	user, ok := v.tokens[strings.TrimSpace(token)]
	if !ok {
		return "", ErrInvalidToken
	}
	return user, nil
}

// InsecureVerifier accepts any non-empty token and uses it as the user id.
// Development only; the name is loud on purpose.
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}

// New picks the static verifier when token pairs are configured, otherwise
// the insecure passthrough.
func New(tokenPairs string) (Verifier, error) {
	if strings.TrimSpace(tokenPairs) == "" {
		return InsecureVerifier{}, nil
	}
	return NewStaticVerifier(tokenPairs)
}
