// Package identity resolves the authenticated caller. Sessions are managed elsewhere; this
// package only reads the identity placed in the request context or verifies a bearer token.
package identity

import (
	"context"
	"errors"

	"github.com/hyperjump/docchat/internal/apperr"
)

// Resolver returns the id of the authenticated caller.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

type ownerKey struct{}

// WithOwner returns a context carrying ownerID as the authenticated caller.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the caller placed in ctx by WithOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// ContextResolver resolves the caller from the request context.
type ContextResolver struct{}

// Resolve returns an AuthError when no caller is present.
func (ContextResolver) Resolve(ctx context.Context) (string, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return "", apperr.E(apperr.KindAuth, "identity", errors.New("no authenticated user"))
	}
	return owner, nil
}

// StaticResolver always resolves to the same caller. Used by the CLI.
type StaticResolver string

func (s StaticResolver) Resolve(ctx context.Context) (string, error) {
	if s == "" {
		return "", apperr.E(apperr.KindAuth, "identity", errors.New("no user configured"))
	}
	return string(s), nil
}
