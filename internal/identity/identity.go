// Package identity defines the principal-resolution port. Session and token
// handling live outside this core; callers put an authenticated principal on
// the context (or supply their own Resolver) and every service resolves the
// actor through this package.
package identity

import (
	"context"

	"obras/internal/core"
)

// Roles recognized by the core. RoleAdmin is the elevated role required for
// store-wide recalculation.
const (
	RoleAdmin    = "admin"
	RoleEngineer = "engineer"
	RoleViewer   = "viewer"
)

// Principal is the actor identity captured at operation time.
type Principal struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// Resolver resolves the current principal. Implementations return
// core.ErrNotAuthenticated when no principal is available.
type Resolver interface {
	Current(ctx context.Context) (*Principal, error)
}

type ctxKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// ContextResolver reads the principal from the context.
type ContextResolver struct{}

func (ContextResolver) Current(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	if !ok || p == nil {
		return nil, core.ErrNotAuthenticated
	}
	return p, nil
}

// StaticResolver always returns the same principal. Useful for tests and for
// the reconcile worker, which acts as a fixed system identity.
type StaticResolver struct {
	Principal *Principal
}

func (r StaticResolver) Current(ctx context.Context) (*Principal, error) {
	if r.Principal == nil {
		return nil, core.ErrNotAuthenticated
	}
	return r.Principal, nil
}

// System is the identity recorded when no principal can be resolved in
// contexts where the operation must still proceed (worker passes, audit
// fallback).
func System() *Principal {
	return &Principal{ID: "system", Name: "system", Role: RoleAdmin}
}
