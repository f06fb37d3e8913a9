// Package storecommon provides shared types and context management for the
// conda-store server: build and artifact enumerations, the authenticated
// entity carried through request contexts, and test context plumbing.
package storecommon

import (
	"context"
	"time"
)

// ctxKeyType represents the type for all context keys
type ctxKeyType string

const (
	ctxEntityKey      ctxKeyType = "CondaStoreEntity"
	ctxTestContextKey ctxKeyType = "CondaStoreTestContext"
)

// Entity is the authenticated principal acting on the store. RoleBindings
// maps namespace/environment patterns to role names; the auth package
// interprets them.
type Entity struct {
	// Principal is the identity the entity authenticated as.
	Principal string
	// RoleBindings maps an ARN pattern ("namespace/environment", each
	// segment optionally "*") to a role name.
	RoleBindings map[string]RoleName
	// ExpiresAt is when the entity's token expires. Zero for entities not
	// backed by a token. Tokens minted by this entity cannot outlive it.
	ExpiresAt time.Time
}

// WithEntity sets the authenticated entity in the provided context.
func WithEntity(ctx context.Context, entity *Entity) context.Context {
	return context.WithValue(ctx, ctxEntityKey, entity)
}

// GetEntity retrieves the authenticated entity from the provided context.
// Returns nil for unauthenticated requests.
func GetEntity(ctx context.Context) *Entity {
	if entity, ok := ctx.Value(ctxEntityKey).(*Entity); ok {
		return entity
	}
	return nil
}

// GetPrincipal retrieves the authenticated principal name from the context.
func GetPrincipal(ctx context.Context) string {
	if entity := GetEntity(ctx); entity != nil {
		return entity.Principal
	}
	return ""
}

// WithTestContext sets the test context in the provided context.
func WithTestContext(ctx context.Context, isTest bool) context.Context {
	return context.WithValue(ctx, ctxTestContextKey, isTest)
}

// GetTestContext retrieves the test context from the provided context.
func GetTestContext(ctx context.Context) bool {
	if testContext, ok := ctx.Value(ctxTestContextKey).(bool); ok {
		return testContext
	}
	return false
}
