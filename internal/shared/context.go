package shared

import (
	"context"

	"github.com/google/uuid"
)

type actorContextKey struct{}

type tenantContextKey struct{}

// ContextWithActor stores the authenticated user id in context.
func ContextWithActor(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, actorContextKey{}, id)
}

// ActorFromContext extracts the authenticated user id from context.
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorContextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// ContextWithTenant stores the tenant id in context.
func ContextWithTenant(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, id)
}

// TenantFromContext extracts the tenant id from context.
func TenantFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantContextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
