package api

import (
	"context"

	"github.com/outbound-gateway/oagw/internal/oagw/authz"
)

func withPrincipal(ctx context.Context, p authz.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) authz.Principal {
	p, _ := ctx.Value(principalKey{}).(authz.Principal)
	return p
}

func requirePermission(p authz.Principal, perm authz.Permission) bool {
	return p.Allows(perm)
}
