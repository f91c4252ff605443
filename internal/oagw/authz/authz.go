// Package authz defines the gateway's dependency on the external
// authn/authz service (spec.md §6.1): validating ingress bearer
// credentials and returning a principal, tenant, and permission set.
// Management and proxy permissions are distinct.
package authz

import (
	"context"

	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// Permission is a coarse-grained capability distinguishing management
// operations (CRUD over upstreams/routes/plugins) from proxying.
type Permission string

const (
	PermissionManage Permission = "manage"
	PermissionProxy  Permission = "proxy"
)

// Principal identifies the authenticated caller of an ingress request.
type Principal struct {
	ID          string
	Tenant      string
	Permissions map[Permission]bool
}

// Allows reports whether the principal holds the given permission.
func (p Principal) Allows(perm Permission) bool { return p.Permissions[perm] }

// Service validates ingress bearer credentials. The real implementation
// is an external authentication/authorization service (spec.md §6.1);
// this interface is the boundary the ingress layer depends on.
type Service interface {
	Authenticate(ctx context.Context, bearerToken string) (Principal, error)
}

// staticService is a fixed-principal fake used by tests and local
// deployments where no external authn/authz service is wired.
type staticService struct {
	tokens map[string]Principal
}

// NewStaticService constructs an authz.Service backed by a fixed
// token -> Principal map, for tests and local/dev use.
func NewStaticService(tokens map[string]Principal) Service {
	return &staticService{tokens: tokens}
}

func (s *staticService) Authenticate(ctx context.Context, bearerToken string) (Principal, error) {
	p, ok := s.tokens[bearerToken]
	if !ok {
		return Principal{}, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "invalid bearer token")
	}
	return p, nil
}
