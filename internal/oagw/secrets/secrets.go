// Package secrets defines the gateway's dependency on the external
// secret store (spec.md §6.1): resolving an opaque credential reference
// to a secret value, scoped to a tenant principal. Errors always
// propagate as AuthenticationFailed without revealing any secret
// material (spec.md §6.1).
package secrets

import (
	"context"
	"sync"

	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// Store resolves credential references. The real secret store (Vault,
// cloud KMS, etc.) lives outside this module's scope; this interface is
// the external boundary the plugin runtime depends on.
type Store interface {
	// Resolve returns the secret value for ref scoped to tenant, or an
	// AuthenticationFailed error if the reference cannot be resolved.
	Resolve(ctx context.Context, tenant, ref string) (string, error)
}

// memoryStore is an in-memory fake used by tests and local/dev
// deployments where no external secret manager is wired.
type memoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string // tenant + "/" + ref -> value
}

// NewMemoryStore constructs an in-memory secret store fake.
func NewMemoryStore() *memoryStore {
	return &memoryStore{secrets: make(map[string]string)}
}

// Put seeds a secret value for tests and local configuration.
func (m *memoryStore) Put(tenant, ref, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[tenant+"/"+ref] = value
}

func (m *memoryStore) Resolve(ctx context.Context, tenant, ref string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[tenant+"/"+ref]
	if !ok {
		return "", oagwerrors.New(oagwerrors.KindAuthenticationFailed, "credential reference could not be resolved")
	}
	return v, nil
}

var _ Store = (*memoryStore)(nil)
