package plugins

import "github.com/outbound-gateway/oagw/pkg/pluginsdk"

// Registry looks up a built-in plugin instance by its stable
// identifier. It is deliberately separate from internal/oagw/schema's
// Registry, which only validates kind consistency; this one returns
// the executable instance the chain actually invokes.
type Registry struct {
	byID map[string]pluginsdk.Instance
}

// NewRegistry builds a Registry over instances, keyed by their own ID().
func NewRegistry(instances ...pluginsdk.Instance) *Registry {
	r := &Registry{byID: make(map[string]pluginsdk.Instance, len(instances))}
	for _, inst := range instances {
		r.byID[inst.ID()] = inst
	}
	return r
}

// Lookup returns the instance for id, or false if id is not a known
// built-in (the caller should then consult the custom-plugin sandbox).
func (r *Registry) Lookup(id string) (pluginsdk.Instance, bool) {
	inst, ok := r.byID[id]
	return inst, ok
}
