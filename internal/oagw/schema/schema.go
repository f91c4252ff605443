// Package schema defines the gateway's dependency on the external schema
// registry (spec.md §6.1): validating that plugin/config
// identifiers refer to known types and that an instance's declared kind
// matches its usage (spec.md §4.4: "Type-kind consistency must be
// validated at attach time").
package schema

import (
	"fmt"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
)

// Registry validates plugin kind/identifier consistency at attach time.
type Registry interface {
	// ValidateKind returns an error if id is not a known built-in
	// identifier (or a custom "plg~<uuid>" form) of the expected kind.
	ValidateKind(id string, kind model.PluginKind) error
}

// builtinNames maps each known built-in plugin identifier to its kind.
// internal/oagw/plugins registers the concrete implementations; this
// registry only needs to know the kind for attach-time validation.
var builtinNames = map[string]model.PluginKind{
	"builtin:auth:jwt":                  model.PluginKindAuth,
	"builtin:auth:api-key":              model.PluginKindAuth,
	"builtin:auth:basic":                model.PluginKindAuth,
	"builtin:guard:header-required":     model.PluginKindGuard,
	"builtin:guard:regex":               model.PluginKindGuard,
	"builtin:guard:webhook":             model.PluginKindGuard,
	"builtin:guard:cel":                 model.PluginKindGuard,
	"builtin:transform:header-rewrite":  model.PluginKindTransform,
	"builtin:transform:cors":            model.PluginKindTransform,
	"builtin:transform:prompt-enrichment": model.PluginKindTransform,
	"builtin:transform:cel":             model.PluginKindTransform,
}

type staticRegistry struct {
	// custom holds kinds for "plg~<uuid>" identifiers known to the
	// control plane (i.e. PluginDefinition.Kind for every created custom
	// plugin). The real schema registry is an external service; this
	// fake mirrors just enough of it for in-process and test use.
	custom map[string]model.PluginKind
}

// NewStaticRegistry constructs a Registry fake that knows the built-in
// identifiers and no custom plugins; RegisterCustom adds custom kinds as
// plugins are created.
func NewStaticRegistry() *staticRegistry {
	return &staticRegistry{custom: make(map[string]model.PluginKind)}
}

// RegisterCustom records the kind of a newly created custom plugin so
// later attach-time validation can check it.
func (r *staticRegistry) RegisterCustom(id string, kind model.PluginKind) {
	r.custom[id] = kind
}

func (r *staticRegistry) ValidateKind(id string, kind model.PluginKind) error {
	if k, ok := builtinNames[id]; ok {
		if k != kind {
			return fmt.Errorf("schema: plugin %q is kind %q, expected %q", id, k, kind)
		}
		return nil
	}
	if k, ok := r.custom[id]; ok {
		if k != kind {
			return fmt.Errorf("schema: plugin %q is kind %q, expected %q", id, k, kind)
		}
		return nil
	}
	return fmt.Errorf("schema: unknown plugin identifier %q", id)
}

var _ Registry = (*staticRegistry)(nil)
