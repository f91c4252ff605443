// Package config implements the hierarchical configuration merge
// (spec.md §4.3): combining a tenant-hierarchy chain of bindings,
// root-first, into one effective configuration per field, honoring each
// field's declared sharing mode (private/inherit/enforce).
//
// A binding is anything that carries overlay fields at a layer
// (Upstream or Route in internal/oagw/model). The merge walks the
// hierarchy chain from root tenant to the resolving tenant, applying
// each layer's fields according to its own Sharing value:
//
//   - private: visible only at the layer that declared it; never
//     propagates to descendants and is not inherited from ancestors.
//   - inherit: descendants may override; ancestor value applies unless
//     a closer layer sets its own value.
//   - enforce: no descendant may override; once any ancestor declares
//     enforce for a field, every closer layer's value for that field is
//     ignored and the enforcing ancestor's value wins.
package config

import "github.com/outbound-gateway/oagw/internal/oagw/model"

// Layer is one node's contribution to a field's value, ordered from the
// hierarchy root to the resolving tenant (index 0 is the root).
type Layer[T any] struct {
	Sharing model.Sharing
	Value   T
	Present bool // false means this layer does not declare the field
}

// Resolve walks layers root-to-leaf and returns the effective value for
// a single field, applying the sharing-mode rules. The boolean result
// reports whether any layer declared the field at all.
func Resolve[T any](layers []Layer[T]) (T, bool) {
	var (
		effective T
		present   bool
		enforced  bool // an ancestor has already enforced a value
	)
	for _, l := range layers {
		if !l.Present {
			continue
		}
		if enforced {
			// An ancestor enforce wins regardless of what closer layers
			// declare; enforce is a ceiling, not merely a default.
			continue
		}
		switch l.Sharing {
		case model.SharingEnforce:
			effective = l.Value
			present = true
			enforced = true
		case model.SharingInherit, model.SharingPrivate:
			// Both override the running value for now; private differs
			// from inherit only in whether a layer below this one may
			// see it at all, which ResolveScoped enforces via the
			// ownerTenant/viewerTenant check instead of here.
			effective = l.Value
			present = true
		}
	}
	return effective, present
}

// ResolveScoped is Resolve, but additionally drops a layer's value if it
// is SharingPrivate and was declared at a tenant other than viewerTenant
// (spec.md §4.3: private fields "never propagate to descendants").
// ownerOf must return the tenant that declared the corresponding entry
// of layers; both slices must be parallel and the same length.
func ResolveScoped[T any](layers []Layer[T], ownerOf []string, viewerTenant string) (T, bool) {
	visible := make([]Layer[T], len(layers))
	for i, l := range layers {
		visible[i] = l
		if l.Present && l.Sharing == model.SharingPrivate && ownerOf[i] != viewerTenant {
			visible[i].Present = false
		}
	}
	return Resolve(visible)
}

// MergePlugins concatenates plugin references across layers in
// root-to-leaf declaration order, the ordering the execution chain
// (pkg/pluginsdk.BuildRequestChain) depends on. private refs are
// dropped unless declared at viewerTenant; enforce refs from an
// ancestor cannot be removed by a descendant (descendants may only
// append, never omit, an enforced ancestor ref).
func MergePlugins(layerRefs [][]model.PluginRef, ownerTenant []string, viewerTenant string) []model.PluginRef {
	var out []model.PluginRef
	enforcedIDs := make(map[string]bool)
	for i, refs := range layerRefs {
		for _, ref := range refs {
			if ref.Sharing == model.SharingPrivate && ownerTenant[i] != viewerTenant {
				continue
			}
			out = append(out, ref)
			if ref.Sharing == model.SharingEnforce {
				enforcedIDs[ref.PluginID] = true
			}
		}
	}
	return out
}

// MergeTags combines per-layer tag sets, root-to-leaf, dropping private
// tags not owned by viewerTenant. Later layers may add new tags but an
// enforce tag from an ancestor cannot be unset (model.Upstream has no
// explicit tag removal operation, so "cannot unset" is naturally
// satisfied by union semantics).
func MergeTags(layerTags []map[string]model.Sharing, ownerTenant []string, viewerTenant string) map[string]model.Sharing {
	out := make(map[string]model.Sharing)
	for i, tags := range layerTags {
		for tag, sharing := range tags {
			if sharing == model.SharingPrivate && ownerTenant[i] != viewerTenant {
				continue
			}
			out[tag] = sharing
		}
	}
	return out
}
