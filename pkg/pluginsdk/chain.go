package pluginsdk

// Chain orders a tenant-hierarchy-merged plugin list into the execution
// order required by spec.md §4.4/§5: the upstream chain first, then the
// route chain appended after it, for the request phase; the reverse for
// response/error phases. The ordering machinery below mirrors the
// teacher's WellKnownFilterStage staged-sort approach (stable sort of a
// slice keyed by an explicit stage + index), generalized from Envoy HTTP
// filter stages to the three plugin kinds of this gateway.

// Entry pairs a plugin instance with the layer it was attached at, so the
// chain builder can preserve "upstream chain, then route chain" ordering
// (spec.md §4.3: "Route plugin chain is appended after upstream chain").
type Entry struct {
	Instance Instance
	Layer    Layer
	// Index is the position within Layer's declared list, used only to
	// keep the sort stable; it carries no semantic weight of its own.
	Index int
	// Config is this attachment's own configuration (spec.md §4.3 PluginRef),
	// set into RequestContext.Config immediately before Invoke so the same
	// Instance can be attached at multiple layers with different settings.
	Config map[string]any
}

// Layer distinguishes where in the hierarchy a plugin attachment came
// from, used purely to order the merged chain.
type Layer int

const (
	LayerUpstream Layer = iota
	LayerRoute
)

// BuildRequestChain returns entries ordered for PhaseOnRequest: upstream
// entries before route entries, each group in its declared order.
func BuildRequestChain(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	stableSortEntries(out, false)
	return out
}

// BuildResponseChain returns entries ordered for PhaseOnResponse/
// PhaseOnError: the reverse of the request order (spec.md §4.4).
func BuildResponseChain(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	stableSortEntries(out, true)
	return out
}

func stableSortEntries(entries []Entry, reverse bool) {
	// Insertion sort: chains are short (single digits to low tens of
	// plugins per route), so O(n^2) is irrelevant here and keeps the
	// comparator trivial to reason about, the same call the teacher
	// makes by relying on sort.Stable over a small StagedFilterList.
	less := func(a, b Entry) bool {
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		return a.Index < b.Index
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(entries[j], entries[j-1]); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
}

// FilterByKind returns the sub-slice of entries whose Instance.Kind()
// matches kind, preserving order.
func FilterByKind(entries []Entry, kind Kind) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Instance.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}
