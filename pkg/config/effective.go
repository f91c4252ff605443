package config

import "github.com/outbound-gateway/oagw/internal/oagw/model"

// ResolveAuth applies the auth row of the sharing-mode table (spec.md
// §4.3): private is local to its own tenant only, inherit lets a
// descendant override silence, and enforce locks the ancestor's choice
// for every tenant below it. This is exactly Resolve/ResolveScoped's
// general shape, so auth has no dedicated combination logic.
func ResolveAuth(layers []Layer[model.AuthSpec], ownerTenant []string, viewerTenant string) (model.AuthSpec, bool) {
	return ResolveScoped(layers, ownerTenant, viewerTenant)
}

// ResolveRateLimit applies the rate-limit row of the sharing-mode table
// (spec.md §4.3, §4.6): private is descendant-only and ignores
// ancestors entirely; every other mode folds into the minimum sustained
// rate across the whole visible chain, so an enforcing ancestor bounds
// every descendant even when alias resolution shadows it (spec.md
// §4.1's "ancestors contributing enforced policy fields are retained
// for merge", §4.6 "effective rate is the minimum ... even when the
// winner shadows ancestors by alias").
func ResolveRateLimit(layers []Layer[model.RateLimitSpec], ownerTenant []string, viewerTenant string) (model.RateLimitSpec, bool) {
	n := len(layers)
	if n == 0 {
		return model.RateLimitSpec{}, false
	}
	if last := layers[n-1]; last.Present && last.Sharing == model.SharingPrivate {
		return last.Value, true
	}

	var effective model.RateLimitSpec
	present := false
	for i, l := range layers {
		if !l.Present {
			continue
		}
		if l.Sharing == model.SharingPrivate && ownerTenant[i] != viewerTenant {
			continue
		}
		if !present || l.Value.RatePerSecond() < effective.RatePerSecond() {
			effective = l.Value
			present = true
		}
	}
	return effective, present
}

// MergeCORS applies the CORS row of the sharing-mode table (spec.md
// §4.3): private is descendant-only; otherwise origin/method/header
// allowlists union across the chain (a caller anywhere in the
// hierarchy may add an origin), booleans and max-age take the
// stricter value, and any enforce layer additionally intersects the
// allowlists so a descendant may only narrow what an enforcing
// ancestor already granted, never widen it.
func MergeCORS(layers []Layer[model.CORSSpec], ownerTenant []string, viewerTenant string) (model.CORSSpec, bool) {
	n := len(layers)
	if n == 0 {
		return model.CORSSpec{}, false
	}
	if last := layers[n-1]; last.Present && last.Sharing == model.SharingPrivate {
		return last.Value, true
	}

	var eff model.CORSSpec
	present, credsSet, ageSet := false, false, false
	for i, l := range layers {
		if !l.Present {
			continue
		}
		if l.Sharing == model.SharingPrivate && ownerTenant[i] != viewerTenant {
			continue
		}
		if !present {
			eff = l.Value
			present = true
		} else {
			eff.AllowOrigins = unionStrings(eff.AllowOrigins, l.Value.AllowOrigins)
			eff.AllowMethods = unionStrings(eff.AllowMethods, l.Value.AllowMethods)
			eff.AllowHeaders = unionStrings(eff.AllowHeaders, l.Value.AllowHeaders)
		}
		if !credsSet {
			eff.AllowCredentials, credsSet = l.Value.AllowCredentials, true
		} else {
			eff.AllowCredentials = eff.AllowCredentials && l.Value.AllowCredentials
		}
		if !ageSet {
			eff.MaxAge, ageSet = l.Value.MaxAge, true
		} else if l.Value.MaxAge < eff.MaxAge {
			eff.MaxAge = l.Value.MaxAge
		}
	}
	// Enforce layers bound the final union, so origins/methods/headers
	// added by layers below an enforcing ancestor are dropped.
	for _, l := range layers {
		if l.Present && l.Sharing == model.SharingEnforce {
			eff.AllowOrigins = intersectStrings(eff.AllowOrigins, l.Value.AllowOrigins)
			eff.AllowMethods = intersectStrings(eff.AllowMethods, l.Value.AllowMethods)
			eff.AllowHeaders = intersectStrings(eff.AllowHeaders, l.Value.AllowHeaders)
		}
	}
	return eff, present
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func intersectStrings(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	for _, s := range a {
		if inB[s] {
			out = append(out, s)
		}
	}
	return out
}
