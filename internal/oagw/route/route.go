// Package route implements the HTTP route matcher (spec.md §4.2):
// selecting the winning route among an upstream's enabled routes for a
// given method, path, and query, and validating the chosen route's
// suffix and query-allowlist rules.
package route

import (
	"net/url"
	"sort"
	"strings"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// Match is the outcome of a successful route match: the winning route
// plus the path suffix beyond route.match.http.path, if any.
type Match struct {
	Route  *model.Route
	Suffix string
}

// Select implements spec.md §4.2 steps 1-5 against routes, which must
// all belong to the same upstream. Disabled and non-HTTP routes are
// skipped here, so the caller may pass the upstream's full route list.
func Select(routes []*model.Route, method, path string, query url.Values) (Match, error) {
	candidates := make([]*model.Route, 0, len(routes))
	for _, rt := range routes {
		if !rt.Enabled || !rt.IsHTTP() {
			continue
		}
		if !methodAllowed(rt.HTTP.Methods, method) {
			continue
		}
		if !strings.HasPrefix(path, rt.HTTP.Path) {
			continue
		}
		candidates = append(candidates, rt)
	}
	if len(candidates) == 0 {
		return Match{}, oagwerrors.New(oagwerrors.KindRouteNotFound, "no route matches method and path")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if la, lb := len(a.HTTP.Path), len(b.HTTP.Path); la != lb {
			return la > lb
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	winner := candidates[0]
	suffix := strings.TrimPrefix(path, winner.HTTP.Path)

	for key := range query {
		if !allowlisted(winner.HTTP.QueryAllowlist, key) {
			return Match{}, oagwerrors.New(oagwerrors.KindValidationError, "query parameter \""+key+"\" is not allowlisted for this route").
				WithExtension("query_key", key)
		}
	}

	if winner.HTTP.PathSuffixMode == model.SuffixDisabled && suffix != "" {
		return Match{}, oagwerrors.New(oagwerrors.KindRouteNotFound, "route does not allow a path suffix")
	}

	return Match{Route: winner, Suffix: suffix}, nil
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true // no restriction declared
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func allowlisted(allowlist []string, key string) bool {
	if len(allowlist) == 0 {
		return false
	}
	for _, k := range allowlist {
		if k == key {
			return true
		}
	}
	return false
}
