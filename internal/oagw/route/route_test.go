package route_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/internal/oagw/route"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

func httpRoute(path string, methods []string, priority int, created time.Time) *model.Route {
	return &model.Route{
		HTTP: &model.HTTPMatch{
			Methods: methods,
			Path:    path,
		},
		Priority:  priority,
		Enabled:   true,
		CreatedAt: created,
	}
}

func TestSelect_NoCandidates(t *testing.T) {
	_, err := route.Select(nil, "GET", "/v1/chat", url.Values{})
	require.Error(t, err)
	gwErr, ok := oagwerrors.As(err, oagwerrors.KindRouteNotFound)
	require.True(t, ok)
	assert.Equal(t, oagwerrors.KindRouteNotFound, gwErr.Kind)
}

func TestSelect_DisabledRoutesAreIgnored(t *testing.T) {
	rt := httpRoute("/v1/chat", nil, 0, time.Now())
	rt.Enabled = false
	_, err := route.Select([]*model.Route{rt}, "GET", "/v1/chat", url.Values{})
	require.Error(t, err)
}

func TestSelect_MethodMismatch(t *testing.T) {
	rt := httpRoute("/v1/chat", []string{"POST"}, 0, time.Now())
	_, err := route.Select([]*model.Route{rt}, "GET", "/v1/chat", url.Values{})
	require.Error(t, err)
}

func TestSelect_MethodCaseInsensitive(t *testing.T) {
	rt := httpRoute("/v1/chat", []string{"post"}, 0, time.Now())
	m, err := route.Select([]*model.Route{rt}, "POST", "/v1/chat", url.Values{})
	require.NoError(t, err)
	assert.Same(t, rt, m.Route)
}

func TestSelect_NoMethodsMeansUnrestricted(t *testing.T) {
	rt := httpRoute("/v1/chat", nil, 0, time.Now())
	_, err := route.Select([]*model.Route{rt}, "DELETE", "/v1/chat", url.Values{})
	require.NoError(t, err)
}

func TestSelect_PrefixMatchAndSuffix(t *testing.T) {
	rt := httpRoute("/v1/chat", nil, 0, time.Now())
	m, err := route.Select([]*model.Route{rt}, "GET", "/v1/chat/completions", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "/completions", m.Suffix)
}

func TestSelect_HigherPriorityWins(t *testing.T) {
	low := httpRoute("/v1", nil, 0, time.Now())
	high := httpRoute("/v1", nil, 10, time.Now())
	m, err := route.Select([]*model.Route{low, high}, "GET", "/v1/chat", url.Values{})
	require.NoError(t, err)
	assert.Same(t, high, m.Route)
}

func TestSelect_LongerPathWinsOnTiePriority(t *testing.T) {
	short := httpRoute("/v1", nil, 0, time.Now())
	long := httpRoute("/v1/chat", nil, 0, time.Now())
	m, err := route.Select([]*model.Route{short, long}, "GET", "/v1/chat", url.Values{})
	require.NoError(t, err)
	assert.Same(t, long, m.Route)
}

func TestSelect_OlderWinsOnFullTie(t *testing.T) {
	older := httpRoute("/v1", nil, 0, time.Now().Add(-time.Hour))
	newer := httpRoute("/v1", nil, 0, time.Now())
	m, err := route.Select([]*model.Route{newer, older}, "GET", "/v1/chat", url.Values{})
	require.NoError(t, err)
	assert.Same(t, older, m.Route)
}

func TestSelect_QueryAllowlist(t *testing.T) {
	rt := httpRoute("/v1/chat", nil, 0, time.Now())
	rt.HTTP.QueryAllowlist = []string{"stream"}

	_, err := route.Select([]*model.Route{rt}, "GET", "/v1/chat", url.Values{"stream": {"true"}})
	require.NoError(t, err)

	_, err = route.Select([]*model.Route{rt}, "GET", "/v1/chat", url.Values{"debug": {"1"}})
	require.Error(t, err)
	gwErr, ok := oagwerrors.As(err, oagwerrors.KindValidationError)
	require.True(t, ok)
	assert.Equal(t, "debug", gwErr.Extensions["query_key"])
}

func TestSelect_SuffixDisabledRejectsExtraPath(t *testing.T) {
	rt := httpRoute("/v1/chat", nil, 0, time.Now())
	rt.HTTP.PathSuffixMode = model.SuffixDisabled

	_, err := route.Select([]*model.Route{rt}, "GET", "/v1/chat/extra", url.Values{})
	require.Error(t, err)

	_, err = route.Select([]*model.Route{rt}, "GET", "/v1/chat", url.Values{})
	require.NoError(t, err)
}

func TestSelect_GRPCRoutesAreIgnoredByHTTPMatch(t *testing.T) {
	rt := &model.Route{
		GRPC:      &model.GRPCMatch{Service: "svc", Method: "m"},
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	_, err := route.Select([]*model.Route{rt}, "GET", "/v1/chat", url.Values{})
	require.Error(t, err)
}
