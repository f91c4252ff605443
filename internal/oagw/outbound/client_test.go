package outbound

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

func TestValidateBody_RejectsAmbiguousFraming(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "10")
	h.Set("Transfer-Encoding", "chunked")
	err := validateBody(h, 10)
	require.Error(t, err)
	_, ok := oagwerrors.As(err, oagwerrors.KindProtocolError)
	assert.True(t, ok)
}

func TestValidateBody_RejectsInvalidContentLength(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "not-a-number")
	err := validateBody(h, 0)
	require.Error(t, err)
}

func TestValidateBody_RejectsNonChunkedTransferEncoding(t *testing.T) {
	h := http.Header{}
	h.Set("Transfer-Encoding", "gzip")
	err := validateBody(h, 0)
	require.Error(t, err)
}

func TestValidateBody_RejectsOversizedBody(t *testing.T) {
	err := validateBody(http.Header{}, MaxBodyBytes+1)
	require.Error(t, err)
	_, ok := oagwerrors.As(err, oagwerrors.KindPayloadTooLarge)
	assert.True(t, ok)
}

func TestValidateBody_AllowsWellFormedRequest(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "5")
	err := validateBody(h, 5)
	assert.NoError(t, err)
}

func TestSanitizeHeader_StripsHopByHopAndSteeringHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Connection", "keep-alive")
	in.Set("X-OAGW-Target-Host", "internal.example.com")
	in.Set("X-Custom", "value")

	out, err := sanitizeHeader(in, model.Endpoint{Host: "api.example.com"})
	require.NoError(t, err)
	assert.Empty(t, out.Get("Connection"))
	assert.Empty(t, out.Get("X-OAGW-Target-Host"))
	assert.Equal(t, "value", out.Get("X-Custom"))
	assert.Equal(t, "api.example.com", out.Get("Host"))
}

func TestSanitizeHeader_RejectsMultipleHostHeaders(t *testing.T) {
	in := http.Header{"Host": {"a.example.com", "b.example.com"}}
	_, err := sanitizeHeader(in, model.Endpoint{Host: "api.example.com"})
	require.Error(t, err)
}

func TestSanitizeHeader_RejectsInvalidHeaderValue(t *testing.T) {
	in := http.Header{"X-Bad": {"line1\r\nline2"}}
	_, err := sanitizeHeader(in, model.Endpoint{Host: "api.example.com"})
	require.Error(t, err)
}

func TestNew_H2TransportNegotiatesHTTP2ViaALPN(t *testing.T) {
	c := New(DefaultTimeouts)
	assert.NotEmpty(t, c.h2.TLSNextProto, "http2.ConfigureTransport must register h2 on the ALPN-capable transport")
	assert.Contains(t, c.h2.TLSClientConfig.NextProtos, "h2")
}

func TestNew_HTTP1TransportNeverOffersHTTP2(t *testing.T) {
	c := New(DefaultTimeouts)
	assert.Empty(t, c.http1.TLSNextProto, "the http1-only transport must not be upgradeable to h2")
	assert.NotContains(t, c.http1.TLSClientConfig.NextProtos, "h2")
}

func TestTransportFor_PlainHTTPAlwaysUsesHTTP1(t *testing.T) {
	c := New(DefaultTimeouts)
	ep := model.Endpoint{Scheme: "http", Host: "example.com", Port: 80}
	assert.Same(t, c.http1, c.transportFor(ep))
}

func TestTransportFor_HTTPSPrefersH2UntilNegotiationFails(t *testing.T) {
	c := New(DefaultTimeouts)
	ep := model.Endpoint{Scheme: "https", Host: "example.com", Port: 443}
	assert.Same(t, c.h2, c.transportFor(ep))

	c.negotiation.markHTTP1Only(ep)
	assert.Same(t, c.http1, c.transportFor(ep))
}
