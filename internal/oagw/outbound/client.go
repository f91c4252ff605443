// Package outbound implements the shared egress HTTP client (spec.md
// §4.5): per-(scheme,host,port) connection pooling, adaptive HTTP/2
// negotiation with a fallback cache, distinct connect/request/idle
// timeouts, strict header hygiene, and lazy streaming response
// forwarding. It never retries.
package outbound

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/http2"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// hopByHop is the set of headers stripped before dispatch (spec.md §4.5),
// alongside the steering header resolver.TargetHostHeader.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// MaxBodyBytes is the hard cap enforced before buffering a request body
// (spec.md §4.5: "enforce a 100 MiB cap before buffering").
const MaxBodyBytes = 100 << 20

// Timeouts bundles the three distinct timeout classes of spec.md §4.5.
// Connect bounds dialing and Request bounds the whole round trip; Do
// reports a Request expiry as RequestTimeout and every other dispatch
// failure, a Connect expiry included, as ConnectionTimeout. Idle only
// bounds how long pooled connections stay open and yields no error.
type Timeouts struct {
	Connect time.Duration
	Request time.Duration
	Idle    time.Duration
}

// DefaultTimeouts mirrors conservative egress-proxy defaults.
var DefaultTimeouts = Timeouts{
	Connect: 10 * time.Second,
	Request: 60 * time.Second,
	Idle:    90 * time.Second,
}

// Client is the shared outbound HTTP client. One Client instance is
// shared process-wide; transports are keyed internally by
// (scheme,host,port) through Go's own connection pool, and
// negotiationCache additionally remembers HTTP/2-incapable endpoints.
type Client struct {
	timeouts    Timeouts
	http1       *http.Transport // ALPN restricted to http/1.1, h2 upgrade disabled
	h2          *http.Transport // ALPN offers h2 first, falls back to http/1.1
	negotiation *negotiationCache
}

// New constructs a Client with two pools sharing the same dialer and
// idle-timeout policy: h2 offers h2 over ALPN (falling back to
// http/1.1 within the same handshake when the server doesn't speak
// h2), and http1 never offers h2 at all. transportFor picks between
// them per endpoint using the negotiation cache, so a previously
// failed endpoint skips the h2 attempt entirely rather than ALPN
// failure being rediscovered on every call.
func New(timeouts Timeouts) *Client {
	dial := (&net.Dialer{Timeout: timeouts.Connect}).DialContext

	h2 := &http.Transport{
		Proxy:                 nil,
		DialContext:           dial,
		IdleConnTimeout:       timeouts.Idle,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{NextProtos: []string{"h2", "http/1.1"}},
	}
	if err := http2.ConfigureTransport(h2); err != nil {
		// ConfigureTransport only fails on a Transport already carrying an
		// incompatible TLSNextProto map, which New never constructs; treat
		// it as http/1.1-only defensively rather than panic.
		h2.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	http1 := &http.Transport{
		Proxy:                 nil,
		DialContext:           dial,
		IdleConnTimeout:       timeouts.Idle,
		ForceAttemptHTTP2:     false,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{NextProtos: []string{"http/1.1"}},
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
	}

	return &Client{
		timeouts:    timeouts,
		http1:       http1,
		h2:          h2,
		negotiation: newNegotiationCache(time.Hour),
	}
}

// Request is the normalized outbound call description the data-plane
// pipeline builds once route matching and plugin transforms complete.
type Request struct {
	Method   string
	Endpoint model.Endpoint
	Path     string // already includes any route/transform-mutated suffix
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser // nil for bodyless methods
	BodySize int64         // -1 when unknown (chunked)
}

// Do dispatches req, applying header hygiene, then returns the raw
// upstream response for the caller (internal/oagw/dpp) to stream back.
// The caller is responsible for closing resp.Body.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	if err := validateBody(req.Header, req.BodySize); err != nil {
		return nil, err
	}
	header, err := sanitizeHeader(req.Header, req.Endpoint)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s://%s:%d%s", req.Endpoint.Scheme, req.Endpoint.Host, req.Endpoint.Port, req.Path)
	if req.RawQuery != "" {
		url += "?" + req.RawQuery
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Request)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, req.Body)
	if err != nil {
		cancel()
		return nil, oagwerrors.Wrap(oagwerrors.KindProtocolError, "building outbound request", err)
	}
	httpReq.Header = header
	httpReq.Host = req.Endpoint.Host
	if req.BodySize >= 0 {
		httpReq.ContentLength = req.BodySize
	}

	transport := c.transportFor(req.Endpoint)
	resp, err := transport.RoundTrip(httpReq)
	if err != nil {
		cancel()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, oagwerrors.New(oagwerrors.KindRequestTimeout, "outbound request timed out")
		}
		if req.Endpoint.Scheme == "https" {
			c.negotiation.markHTTP1Only(req.Endpoint)
		}
		return nil, oagwerrors.Wrap(oagwerrors.KindConnectionTimeout, "connecting to upstream", err)
	}
	// cancel is intentionally not deferred: it must outlive Do while the
	// caller streams resp.Body, so wrap the body to release it on Close.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// transportFor returns the HTTP/1.1 transport for endpoints the
// negotiation cache has marked incapable of HTTP/2, or otherwise the
// HTTP/2-with-ALPN-fallback transport (spec.md §4.5: "attempt HTTP/2
// via ALPN; on negotiation failure cache 'HTTP/1.1 only' ... TTL one
// hour; never retry the originating request" — the fallback therefore
// only benefits the *next* call to the same endpoint).
func (c *Client) transportFor(ep model.Endpoint) http.RoundTripper {
	if ep.Scheme != "https" || c.negotiation.isHTTP1Only(ep) {
		return c.http1
	}
	return c.h2
}

func validateBody(header http.Header, size int64) error {
	cl := header.Get("Content-Length")
	te := header.Get("Transfer-Encoding")
	if cl != "" && te != "" {
		return oagwerrors.New(oagwerrors.KindProtocolError, "ambiguous Content-Length and Transfer-Encoding")
	}
	if cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return oagwerrors.New(oagwerrors.KindProtocolError, "invalid Content-Length")
		}
	}
	if te != "" && !strings.EqualFold(te, "chunked") {
		return oagwerrors.New(oagwerrors.KindProtocolError, "only chunked transfer-encoding is accepted")
	}
	if size > MaxBodyBytes {
		return oagwerrors.New(oagwerrors.KindPayloadTooLarge, "request body exceeds the 100 MiB cap")
	}
	return nil
}

func sanitizeHeader(in http.Header, ep model.Endpoint) (http.Header, error) {
	out := make(http.Header, len(in))
	hostCount := 0
	for name, values := range in {
		if hopByHop[http.CanonicalHeaderKey(name)] {
			continue
		}
		if strings.EqualFold(name, "X-OAGW-Target-Host") {
			continue
		}
		if strings.EqualFold(name, "Host") {
			hostCount++
			continue
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, oagwerrors.New(oagwerrors.KindProtocolError, "header value contains invalid characters")
			}
			out.Add(name, v)
		}
	}
	if hostCount > 1 {
		return nil, oagwerrors.New(oagwerrors.KindProtocolError, "multiple Host headers")
	}
	out.Set("Host", ep.Host)
	return out, nil
}

// cancelOnClose cancels the request's context when the response body is
// closed, releasing outbound resources promptly on either normal
// completion or downstream disconnect (spec.md §4.5, §5 cancellation).
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)
	return err
}
