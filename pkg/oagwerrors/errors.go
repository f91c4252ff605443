// Package oagwerrors defines the gateway's error taxonomy (spec.md §7)
// and its RFC 9457 problem-document representation (spec.md §4.9). Every
// gateway-originated failure that crosses a request boundary is an *Error
// constructed through one of the New<Kind> helpers, which fixes its type
// URI, HTTP status, and retriability in one place.
package oagwerrors

import (
	"fmt"
	"net/http"
)

// Kind enumerates the closed set of gateway error kinds from spec.md §7.
type Kind string

const (
	KindValidationError          Kind = "validation_error"
	KindMissingTargetHost        Kind = "missing_target_host"
	KindInvalidTargetHost        Kind = "invalid_target_host"
	KindUnknownTargetHost        Kind = "unknown_target_host"
	KindRouteNotFound             Kind = "route_not_found"
	KindUpstreamNotFound         Kind = "upstream_not_found"
	KindUpstreamDisabled         Kind = "upstream_disabled"
	KindAuthenticationFailed     Kind = "authentication_failed"
	KindPayloadTooLarge          Kind = "payload_too_large"
	KindRateLimitExceeded        Kind = "rate_limit_exceeded"
	KindConcurrencyLimitExceeded Kind = "concurrency_limit_exceeded"
	KindQueueTimeout             Kind = "queue_timeout"
	KindQueueFull                Kind = "queue_full"
	KindQueueMemoryLimit         Kind = "queue_memory_limit"
	KindCircuitBreakerOpen       Kind = "circuit_breaker_open"
	KindConnectionTimeout        Kind = "connection_timeout"
	KindRequestTimeout           Kind = "request_timeout"
	KindIdleTimeout              Kind = "idle_timeout"
	KindProtocolError            Kind = "protocol_error"
	KindSecretNotFound           Kind = "secret_not_found"
	KindPluginNotFound           Kind = "plugin_not_found"
	KindPluginInUse              Kind = "plugin_in_use"
	KindStreamAborted            Kind = "stream_aborted"
)

type kindInfo struct {
	status    int
	title     string
	retriable bool
}

var registry = map[Kind]kindInfo{
	KindValidationError:          {http.StatusBadRequest, "Validation failed", false},
	KindMissingTargetHost:        {http.StatusBadRequest, "Missing target host", false},
	KindInvalidTargetHost:        {http.StatusBadRequest, "Invalid target host", false},
	KindUnknownTargetHost:        {http.StatusBadRequest, "Unknown target host", false},
	KindRouteNotFound:             {http.StatusNotFound, "Route not found", false},
	KindUpstreamNotFound:         {http.StatusNotFound, "Upstream not found", false},
	KindUpstreamDisabled:         {http.StatusServiceUnavailable, "Upstream disabled", false},
	KindAuthenticationFailed:     {http.StatusUnauthorized, "Authentication failed", false},
	KindPayloadTooLarge:          {http.StatusRequestEntityTooLarge, "Payload too large", false},
	KindRateLimitExceeded:        {http.StatusTooManyRequests, "Rate limit exceeded", true},
	KindConcurrencyLimitExceeded: {http.StatusServiceUnavailable, "Concurrency limit exceeded", true},
	KindQueueTimeout:             {http.StatusServiceUnavailable, "Queue wait timed out", true},
	KindQueueFull:                {http.StatusServiceUnavailable, "Queue full", true},
	KindQueueMemoryLimit:         {http.StatusServiceUnavailable, "Queue memory limit exceeded", true},
	KindCircuitBreakerOpen:       {http.StatusServiceUnavailable, "Circuit breaker open", true},
	KindConnectionTimeout:        {http.StatusGatewayTimeout, "Connection timed out", true},
	KindRequestTimeout:           {http.StatusGatewayTimeout, "Request timed out", true},
	KindIdleTimeout:              {http.StatusGatewayTimeout, "Idle timeout", true},
	KindProtocolError:            {http.StatusBadGateway, "Protocol error", false},
	KindSecretNotFound:           {http.StatusInternalServerError, "Secret not found", false},
	KindPluginNotFound:           {http.StatusServiceUnavailable, "Plugin not found", false},
	KindPluginInUse:              {http.StatusConflict, "Plugin in use", false},
	KindStreamAborted:            {http.StatusBadGateway, "Stream aborted", false},
}

// TypeURI returns the stable RFC 9457 "type" member for a kind, e.g.
// "https://oagw.dev/problems/missing_target_host.v1".
func (k Kind) TypeURI() string {
	return "https://oagw.dev/problems/" + string(k) + ".v1"
}

// Status returns the HTTP status code mapped to k.
func (k Kind) Status() int {
	if info, ok := registry[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Retriable reports whether spec.md §7 marks k as retriable by the
// caller. The gateway itself never retries regardless of this flag.
func (k Kind) Retriable() bool {
	return registry[k].retriable
}

// Error is a gateway-originated failure. It carries enough information to
// render an RFC 9457 problem document and to drive response headers
// (Retry-After, X-OAGW-Error-Source) without re-deriving them downstream.
type Error struct {
	Kind       Kind
	Detail     string
	Instance   string
	TraceID    string
	Extensions map[string]any
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a gateway error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs a gateway error that preserves an underlying cause for
// logs while keeping the detail surfaced to callers free of internal
// specifics (spec.md §7: "internal cause detail is logged, not returned").
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// WithExtension attaches a domain extension field to the problem document,
// e.g. "valid_hosts" on MissingTargetHost or "referenced_by" on PluginInUse.
func (e *Error) WithExtension(key string, value any) *Error {
	if e.Extensions == nil {
		e.Extensions = make(map[string]any)
	}
	e.Extensions[key] = value
	return e
}

// WithInstance sets the RFC 9457 "instance" URI (the request path).
func (e *Error) WithInstance(instance string) *Error {
	e.Instance = instance
	return e
}

// WithTraceID sets the trace id surfaced in the problem document.
func (e *Error) WithTraceID(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// As reports whether err (or something it wraps) is an *Error of kind k.
func As(err error, kind Kind) (*Error, bool) {
	var gwErr *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			gwErr = e
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if gwErr == nil || gwErr.Kind != kind {
		return nil, false
	}
	return gwErr, true
}
