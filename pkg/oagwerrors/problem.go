package oagwerrors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorSourceHeader is carried on every gateway response (spec.md §6.3).
const ErrorSourceHeader = "X-OAGW-Error-Source"

const (
	SourceGateway = "gateway"
	SourceUpstream = "upstream"
)

// Problem is the application/problem+json document emitted for every
// gateway-originated error (spec.md §4.9, RFC 9457).
type Problem struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"-"`
}

// MarshalJSON flattens Extensions alongside the fixed RFC 9457 members.
func (p Problem) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"type":   p.Type,
		"title":  p.Title,
		"status": p.Status,
	}
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	if p.Instance != "" {
		out["instance"] = p.Instance
	}
	if p.TraceID != "" {
		out["trace_id"] = p.TraceID
	}
	for k, v := range p.Extensions {
		out[k] = v
	}
	return json.Marshal(out)
}

// ToProblem renders e as an RFC 9457 problem document.
func (e *Error) ToProblem() Problem {
	return Problem{
		Type:       e.Kind.TypeURI(),
		Title:      registry[e.Kind].title,
		Status:     e.Kind.Status(),
		Detail:     e.Detail,
		Instance:   e.Instance,
		TraceID:    e.TraceID,
		Extensions: e.Extensions,
	}
}

// WriteResponse serializes e as application/problem+json onto w, setting
// the status line, error-source header, and Retry-After where the kind
// defines one (spec.md §6.3, §4.6, §4.9).
func (e *Error) WriteResponse(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set(ErrorSourceHeader, SourceGateway)
	if retryAfterSeconds > 0 && (e.Kind == KindRateLimitExceeded || e.Kind.Status() == http.StatusServiceUnavailable) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	w.WriteHeader(e.Kind.Status())
	_ = json.NewEncoder(w).Encode(e.ToProblem())
}
