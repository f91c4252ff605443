// Package audit implements the structured, stdout audit log (spec.md
// §6.4): one entry per request, free of bodies, secret material, and
// non-allowlisted headers.
package audit

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/outbound-gateway/oagw/pkg/logging"
)

// Entry is the fixed audit record shape spec.md §6.4 requires.
type Entry struct {
	Timestamp   time.Time
	Tenant      string
	Principal   string
	Host        string
	Path        string // normalized to the route's declared pattern
	Method      string
	Status      int
	DurationMS  int64
	BytesIn     int64
	BytesOut    int64
	ErrorType   string // empty when the request succeeded
}

// Logger emits Entry values as structured log lines.
type Logger struct {
	log logr.Logger
}

func New() *Logger {
	return &Logger{log: logging.New("audit")}
}

func (l *Logger) Log(e Entry) {
	kvs := []any{
		"timestamp", e.Timestamp.Format(time.RFC3339Nano),
		"tenant", e.Tenant,
		"principal", e.Principal,
		"host", e.Host,
		"path", e.Path,
		"method", e.Method,
		"status", e.Status,
		"duration_ms", e.DurationMS,
		"bytes_in", e.BytesIn,
		"bytes_out", e.BytesOut,
	}
	if e.ErrorType != "" {
		kvs = append(kvs, "error_type", e.ErrorType)
	}
	l.log.Info("request", kvs...)
}
