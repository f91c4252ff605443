// Package pluginsdk defines the plugin kind sum type and the fixed
// per-request invocation surface shared by built-in and custom plugins
// (spec.md §4.4, §9 "dynamic dispatch over plugin kinds").
package pluginsdk

import "context"

// Kind is the closed set of plugin kinds (spec.md §3 Plugin definition).
type Kind string

const (
	KindAuth      Kind = "auth"
	KindGuard     Kind = "guard"
	KindTransform Kind = "transform"
)

// Phase is a point in the per-request pipeline at which a plugin may run
// (spec.md §4.4, §5 ordering guarantees).
type Phase string

const (
	PhaseOnRequest  Phase = "on_request"
	PhaseOnResponse Phase = "on_response"
	PhaseOnError    Phase = "on_error"
)

// Verdict is the result of invoking a plugin for one phase.
type Verdict struct {
	// Action selects what the pipeline does next.
	Action Action
	// Reject fields, set only when Action == ActionReject.
	RejectStatus int
	RejectType   string
	RejectDetail string
	// Respond fields, set only when Action == ActionRespond.
	RespondStatus int
	RespondBody   []byte
}

// Action is the control-flow outcome of a single plugin invocation.
type Action int

const (
	// ActionNext continues the chain (spec.md §4.4 ctx.next()).
	ActionNext Action = iota
	// ActionReject halts the chain with a guard rejection (ctx.reject()).
	ActionReject
	// ActionRespond short-circuits with a literal response (ctx.respond()).
	ActionRespond
)

func Next() Verdict { return Verdict{Action: ActionNext} }

func Reject(status int, typeID, detail string) Verdict {
	return Verdict{Action: ActionReject, RejectStatus: status, RejectType: typeID, RejectDetail: detail}
}

func Respond(status int, body []byte) Verdict {
	return Verdict{Action: ActionRespond, RespondStatus: status, RespondBody: body}
}

// Instance is the common invocation surface over the Auth/Guard/Transform
// sum type (spec.md §9: "a common invoke(phase, ctx) surface"). Built-ins
// implement it natively; the single custom variant wraps a sandboxed,
// compiled script (internal/oagw/sandbox).
type Instance interface {
	// ID is the plugin's stable identifier: a built-in name such as
	// "builtin:guard:regex", or a "plg~<uuid>" custom identifier.
	ID() string
	Kind() Kind
	// SupportedPhases reports which phases Invoke is ever called for.
	SupportedPhases() []Phase
	// Invoke runs the plugin for one phase against the supplied Context.
	// Auth plugins are only ever invoked at PhaseOnRequest and never see
	// the response (spec.md §4.4).
	Invoke(ctx context.Context, phase Phase, rc *RequestContext) (Verdict, error)
}

// HeaderMap is the capability-surface header accessor exposed to plugins
// (spec.md §4.4: "header map with get/set/add/remove/keys").
type HeaderMap interface {
	Get(name string) string
	Set(name, value string)
	Add(name, value string)
	Remove(name string)
	Keys() []string
}

// RequestContext is the per-request object plugins observe and mutate. It
// is a thin facade over internal/oagw/dpp's live request state so the
// pluginsdk package stays free of pipeline internals.
type RequestContext struct {
	TraceID   string
	Tenant    string
	Principal string

	Method      string
	Path        string
	Query       map[string][]string
	RequestHdr  HeaderMap
	ResponseHdr HeaderMap

	// StatusCode is set once a response exists (PhaseOnResponse/PhaseOnError).
	StatusCode int
	// Err is set only at PhaseOnError.
	Err error

	// Credential is written by the auth plugin and read by the outbound
	// dispatcher to materialize the Authorization header or equivalent.
	Credential string

	// Config is the plugin's own attached configuration, opaque to the
	// pipeline and interpreted only by the plugin instance.
	Config map[string]any

	// Elapsed returns time spent in the pipeline so far, exposed to
	// plugins that need it (spec.md §4.4 "elapsed time").
	Elapsed func() int64
}
