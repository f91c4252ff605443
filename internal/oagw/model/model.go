// Package model defines the gateway's tenant-scoped entities (spec.md
// §3): Upstream, Route, PluginDefinition, and the sharing-mode values
// used by the hierarchical configuration merge (§4.3).
package model

import (
	"time"

	"github.com/outbound-gateway/oagw/pkg/ids"
)

// Sharing is the per-field overlay mode a binding declares for the
// hierarchical merge (spec.md §4.3).
type Sharing string

const (
	SharingPrivate Sharing = "private"
	SharingInherit Sharing = "inherit"
	SharingEnforce Sharing = "enforce"
)

// RateLimitAlgorithm selects the limiter implementation (spec.md §4.6).
type RateLimitAlgorithm string

const (
	AlgorithmTokenBucket   RateLimitAlgorithm = "token_bucket"
	AlgorithmSlidingWindow RateLimitAlgorithm = "sliding_window"
)

// WindowUnit is the refill-rate time base (spec.md §4.6).
type WindowUnit string

const (
	WindowSecond WindowUnit = "s"
	WindowMinute WindowUnit = "min"
	WindowHour   WindowUnit = "h"
	WindowDay    WindowUnit = "d"
)

func (w WindowUnit) Duration() time.Duration {
	switch w {
	case WindowSecond:
		return time.Second
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// RateLimitSpec is a single rate-limit binding (spec.md §4.6).
type RateLimitSpec struct {
	Sharing  Sharing
	Rate     float64 // sustained refill rate, in tokens per Window
	Window   WindowUnit
	Burst    float64 // burst capacity; zero means "defaults to Rate"
	Cost     float64 // per-request cost; zero means "defaults to 1"
	Algorithm RateLimitAlgorithm
}

// EffectiveBurst returns Burst, defaulting to Rate when unset.
func (r RateLimitSpec) EffectiveBurst() float64 {
	if r.Burst <= 0 {
		return r.Rate
	}
	return r.Burst
}

// EffectiveCost returns Cost, defaulting to 1 when unset.
func (r RateLimitSpec) EffectiveCost() float64 {
	if r.Cost <= 0 {
		return 1
	}
	return r.Cost
}

// RatePerSecond converts Rate/Window into a tokens-per-second figure for
// use with golang.org/x/time/rate.
func (r RateLimitSpec) RatePerSecond() float64 {
	return r.Rate / r.Window.Duration().Seconds()
}

// ConcurrencyStrategy selects saturation behavior (spec.md §4.7).
type ConcurrencyStrategy string

const (
	StrategyReject  ConcurrencyStrategy = "reject"
	StrategyQueue   ConcurrencyStrategy = "queue"
	StrategyDegrade ConcurrencyStrategy = "degrade"
)

// ConcurrencySpec bounds in-flight work at a scope (spec.md §4.7).
type ConcurrencySpec struct {
	MaxConcurrent int
	Strategy      ConcurrencyStrategy
	QueueDepth    int
	QueueMemory   int64
	QueueDeadline time.Duration
	PriorityQueue bool
	// DegradeUpstreamAlias / DegradeStatus / DegradeBody apply only when
	// Strategy == StrategyDegrade.
	DegradeUpstreamAlias string
	DegradeStatus        int
	DegradeBody           []byte
}

// CORSSpec is the per-layer CORS overlay (spec.md §4.3).
type CORSSpec struct {
	Sharing          Sharing
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// AuthSpec names the attached auth plugin binding (spec.md §4.3: auth is
// "enforce"/"inherit" at the field level, but always exactly one plugin).
type AuthSpec struct {
	Sharing  Sharing
	PluginID string // builtin name or "plg~<uuid>"
	Config   map[string]any
}

// PluginRef attaches a plugin to an upstream or route, in declared order.
type PluginRef struct {
	PluginID string
	Sharing  Sharing
	Config   map[string]any
}

// Endpoint is one concrete destination within an upstream pool (spec.md §3).
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

// Upstream is the tenant-scoped destination definition (spec.md §3).
type Upstream struct {
	ID        ids.ID
	Tenant    string
	Alias     string
	Endpoints []Endpoint
	Protocol  string // "http" or "grpc"

	Auth        AuthSpec
	RateLimit   RateLimitSpec
	Concurrency ConcurrencySpec // not part of the hierarchical merge (spec.md §4.3); declared directly per upstream
	Plugins     []PluginRef
	CORS        CORSSpec
	Tags        map[string]Sharing // tag -> sharing mode for this binding
	TagValues   []string

	Enabled bool
	Version uint64
}

// HTTPMatch is the HTTP-protocol route match (spec.md §4.2).
type HTTPMatch struct {
	Methods          []string
	Path             string
	QueryAllowlist   []string
	PathSuffixMode   PathSuffixMode
}

type PathSuffixMode string

const (
	SuffixAllowed  PathSuffixMode = "allowed"
	SuffixDisabled PathSuffixMode = "disabled"
)

// GRPCMatch is the gRPC-protocol route match (spec.md §4.2).
type GRPCMatch struct {
	Service string
	Method  string
}

// Route is a dispatch rule bound to an upstream (spec.md §3).
type Route struct {
	ID         ids.ID
	Tenant     string
	UpstreamID ids.ID

	HTTP *HTTPMatch
	GRPC *GRPCMatch

	Plugins   []PluginRef
	RateLimit RateLimitSpec
	Priority  int
	Enabled   bool
	CreatedAt time.Time
	Version   uint64
}

// IsHTTP reports whether the route has an HTTP match (spec.md §3 invariant:
// exactly one of {http, grpc} is set).
func (r Route) IsHTTP() bool { return r.HTTP != nil }

// PluginKind mirrors pluginsdk.Kind without importing pluginsdk, keeping
// model free of the plugin execution surface.
type PluginKind string

const (
	PluginKindAuth      PluginKind = "auth"
	PluginKindGuard     PluginKind = "guard"
	PluginKindTransform PluginKind = "transform"
)

// PluginDefinition is an attachable plugin (spec.md §3).
type PluginDefinition struct {
	ID     ids.ID
	Tenant string
	Kind   PluginKind

	ConfigSchema string // schema registry identifier
	Script       string // non-empty for custom plugins; CEL source
	Phases       []string

	LastUsed      time.Time
	GCEligibleTTL time.Duration
}

// GCEligibleAt computes when an unreferenced plugin becomes eligible for
// GC (spec.md §3 lifecycle). Nothing in this module sweeps or deletes
// plugins once they become eligible.
func (p PluginDefinition) GCEligibleAt() time.Time {
	return p.LastUsed.Add(p.GCEligibleTTL)
}

// IsCustom reports whether the plugin runs user script rather than a
// built-in identifier.
func (p PluginDefinition) IsCustom() bool { return p.Script != "" }
