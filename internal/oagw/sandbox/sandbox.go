// Package sandbox implements the custom-plugin execution environment
// (spec.md §4.4): a sandboxed interpreter with no I/O, no dynamic
// imports, and a bounded per-evaluation cost, built on google/cel-go.
// CEL satisfies the capability-surface requirement directly: it has no
// side-effecting standard library, so "forbids arbitrary I/O, dynamic
// imports" falls out of the language rather than needing enforcement
// code, and cel.CostLimit gives the instruction/step budget spec.md
// asks for. This mirrors the teacher's own use of a package-level
// *cel.Env for expression validation (pkg/agentgateway/plugins/traffic_plugin.go),
// generalized here from "validate an expression" to "compile once,
// evaluate per phase, map the result onto a Verdict".
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
	"github.com/outbound-gateway/oagw/pkg/pluginsdk"
)

// DefaultCostLimit bounds the number of logical evaluation steps a
// single invocation may spend (spec.md §4.4: "unbounded loops (enforced
// by an instruction/step budget)"). CEL has no loop construct of its own
// outside comprehensions, so the cost limit is also the memory-budget
// proxy: comprehensions over large literals are the only way a script
// could attempt unbounded work, and cost accounting charges for each
// step of one.
const DefaultCostLimit = 10_000

var sharedEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("response", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("error_", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("config", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("elapsed_ms", cel.IntType),
		cel.Variable("phase", cel.StringType),
	)
	if err != nil {
		// A broken environment fails every Compile call loudly rather
		// than silently falling back, unlike the teacher's init() (which
		// tolerates celEnv == nil for its narrower validate-only use).
		panic(fmt.Sprintf("sandbox: building CEL environment: %v", err))
	}
	sharedEnv = env
}

// Program is a compiled custom-plugin script, safe for concurrent
// evaluation across requests (spec.md §2 "plugin instances are shared").
type Program struct {
	source string
	prg    cel.Program
}

// Compile parses and type-checks source once. The returned Program can
// be evaluated repeatedly with a bounded per-call cost.
func Compile(source string) (*Program, error) {
	ast, iss := sharedEnv.Compile(source)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("sandbox: compiling script: %w", iss.Err())
	}
	prg, err := sharedEnv.Program(ast, cel.CostLimit(DefaultCostLimit), cel.EvalOptions(cel.OptTrackCost))
	if err != nil {
		return nil, fmt.Errorf("sandbox: preparing program: %w", err)
	}
	return &Program{source: source, prg: prg}, nil
}

// Eval runs the script against the per-request capability surface
// under a per-phase deadline derived from the request deadline (spec.md
// §4.4: "bounded by a per-phase deadline derived from the request
// deadline").
func (p *Program) Eval(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext, deadline time.Duration) (ref.Val, error) {
	evalCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	vars := map[string]any{
		"request":    requestMap(rc),
		"response":   responseMap(rc),
		"error_":     errorMap(rc),
		"config":     rc.Config,
		"elapsed_ms": rc.Elapsed(),
		"phase":      string(phase),
	}

	type result struct {
		val ref.Val
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, _, err := p.prg.Eval(vars)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("sandbox: evaluating script: %w", r.err)
		}
		return r.val, nil
	case <-evalCtx.Done():
		return nil, oagwerrors.New(oagwerrors.KindRequestTimeout, "plugin script exceeded its phase deadline")
	}
}

func requestMap(rc *pluginsdk.RequestContext) map[string]any {
	headers := map[string]any{}
	if rc.RequestHdr != nil {
		for _, k := range rc.RequestHdr.Keys() {
			headers[k] = rc.RequestHdr.Get(k)
		}
	}
	return map[string]any{
		"method":  rc.Method,
		"path":    rc.Path,
		"headers": headers,
	}
}

func responseMap(rc *pluginsdk.RequestContext) map[string]any {
	headers := map[string]any{}
	if rc.ResponseHdr != nil {
		for _, k := range rc.ResponseHdr.Keys() {
			headers[k] = rc.ResponseHdr.Get(k)
		}
	}
	return map[string]any{
		"status":  rc.StatusCode,
		"headers": headers,
	}
}

func errorMap(rc *pluginsdk.RequestContext) map[string]any {
	if rc.Err == nil {
		return map[string]any{"present": false}
	}
	return map[string]any{"present": true, "message": rc.Err.Error()}
}
