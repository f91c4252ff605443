package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/outbound-gateway/oagw/pkg/pluginsdk"
)

// celGuard and celTransform are the builtin:guard:cel / builtin:transform:cel
// identifiers: unlike CustomPlugin (one compiled script per plugin
// definition), these compile the expression carried in each binding's
// own Config["expression"], cached by expression text since many
// bindings are likely to reuse the same short boolean check.
type celGuard struct {
	mu    sync.Mutex
	cache map[string]*Program
}

func NewCELGuard() pluginsdk.Instance { return &celGuard{cache: make(map[string]*Program)} }

func (*celGuard) ID() string                        { return IDGuardCEL }
func (*celGuard) Kind() pluginsdk.Kind               { return pluginsdk.KindGuard }
func (*celGuard) SupportedPhases() []pluginsdk.Phase { return []pluginsdk.Phase{pluginsdk.PhaseOnRequest} }

func (g *celGuard) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	expr, _ := rc.Config["expression"].(string)
	if expr == "" {
		return pluginsdk.Verdict{}, fmt.Errorf("sandbox: cel guard missing \"expression\" config")
	}
	prog, err := g.compiled(expr)
	if err != nil {
		return pluginsdk.Verdict{}, err
	}
	val, err := prog.Eval(ctx, phase, rc, DefaultPhaseDeadline)
	if err != nil {
		return pluginsdk.Verdict{}, err
	}
	return decodeVerdict(val, pluginsdk.KindGuard)
}

func (g *celGuard) compiled(expr string) (*Program, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.cache[expr]; ok {
		return p, nil
	}
	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	g.cache[expr] = p
	return p, nil
}

type celTransform struct {
	mu    sync.Mutex
	cache map[string]*Program
}

func NewCELTransform() pluginsdk.Instance { return &celTransform{cache: make(map[string]*Program)} }

func (*celTransform) ID() string          { return IDTransformCEL }
func (*celTransform) Kind() pluginsdk.Kind { return pluginsdk.KindTransform }
func (*celTransform) SupportedPhases() []pluginsdk.Phase {
	return []pluginsdk.Phase{pluginsdk.PhaseOnRequest, pluginsdk.PhaseOnResponse, pluginsdk.PhaseOnError}
}

func (t *celTransform) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	expr, _ := rc.Config["expression"].(string)
	if expr == "" {
		return pluginsdk.Next(), nil
	}
	prog, err := t.compiled(expr)
	if err != nil {
		return pluginsdk.Verdict{}, err
	}
	val, err := prog.Eval(ctx, phase, rc, DefaultPhaseDeadline)
	if err != nil {
		return pluginsdk.Verdict{}, err
	}
	return decodeVerdict(val, pluginsdk.KindTransform)
}

func (t *celTransform) compiled(expr string) (*Program, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.cache[expr]; ok {
		return p, nil
	}
	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	t.cache[expr] = p
	return p, nil
}

var (
	_ pluginsdk.Instance = (*celGuard)(nil)
	_ pluginsdk.Instance = (*celTransform)(nil)
)
