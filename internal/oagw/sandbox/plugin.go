package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/google/cel-go/common/types/ref"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/pluginsdk"
)

const (
	IDGuardCEL     = "builtin:guard:cel"
	IDTransformCEL = "builtin:transform:cel"
)

// DefaultPhaseDeadline bounds a single script evaluation when the
// caller has no tighter request-deadline-derived budget to pass.
const DefaultPhaseDeadline = 50 * time.Millisecond

// CustomPlugin wraps a compiled user script as a pluginsdk.Instance,
// the single custom variant spec.md §9 describes dispatching through
// the same common Invoke surface as every built-in.
type CustomPlugin struct {
	id      string
	kind    pluginsdk.Kind
	phases  []pluginsdk.Phase
	program *Program
	budget  time.Duration
}

// NewCustomPlugin compiles script and wraps it for execution. The
// caller supplies the phase deadline; passing 0 uses DefaultPhaseDeadline.
func NewCustomPlugin(id string, kind model.PluginKind, phases []string, script string, phaseBudget time.Duration) (*CustomPlugin, error) {
	program, err := Compile(script)
	if err != nil {
		return nil, err
	}
	if phaseBudget <= 0 {
		phaseBudget = DefaultPhaseDeadline
	}
	sdkPhases := make([]pluginsdk.Phase, 0, len(phases))
	for _, p := range phases {
		sdkPhases = append(sdkPhases, pluginsdk.Phase(p))
	}
	return &CustomPlugin{
		id:      id,
		kind:    pluginsdk.Kind(kind),
		phases:  sdkPhases,
		program: program,
		budget:  phaseBudget,
	}, nil
}

func (p *CustomPlugin) ID() string                        { return p.id }
func (p *CustomPlugin) Kind() pluginsdk.Kind               { return p.kind }
func (p *CustomPlugin) SupportedPhases() []pluginsdk.Phase { return p.phases }

func (p *CustomPlugin) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	val, err := p.program.Eval(ctx, phase, rc, p.budget)
	if err != nil {
		return pluginsdk.Verdict{}, err
	}
	return decodeVerdict(val, p.kind)
}

// decodeVerdict maps a CEL evaluation result onto a Verdict. Guards may
// return a bare bool (true = allow) or a verdict map for a custom
// rejection; transforms are expected to return a verdict map (typically
// {"action":"next"}) since they have no meaningful "allow" shorthand.
func decodeVerdict(val any, kind pluginsdk.Kind) (pluginsdk.Verdict, error) {
	if cv, ok := val.(ref.Val); ok {
		// A CEL map literal's Value() is map[ref.Val]ref.Val, so maps are
		// converted to native form explicitly.
		if m, err := cv.ConvertToNative(reflect.TypeOf(map[string]any{})); err == nil {
			val = m
		} else {
			val = cv.Value()
		}
	}

	switch v := val.(type) {
	case bool:
		if kind != pluginsdk.KindGuard {
			return pluginsdk.Verdict{}, fmt.Errorf("sandbox: %s plugin returned a bare bool, expected a verdict map", kind)
		}
		if v {
			return pluginsdk.Next(), nil
		}
		return pluginsdk.Reject(http.StatusForbidden, "https://oagw.dev/problems/validation_error.v1", "rejected by custom guard script"), nil
	case map[string]any:
		return decodeVerdictMap(v)
	default:
		return pluginsdk.Verdict{}, fmt.Errorf("sandbox: unsupported script result type %T", val)
	}
}

func decodeVerdictMap(v map[string]any) (pluginsdk.Verdict, error) {
	action, _ := v["action"].(string)
	switch action {
	case "", "next":
		return pluginsdk.Next(), nil
	case "reject":
		status := intOf(v["status"], http.StatusForbidden)
		typeID, _ := v["type"].(string)
		if typeID == "" {
			typeID = "https://oagw.dev/problems/validation_error.v1"
		}
		detail, _ := v["detail"].(string)
		return pluginsdk.Reject(status, typeID, detail), nil
	case "respond":
		status := intOf(v["status"], http.StatusOK)
		body, _ := v["body"].(string)
		return pluginsdk.Respond(status, []byte(body)), nil
	default:
		return pluginsdk.Verdict{}, fmt.Errorf("sandbox: unknown verdict action %q", action)
	}
}

func intOf(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

var _ pluginsdk.Instance = (*CustomPlugin)(nil)
