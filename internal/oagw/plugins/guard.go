package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/outbound-gateway/oagw/pkg/pluginsdk"
)

const (
	IDGuardHeaderRequired = "builtin:guard:header-required"
	IDGuardRegex          = "builtin:guard:regex"
	IDGuardWebhook        = "builtin:guard:webhook"
	IDGuardCEL            = "builtin:guard:cel"
)

// headerRequiredGuard rejects a request missing one or more configured
// headers. Config: {"headers": ["X-Required-One", ...]}.
type headerRequiredGuard struct{}

func NewHeaderRequiredGuard() pluginsdk.Instance { return headerRequiredGuard{} }

func (headerRequiredGuard) ID() string                        { return IDGuardHeaderRequired }
func (headerRequiredGuard) Kind() pluginsdk.Kind               { return pluginsdk.KindGuard }
func (headerRequiredGuard) SupportedPhases() []pluginsdk.Phase { return []pluginsdk.Phase{pluginsdk.PhaseOnRequest} }

func (headerRequiredGuard) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	raw, _ := rc.Config["headers"].([]any)
	for _, h := range raw {
		name, _ := h.(string)
		if name == "" {
			continue
		}
		if rc.RequestHdr.Get(name) == "" {
			return pluginsdk.Reject(http.StatusBadRequest, "https://oagw.dev/problems/validation_error.v1",
				fmt.Sprintf("missing required header %q", name)), nil
		}
	}
	return pluginsdk.Next(), nil
}

// regexGuard rejects a request whose path or a named header fails to
// match a configured pattern, mirroring the teacher's regex-based
// traffic-policy guard case. Config: {"field": "path"|"header:<Name>", "pattern": "..."}.
type regexGuard struct {
	mu     sync.Mutex
	cached map[string]*regexp.Regexp
}

func NewRegexGuard() pluginsdk.Instance { return &regexGuard{cached: make(map[string]*regexp.Regexp)} }

func (*regexGuard) ID() string                        { return IDGuardRegex }
func (*regexGuard) Kind() pluginsdk.Kind               { return pluginsdk.KindGuard }
func (*regexGuard) SupportedPhases() []pluginsdk.Phase { return []pluginsdk.Phase{pluginsdk.PhaseOnRequest} }

func (g *regexGuard) compiled(pattern string) (*regexp.Regexp, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if re, ok := g.cached[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	g.cached[pattern] = re
	return re, nil
}

func (g *regexGuard) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	field, _ := rc.Config["field"].(string)
	pattern, _ := rc.Config["pattern"].(string)
	re, err := g.compiled(pattern)
	if err != nil {
		return pluginsdk.Verdict{}, fmt.Errorf("plugins: regex guard: %w", err)
	}

	var subject string
	switch {
	case field == "path":
		subject = rc.Path
	case len(field) > 7 && field[:7] == "header:":
		subject = rc.RequestHdr.Get(field[7:])
	default:
		subject = rc.Path
	}

	if !re.MatchString(subject) {
		return pluginsdk.Reject(http.StatusForbidden, "https://oagw.dev/problems/validation_error.v1",
			"request did not match the required pattern"), nil
	}
	return pluginsdk.Next(), nil
}

// WebhookCaller performs the actual moderation-webhook call, abstracted
// so tests substitute a fixed verdict without a real HTTP round trip.
type WebhookCaller func(ctx context.Context, url string, payload []byte) (allowed bool, err error)

// webhookGuard delegates the allow/deny decision to an external
// webhook, mirroring the teacher's webhook guard case in its AI traffic
// policies. Config: {"url": "...", "timeout_ms": 2000}.
type webhookGuard struct {
	call WebhookCaller
}

func NewWebhookGuard(call WebhookCaller) pluginsdk.Instance { return &webhookGuard{call: call} }

func (*webhookGuard) ID() string                        { return IDGuardWebhook }
func (*webhookGuard) Kind() pluginsdk.Kind               { return pluginsdk.KindGuard }
func (*webhookGuard) SupportedPhases() []pluginsdk.Phase { return []pluginsdk.Phase{pluginsdk.PhaseOnRequest} }

func (g *webhookGuard) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	url, _ := rc.Config["url"].(string)
	timeoutMS, _ := rc.Config["timeout_ms"].(float64)
	if timeoutMS <= 0 {
		timeoutMS = 2000
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{
		"tenant": rc.Tenant,
		"method": rc.Method,
		"path":   rc.Path,
	})
	allowed, err := g.call(callCtx, url, payload)
	if err != nil {
		return pluginsdk.Verdict{}, fmt.Errorf("plugins: webhook guard call: %w", err)
	}
	if !allowed {
		return pluginsdk.Reject(http.StatusForbidden, "https://oagw.dev/problems/validation_error.v1",
			"rejected by moderation webhook"), nil
	}
	return pluginsdk.Next(), nil
}

// DefaultWebhookCaller performs a real HTTP POST to the webhook URL and
// interprets {"allowed": bool} from the JSON response body.
func DefaultWebhookCaller(client *http.Client) WebhookCaller {
	return func(ctx context.Context, url string, payload []byte) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err != nil {
			return false, err
		}
		var decoded struct {
			Allowed bool `json:"allowed"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return false, err
		}
		return decoded.Allowed, nil
	}
}

var (
	_ pluginsdk.Instance = headerRequiredGuard{}
	_ pluginsdk.Instance = (*regexGuard)(nil)
	_ pluginsdk.Instance = (*webhookGuard)(nil)
)
