package plugins

import (
	"context"
	"strings"

	"github.com/outbound-gateway/oagw/pkg/pluginsdk"
)

const (
	IDTransformHeaderRewrite     = "builtin:transform:header-rewrite"
	IDTransformCORS              = "builtin:transform:cors"
	IDTransformPromptEnrichment  = "builtin:transform:prompt-enrichment"
	IDTransformCEL               = "builtin:transform:cel"
)

// headerRewriteTransform adds, sets, or removes headers according to
// its configuration, applied identically at every phase it runs at.
// Config: {"set": {"X-Foo":"bar"}, "add": {"X-Trace":"1"}, "remove": ["X-Drop"]}.
type headerRewriteTransform struct{}

func NewHeaderRewriteTransform() pluginsdk.Instance { return headerRewriteTransform{} }

func (headerRewriteTransform) ID() string          { return IDTransformHeaderRewrite }
func (headerRewriteTransform) Kind() pluginsdk.Kind { return pluginsdk.KindTransform }
func (headerRewriteTransform) SupportedPhases() []pluginsdk.Phase {
	return []pluginsdk.Phase{pluginsdk.PhaseOnRequest, pluginsdk.PhaseOnResponse, pluginsdk.PhaseOnError}
}

func (headerRewriteTransform) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	hdr := rc.RequestHdr
	if phase != pluginsdk.PhaseOnRequest {
		hdr = rc.ResponseHdr
	}
	if hdr == nil {
		return pluginsdk.Next(), nil
	}
	if set, ok := rc.Config["set"].(map[string]any); ok {
		for name, v := range set {
			if s, ok := v.(string); ok {
				hdr.Set(name, s)
			}
		}
	}
	if add, ok := rc.Config["add"].(map[string]any); ok {
		for name, v := range add {
			if s, ok := v.(string); ok {
				hdr.Add(name, s)
			}
		}
	}
	if remove, ok := rc.Config["remove"].([]any); ok {
		for _, v := range remove {
			if s, ok := v.(string); ok {
				hdr.Remove(s)
			}
		}
	}
	return pluginsdk.Next(), nil
}

// corsTransform writes the Access-Control-Allow-Origin, -Methods and
// -Credentials response headers from its own attachment config
// ("allow_origins", "allow_methods", "allow_credentials"). It does not
// read the CORS policy that pkg/config.MergeCORS merges into the
// effective configuration.
type corsTransform struct{}

func NewCORSTransform() pluginsdk.Instance { return corsTransform{} }

func (corsTransform) ID() string          { return IDTransformCORS }
func (corsTransform) Kind() pluginsdk.Kind { return pluginsdk.KindTransform }
func (corsTransform) SupportedPhases() []pluginsdk.Phase {
	return []pluginsdk.Phase{pluginsdk.PhaseOnResponse, pluginsdk.PhaseOnError}
}

func (corsTransform) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	if rc.ResponseHdr == nil {
		return pluginsdk.Next(), nil
	}
	if origins, ok := rc.Config["allow_origins"].([]any); ok && len(origins) > 0 {
		var s []string
		for _, o := range origins {
			if str, ok := o.(string); ok {
				s = append(s, str)
			}
		}
		rc.ResponseHdr.Set("Access-Control-Allow-Origin", strings.Join(s, ", "))
	}
	if methods, ok := rc.Config["allow_methods"].([]any); ok && len(methods) > 0 {
		var s []string
		for _, m := range methods {
			if str, ok := m.(string); ok {
				s = append(s, str)
			}
		}
		rc.ResponseHdr.Set("Access-Control-Allow-Methods", strings.Join(s, ", "))
	}
	if creds, ok := rc.Config["allow_credentials"].(bool); ok && creds {
		rc.ResponseHdr.Set("Access-Control-Allow-Credentials", "true")
	}
	return pluginsdk.Next(), nil
}

// promptEnrichmentTransform sets the configured preamble as the
// `X-OAGW-Prompt-Preamble` request header, which is forwarded upstream
// with the rest of the request headers. The request body is left
// unchanged; no component rewrites it from this header.
// Config: {"preamble": "You are a careful assistant."}.
type promptEnrichmentTransform struct{}

func NewPromptEnrichmentTransform() pluginsdk.Instance { return promptEnrichmentTransform{} }

func (promptEnrichmentTransform) ID() string          { return IDTransformPromptEnrichment }
func (promptEnrichmentTransform) Kind() pluginsdk.Kind { return pluginsdk.KindTransform }
func (promptEnrichmentTransform) SupportedPhases() []pluginsdk.Phase {
	return []pluginsdk.Phase{pluginsdk.PhaseOnRequest}
}

func (promptEnrichmentTransform) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	preamble, _ := rc.Config["preamble"].(string)
	if preamble != "" {
		rc.RequestHdr.Set("X-OAGW-Prompt-Preamble", preamble)
	}
	return pluginsdk.Next(), nil
}

var (
	_ pluginsdk.Instance = headerRewriteTransform{}
	_ pluginsdk.Instance = corsTransform{}
	_ pluginsdk.Instance = promptEnrichmentTransform{}
)
