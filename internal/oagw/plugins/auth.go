// Package plugins implements the built-in auth, guard, and transform
// plugins (spec.md §4.4): the stable, named identifiers a binding can
// reference without ever touching the custom-script sandbox.
package plugins

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	josejwt "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/outbound-gateway/oagw/internal/oagw/secrets"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
	"github.com/outbound-gateway/oagw/pkg/pluginsdk"
)

const (
	IDAuthJWT    = "builtin:auth:jwt"
	IDAuthAPIKey = "builtin:auth:api-key"
	IDAuthBasic  = "builtin:auth:basic"
)

// jwtAuth validates a bearer JWT against a JWKS endpoint and forwards
// the raw token as outbound credential material. Key fetch/caching
// mirrors the teacher's jwks_cache.go mutex-guarded refresh-on-miss
// pattern, scoped per plugin configuration rather than per gateway.
type jwtAuth struct {
	cache *jwksCache
}

func NewJWTAuth(fetch JWKSFetcher) pluginsdk.Instance {
	return &jwtAuth{cache: newJWKSCache(fetch)}
}

func (p *jwtAuth) ID() string                        { return IDAuthJWT }
func (p *jwtAuth) Kind() pluginsdk.Kind               { return pluginsdk.KindAuth }
func (p *jwtAuth) SupportedPhases() []pluginsdk.Phase { return []pluginsdk.Phase{pluginsdk.PhaseOnRequest} }

func (p *jwtAuth) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	issuer, _ := rc.Config["issuer"].(string)
	jwksURL, _ := rc.Config["jwks_url"].(string)

	raw := bearerToken(rc.RequestHdr.Get("Authorization"))
	if raw == "" {
		return pluginsdk.Verdict{}, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "missing bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return p.cache.key(ctx, jwksURL, kid)
	}, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	if err != nil || !token.Valid {
		return pluginsdk.Verdict{}, oagwerrors.Wrap(oagwerrors.KindAuthenticationFailed, "token validation failed", err)
	}
	if issuer != "" {
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if iss, _ := claims.GetIssuer(); iss != issuer {
				return pluginsdk.Verdict{}, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "unexpected issuer")
			}
		}
	}

	rc.Credential = "Bearer " + raw
	return pluginsdk.Next(), nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// JWKSFetcher retrieves the raw JWKS document for a URL, abstracting
// the HTTP call so tests can substitute a fixed key set.
type JWKSFetcher func(ctx context.Context, url string) (*josejwt.JSONWebKeySet, error)

// DefaultJWKSFetcher performs a real HTTP GET against the JWKS URL and
// decodes the response as an RFC 7517 key set.
func DefaultJWKSFetcher(client *http.Client) JWKSFetcher {
	return func(ctx context.Context, url string) (*josejwt.JSONWebKeySet, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		var set josejwt.JSONWebKeySet
		if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
			return nil, fmt.Errorf("plugins: decoding jwks response: %w", err)
		}
		return &set, nil
	}
}

// jwksCache caches parsed JWKS documents per URL, refreshing on a
// cache miss or once the cached set is older than jwksRefreshInterval,
// mirroring the teacher's JWKS cache shape. An unknown kid does not
// trigger a refresh; it fails validation against the cached set.
type jwksCache struct {
	fetch JWKSFetcher

	mu      sync.Mutex
	byURL   map[string]*josejwt.JSONWebKeySet
	fetched map[string]time.Time
}

func newJWKSCache(fetch JWKSFetcher) *jwksCache {
	return &jwksCache{fetch: fetch, byURL: make(map[string]*josejwt.JSONWebKeySet), fetched: make(map[string]time.Time)}
}

const jwksRefreshInterval = 10 * time.Minute

func (c *jwksCache) key(ctx context.Context, url, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	set, ok := c.byURL[url]
	stale := !ok || time.Since(c.fetched[url]) > jwksRefreshInterval
	c.mu.Unlock()

	if stale {
		fresh, err := c.fetch(ctx, url)
		if err != nil {
			if !ok {
				return nil, fmt.Errorf("plugins: fetching jwks: %w", err)
			}
			// Fall back to the stale set rather than fail validation
			// outright on a transient JWKS endpoint outage.
		} else {
			c.mu.Lock()
			c.byURL[url] = fresh
			c.fetched[url] = time.Now()
			set = fresh
			c.mu.Unlock()
		}
	}
	if set == nil {
		return nil, fmt.Errorf("plugins: no jwks available for %s", url)
	}
	for _, k := range set.Keys {
		if k.KeyID == kid {
			if rsaKey, ok := k.Key.(*rsa.PublicKey); ok {
				return rsaKey, nil
			}
		}
	}
	return nil, fmt.Errorf("plugins: kid %q not found in jwks", kid)
}

// apiKeyAuth resolves a secret-store reference and compares it against
// a configured request header (Config "header", default Authorization).
// Query parameters are not consulted.
type apiKeyAuth struct {
	secrets secrets.Store
}

func NewAPIKeyAuth(store secrets.Store) pluginsdk.Instance { return &apiKeyAuth{secrets: store} }

func (p *apiKeyAuth) ID() string                        { return IDAuthAPIKey }
func (p *apiKeyAuth) Kind() pluginsdk.Kind               { return pluginsdk.KindAuth }
func (p *apiKeyAuth) SupportedPhases() []pluginsdk.Phase { return []pluginsdk.Phase{pluginsdk.PhaseOnRequest} }

func (p *apiKeyAuth) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	ref, _ := rc.Config["secret_ref"].(string)
	headerName, _ := rc.Config["header"].(string)
	if headerName == "" {
		headerName = "Authorization"
	}
	secret, err := p.secrets.Resolve(ctx, rc.Tenant, ref)
	if err != nil {
		return pluginsdk.Verdict{}, err
	}
	supplied := rc.RequestHdr.Get(headerName)
	if supplied == "" || supplied != secret {
		return pluginsdk.Verdict{}, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "api key mismatch")
	}
	rc.Credential = supplied
	return pluginsdk.Next(), nil
}

// basicAuth validates HTTP Basic credentials against a secret-store
// reference holding "user:password".
type basicAuth struct {
	secrets secrets.Store
}

func NewBasicAuth(store secrets.Store) pluginsdk.Instance { return &basicAuth{secrets: store} }

func (p *basicAuth) ID() string                        { return IDAuthBasic }
func (p *basicAuth) Kind() pluginsdk.Kind               { return pluginsdk.KindAuth }
func (p *basicAuth) SupportedPhases() []pluginsdk.Phase { return []pluginsdk.Phase{pluginsdk.PhaseOnRequest} }

func (p *basicAuth) Invoke(ctx context.Context, phase pluginsdk.Phase, rc *pluginsdk.RequestContext) (pluginsdk.Verdict, error) {
	ref, _ := rc.Config["secret_ref"].(string)
	expected, err := p.secrets.Resolve(ctx, rc.Tenant, ref)
	if err != nil {
		return pluginsdk.Verdict{}, err
	}
	header := rc.RequestHdr.Get("Authorization")
	const prefix = "Basic "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return pluginsdk.Verdict{}, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "missing basic credentials")
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil || string(decoded) != expected {
		return pluginsdk.Verdict{}, oagwerrors.New(oagwerrors.KindAuthenticationFailed, "basic credentials mismatch")
	}
	rc.Credential = header
	return pluginsdk.Next(), nil
}

var (
	_ pluginsdk.Instance = (*jwtAuth)(nil)
	_ pluginsdk.Instance = (*apiKeyAuth)(nil)
	_ pluginsdk.Instance = (*basicAuth)(nil)
)
