package jwt

import (
	"context"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/authgate/authgate/pkg/authorize"
)

// Config selects and tunes the JWKS-backed token validator.
type Config struct {
	// Issuer must match the token "iss" claim exactly.
	Issuer string
	// Audience must be contained in the token "aud" claim.
	Audience string
	// JWKSURI is the key set endpoint. Ignored when IssuerDiscovery is
	// set, in which case keys are located through OIDC discovery on
	// Issuer.
	JWKSURI string
	// IssuerDiscovery switches key location to OIDC discovery.
	IssuerDiscovery bool
	// KeyRecheckPeriod debounces JWKS refreshes. Zero means 15 minutes.
	KeyRecheckPeriod time.Duration
	// ClaimsMapping maps token claims to attribute categories. Nil means
	// DefaultClaimsMapping.
	ClaimsMapping map[string]string
}

// NewValidator builds the oauth2_token strategy. The supplied client is
// used for all key fetches and must carry a bounded timeout (and, when
// configured, the JWKS bearer token and CA bundle).
func NewValidator(logger log.Logger, client *http.Client, cfg Config, reg prometheus.Registerer) (authorize.Validator, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "component", "authorize/jwt")

	mapping := cfg.ClaimsMapping
	if mapping == nil {
		mapping = authorize.DefaultClaimsMapping()
	}

	if cfg.IssuerDiscovery {
		return newDiscoveryValidator(logger, client, cfg, mapping)
	}

	return &validator{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		mapping:  mapping,
		keys:     newKeyCache(logger, client, cfg.JWKSURI, cfg.KeyRecheckPeriod, reg),
		logger:   logger,
		now:      time.Now,
	}, nil
}

type validator struct {
	issuer   string
	audience string
	mapping  map[string]string
	keys     *keyCache
	logger   log.Logger
	now      func() time.Time
}

func (v *validator) Validate(ctx context.Context, token string, _ authorize.RequestMeta) (*authorize.Principal, error) {
	tok, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, authorize.NewUnauthenticated("malformed token", err)
	}

	var kid string
	if len(tok.Headers) > 0 {
		kid = tok.Headers[0].KeyID
	}

	keys, err := v.keys.Keys(ctx, kid)
	if err != nil {
		return nil, authorize.NewUpstreamUnavailable("JWKS fetch failed", err)
	}
	if len(keys) == 0 {
		// An unknown kid inside the recheck period is a rejection, not a
		// forced refresh; rotated keys become visible at the next recheck.
		return nil, authorize.NewUnauthenticated("no signing key for token", nil)
	}

	var (
		public jwt.Claims
		claims map[string]interface{}
		found  bool
	)
	for _, key := range keys {
		public = jwt.Claims{}
		claims = nil
		if err := tok.Claims(key, &public, &claims); err != nil {
			continue
		}
		found = true
		break
	}
	if !found {
		return nil, authorize.NewUnauthenticated("token signature could not be verified", nil)
	}

	if err := public.Validate(jwt.Expected{Time: v.now()}); err != nil {
		if err == jwt.ErrExpired {
			return nil, authorize.NewUnauthenticated("token has expired", nil)
		}
		level.Debug(v.logger).Log("msg", "unexpected claim validation failure", "err", err)
		return nil, authorize.NewUnauthenticated("token could not be validated", nil)
	}

	if public.Issuer != v.issuer {
		return nil, authorize.NewUnauthenticated("token issuer mismatch", nil)
	}
	if !public.Audience.Contains(v.audience) {
		return nil, authorize.NewUnauthenticated("token is invalid for this audience", nil)
	}
	if public.Subject == "" {
		return nil, authorize.NewUnauthenticated("token has no subject", nil)
	}

	return principalFromClaims(public.Subject, claims, v.mapping), nil
}

func principalFromClaims(subject string, claims map[string]interface{}, mapping map[string]string) *authorize.Principal {
	return &authorize.Principal{
		ID:         subject,
		Attributes: authorize.AttributesFromClaims(claims, mapping),
		Scopes:     authorize.ScopesFromClaim(claims),
		Claims:     claims,
	}
}
