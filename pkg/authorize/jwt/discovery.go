package jwt

import (
	"context"
	"net/http"

	oidc "github.com/coreos/go-oidc"
	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/authgate/authgate/pkg/authorize"
)

// discoveryValidator verifies tokens through OIDC discovery on the
// issuer. Key caching and rotation are handled by the provider's remote
// key set; issuer and audience checks happen inside Verify.
type discoveryValidator struct {
	verifier *oidc.IDTokenVerifier
	mapping  map[string]string
	logger   log.Logger
}

func newDiscoveryValidator(logger log.Logger, client *http.Client, cfg Config, mapping map[string]string) (authorize.Validator, error) {
	ctx := oidc.ClientContext(context.Background(), client)
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, errors.Wrap(err, "OIDC provider initialization failed")
	}

	return &discoveryValidator{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.Audience}),
		mapping:  mapping,
		logger:   logger,
	}, nil
}

func (v *discoveryValidator) Validate(ctx context.Context, token string, _ authorize.RequestMeta) (*authorize.Principal, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			return nil, authorize.NewUpstreamUnavailable("OIDC verification timed out", err)
		}
		return nil, authorize.NewUnauthenticated("token could not be verified", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, authorize.NewUnauthenticated("token claims could not be decoded", err)
	}
	if idToken.Subject == "" {
		return nil, authorize.NewUnauthenticated("token has no subject", nil)
	}

	return principalFromClaims(idToken.Subject, claims, v.mapping), nil
}
