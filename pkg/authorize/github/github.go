// Package github implements the github_token validation strategy: the
// presented bearer token is treated as a GitHub personal or OAuth token
// and introspected against the GitHub API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/authgate/authgate/pkg/authorize"
	"github.com/authgate/authgate/pkg/cache"
)

const (
	// DefaultAPIBaseURL is the public GitHub API. Overridable for GitHub
	// Enterprise and for tests.
	DefaultAPIBaseURL = "https://api.github.com"

	responseBodyLimit = 1024 * 1024
)

// DefaultClaimsMapping maps the introspection response fields to
// attribute categories: the login becomes a role value and organization
// memberships become teams.
func DefaultClaimsMapping() map[string]string {
	return map[string]string{
		"login":         authorize.AttributeRoles,
		"organizations": authorize.AttributeTeams,
	}
}

// Config tunes the GitHub validator.
type Config struct {
	// APIBaseURL defaults to the public GitHub API.
	APIBaseURL string
	// ClaimsMapping maps response fields (login, id, organizations,
	// email, name) to attribute categories. Nil means
	// DefaultClaimsMapping.
	ClaimsMapping map[string]string
	// Cache, when non-nil, memoizes introspection results per token.
	// Entry lifetime is the cacher's expiration; keep it short since
	// revoked tokens stay valid until the entry ages out.
	Cache cache.Cacher
}

type validator struct {
	base    string
	mapping map[string]string
	cache   cache.Cacher
	client  *http.Client
	logger  log.Logger
}

// NewValidator builds the github_token strategy. The supplied client is
// the transport for all GitHub API calls and must carry a bounded
// timeout.
func NewValidator(logger log.Logger, client *http.Client, cfg Config) authorize.Validator {
	base := cfg.APIBaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	mapping := cfg.ClaimsMapping
	if mapping == nil {
		mapping = DefaultClaimsMapping()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &validator{
		base:    base,
		mapping: mapping,
		cache:   cfg.Cache,
		client:  client,
		logger:  log.With(logger, "component", "authorize/github"),
	}
}

// userInfo is the normalized introspection result, also the cache
// serialization format.
type userInfo struct {
	Login         string   `json:"login"`
	ID            int64    `json:"id"`
	Email         string   `json:"email"`
	Name          string   `json:"name"`
	Organizations []string `json:"organizations"`
}

func (v *validator) Validate(ctx context.Context, token string, _ authorize.RequestMeta) (*authorize.Principal, error) {
	info, err := v.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	claims := map[string]interface{}{
		"login":         info.Login,
		"id":            strconv.FormatInt(info.ID, 10),
		"organizations": info.Organizations,
		"email":         info.Email,
		"name":          info.Name,
	}

	return &authorize.Principal{
		ID:         info.Login,
		Attributes: authorize.AttributesFromClaims(claims, v.mapping),
		Scopes:     make(map[string]struct{}),
		Claims:     claims,
	}, nil
}

func (v *validator) lookup(ctx context.Context, token string) (*userInfo, error) {
	if v.cache != nil {
		if raw, ok, err := v.cache.Get(token); err != nil {
			level.Warn(v.logger).Log("msg", "user info cache read failed", "err", err)
		} else if ok {
			info := &userInfo{}
			if err := json.Unmarshal(raw, info); err == nil {
				return info, nil
			}
		}
	}

	// The caller's own token authenticates the introspection calls. Built
	// by hand rather than with oauth2.NewClient, which copies only the
	// transport and would drop the configured timeout bound.
	client := &http.Client{
		Transport: &oauth2.Transport{
			Base:   v.client.Transport,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		},
		Timeout: v.client.Timeout,
	}

	info := &userInfo{}
	if err := v.get(ctx, client, "/user", info); err != nil {
		return nil, err
	}
	if info.Login == "" {
		return nil, authorize.NewUnauthenticated("GitHub returned no login for token", nil)
	}

	var orgs []struct {
		Login string `json:"login"`
	}
	if err := v.get(ctx, client, "/user/orgs", &orgs); err != nil {
		return nil, err
	}
	for _, org := range orgs {
		info.Organizations = append(info.Organizations, org.Login)
	}

	if v.cache != nil {
		if raw, err := json.Marshal(info); err == nil {
			if err := v.cache.Set(token, raw); err != nil {
				level.Warn(v.logger).Log("msg", "user info cache write failed", "err", err)
			}
		}
	}

	return info, nil
}

func (v *validator) get(ctx context.Context, client *http.Client, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.base+path, nil)
	if err != nil {
		return authorize.NewUpstreamUnavailable("unable to create GitHub request", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	res, err := client.Do(req)
	if err != nil {
		// Includes timeouts. A GitHub outage fails the request; it is
		// never downgraded to anonymous.
		return authorize.NewUpstreamUnavailable(fmt.Sprintf("GitHub API call %s failed", path), err)
	}
	defer func() {
		if _, err := io.Copy(io.Discard, res.Body); err != nil {
			level.Debug(v.logger).Log("msg", "error draining body", "err", err)
		}
		res.Body.Close()
	}()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return authorize.NewUnauthenticated("GitHub rejected the token", nil)
	case res.StatusCode/100 != 2:
		return authorize.NewUpstreamUnavailable(fmt.Sprintf("GitHub API call %s returned status %d", path, res.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, responseBodyLimit))
	if err != nil {
		return authorize.NewUpstreamUnavailable("unable to read GitHub response", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return authorize.NewUpstreamUnavailable("unable to parse GitHub response", errors.Wrap(err, path))
	}
	return nil
}
