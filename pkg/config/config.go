// Package config defines the YAML configuration surface of the
// authorization gateway and validates it at startup. Validation is the
// only place misconfiguration can surface; once a Config passes
// Validate, request-time evaluation never fails on syntax.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/authgate/authgate/pkg/policy"
	"github.com/authgate/authgate/pkg/quota"
)

// Provider type names accepted under auth.provider_config.type.
const (
	ProviderOAuth2 = "oauth2_token"
	ProviderGitHub = "github_token"
	ProviderCustom = "custom"
)

// Config is the root of the configuration file.
type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Auth         *AuthConfig       `yaml:"auth,omitempty"`
	AccessPolicy []policy.RuleSpec `yaml:"access_policy,omitempty"`
	Quota        *QuotaConfig      `yaml:"quota,omitempty"`
	RateLimit    *RateLimitConfig  `yaml:"rate_limit,omitempty"`
	DevToken     *DevTokenConfig   `yaml:"dev_token,omitempty"`
}

// ServerConfig holds listener options; flags may override them.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	ListenInternal string `yaml:"listen_internal"`
	TLSKeyPath     string `yaml:"tls_key,omitempty"`
	TLSCertPath    string `yaml:"tls_crt,omitempty"`
	LogLevel       string `yaml:"log_level,omitempty"`
	LogFormat      string `yaml:"log_format,omitempty"`
}

// AuthConfig selects exactly one token validation strategy.
type AuthConfig struct {
	ProviderConfig ProviderConfig `yaml:"provider_config"`
	// TimeoutSeconds bounds every provider call (JWKS fetch, GitHub API,
	// custom endpoint). Zero means 10 seconds.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// ProviderConfig is a tagged union on Type; only the fields of the
// selected strategy may be set.
type ProviderConfig struct {
	Type string `yaml:"type"`

	// oauth2_token
	Issuer          string            `yaml:"issuer,omitempty"`
	Audience        string            `yaml:"audience,omitempty"`
	JWKS            *JWKSConfig       `yaml:"jwks,omitempty"`
	IssuerDiscovery bool              `yaml:"issuer_discovery,omitempty"`
	ClaimsMapping   map[string]string `yaml:"claims_mapping,omitempty"`

	// github_token
	GitHubAPIBaseURL string           `yaml:"github_api_base_url,omitempty"`
	UserInfoCache    *UserCacheConfig `yaml:"user_info_cache,omitempty"`

	// custom
	Endpoint string `yaml:"endpoint,omitempty"`
}

// JWKSConfig locates the key set for the oauth2_token strategy.
type JWKSConfig struct {
	URI string `yaml:"uri"`
	// Token authenticates the JWKS fetch itself, when the endpoint
	// requires it.
	Token  string `yaml:"token,omitempty"`
	CAFile string `yaml:"ca_file,omitempty"`
	// KeyRecheckPeriodSeconds debounces key refreshes. Zero means 900.
	KeyRecheckPeriodSeconds int `yaml:"key_recheck_period,omitempty"`
}

// UserCacheConfig enables the optional memcached-backed GitHub user-info
// cache. Disabled unless configured.
type UserCacheConfig struct {
	MemcachedServers []string `yaml:"memcached_servers"`
	// ExpirationSeconds caps entry lifetime; values above 600 are
	// rejected since revoked tokens stay usable until expiry.
	ExpirationSeconds int `yaml:"expiration_seconds"`
}

// QuotaConfig enables the persistent per-client quota.
type QuotaConfig struct {
	KVStore                  KVStoreConfig `yaml:"kvstore"`
	AnonymousMaxRequests     uint64        `yaml:"anonymous_max_requests"`
	AuthenticatedMaxRequests uint64        `yaml:"authenticated_max_requests,omitempty"`
	Period                   string        `yaml:"period"`
}

// KVStoreConfig selects the quota counter backend.
type KVStoreConfig struct {
	Type           string   `yaml:"type"` // memcached or memory
	Servers        []string `yaml:"servers,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// RateLimitConfig enables the optional in-process burst limiter in front
// of the quota store.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DevTokenConfig enables the local token issuer and JWKS endpoint, for
// running the oauth2_token strategy without an external IdP.
type DevTokenConfig struct {
	KeyFile       string          `yaml:"key_file"`
	KeyID         string          `yaml:"kid,omitempty"`
	Issuer        string          `yaml:"issuer"`
	Audience      string          `yaml:"audience"`
	ExpireSeconds int64           `yaml:"expire_seconds,omitempty"`
	Users         []DevUserConfig `yaml:"users"`
}

// DevUserConfig is one identity the dev issuer will sign tokens for.
type DevUserConfig struct {
	Name       string              `yaml:"name"`
	Secret     string              `yaml:"secret"`
	Attributes map[string][]string `yaml:"attributes,omitempty"`
	Scopes     []string            `yaml:"scopes,omitempty"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration")
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects every form of misconfiguration fatally at startup.
func (c *Config) Validate() error {
	if c.Auth != nil {
		if err := c.Auth.ProviderConfig.validate(); err != nil {
			return errors.Wrap(err, "auth.provider_config")
		}
	}

	if _, err := policy.Compile(c.AccessPolicy); err != nil {
		return err
	}

	if c.Quota != nil {
		if _, err := quota.ParsePeriod(c.Quota.Period); err != nil {
			return errors.Wrap(err, "quota")
		}
		if c.Quota.AnonymousMaxRequests == 0 {
			return fmt.Errorf("quota: anonymous_max_requests must be at least 1")
		}
		switch c.Quota.KVStore.Type {
		case "memcached":
			if len(c.Quota.KVStore.Servers) == 0 {
				return fmt.Errorf("quota: kvstore.servers is required for memcached")
			}
		case "memory":
		default:
			return fmt.Errorf("quota: unknown kvstore type %q", c.Quota.KVStore.Type)
		}
	}

	if c.RateLimit != nil {
		if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
			return fmt.Errorf("rate_limit: requests_per_second and burst must be positive")
		}
	}

	if c.DevToken != nil {
		if c.DevToken.KeyFile == "" {
			return fmt.Errorf("dev_token: key_file is required")
		}
		if c.DevToken.Issuer == "" || c.DevToken.Audience == "" {
			return fmt.Errorf("dev_token: issuer and audience are required")
		}
		if len(c.DevToken.Users) == 0 {
			return fmt.Errorf("dev_token: at least one user is required")
		}
		for _, u := range c.DevToken.Users {
			if u.Name == "" || u.Secret == "" {
				return fmt.Errorf("dev_token: every user needs a name and a secret")
			}
		}
	}

	return nil
}

func (p *ProviderConfig) validate() error {
	switch p.Type {
	case ProviderOAuth2:
		if p.Issuer == "" {
			return fmt.Errorf("issuer is required")
		}
		if p.Audience == "" {
			return fmt.Errorf("audience is required")
		}
		if p.IssuerDiscovery {
			if p.JWKS != nil {
				return fmt.Errorf("jwks and issuer_discovery are mutually exclusive")
			}
		} else if p.JWKS == nil || p.JWKS.URI == "" {
			return fmt.Errorf("jwks.uri is required unless issuer_discovery is set")
		}
	case ProviderGitHub:
		if p.UserInfoCache != nil {
			if len(p.UserInfoCache.MemcachedServers) == 0 {
				return fmt.Errorf("user_info_cache.memcached_servers is required")
			}
			if p.UserInfoCache.ExpirationSeconds < 1 || p.UserInfoCache.ExpirationSeconds > 600 {
				return fmt.Errorf("user_info_cache.expiration_seconds must be between 1 and 600")
			}
		}
	case ProviderCustom:
		if p.Endpoint == "" {
			return fmt.Errorf("endpoint is required")
		}
		if _, err := url.ParseRequestURI(p.Endpoint); err != nil {
			return fmt.Errorf("endpoint must be a valid URL: %v", err)
		}
	default:
		return fmt.Errorf("unknown provider type %q", p.Type)
	}
	return nil
}
