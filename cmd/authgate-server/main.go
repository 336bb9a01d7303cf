package main

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	stdlog "log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/authgate/authgate/pkg/authorize"
	"github.com/authgate/authgate/pkg/authorize/custom"
	"github.com/authgate/authgate/pkg/authorize/github"
	"github.com/authgate/authgate/pkg/authorize/jwt"
	"github.com/authgate/authgate/pkg/cache"
	cachememcached "github.com/authgate/authgate/pkg/cache/memcached"
	"github.com/authgate/authgate/pkg/config"
	authgatehttp "github.com/authgate/authgate/pkg/http"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/policy"
	"github.com/authgate/authgate/pkg/quota"
	"github.com/authgate/authgate/pkg/scope"
	"github.com/authgate/authgate/pkg/server"
)

const desc = `
Authorization gateway for a multi-resource API server.

Every request passes one authorization sequence: bearer-token validation
against the configured provider (JWKS-verified JWT, GitHub token
introspection, or a custom delegate endpoint), an endpoint scope check, the
ordered access-policy evaluation, and the per-client quota. Denials answer
401, 403, or 429 with generic bodies; diagnostics stay in the server log.

The access policy, provider, and quota are configured in a YAML file; see
--config. With no auth block the server runs open, with anonymous quota
keyed by client address.
`

func main() {
	opt := &Options{
		Listen:         "0.0.0.0:9090",
		ListenInternal: "localhost:9091",
		LogLevel:       "info",
		LogFormat:      "logfmt",
	}
	cmd := &cobra.Command{
		Use:          "authgate-server",
		Short:        "Authorize, police, and meter API requests",
		Long:         desc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opt.Run()
		},
	}

	cmd.Flags().StringVar(&opt.ConfigFile, "config", opt.ConfigFile, "Path to the YAML configuration file.")
	cmd.Flags().StringVar(&opt.Listen, "listen", opt.Listen, "A host:port to listen on for API traffic.")
	cmd.Flags().StringVar(&opt.ListenInternal, "listen-internal", opt.ListenInternal, "A host:port to listen on for health and metrics.")
	cmd.Flags().StringVar(&opt.LogLevel, "log-level", opt.LogLevel, "Log filtering level: debug, info, warn, error.")
	cmd.Flags().StringVar(&opt.LogFormat, "log-format", opt.LogFormat, "Log format: logfmt or json.")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type Options struct {
	ConfigFile     string
	Listen         string
	ListenInternal string
	LogLevel       string
	LogFormat      string
}

func (o *Options) Run() error {
	cfg := &config.Config{}
	if o.ConfigFile != "" {
		loaded, err := config.Load(o.ConfigFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cfg.Server.Listen != "" {
		o.Listen = cfg.Server.Listen
	}
	if cfg.Server.ListenInternal != "" {
		o.ListenInternal = cfg.Server.ListenInternal
	}
	if cfg.Server.LogLevel != "" {
		o.LogLevel = cfg.Server.LogLevel
	}
	if cfg.Server.LogFormat != "" {
		o.LogFormat = cfg.Server.LogFormat
	}

	lgr := logger.NewLogger(o.LogFormat, o.LogLevel, "authgate-server")
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	authEnabled := cfg.Auth != nil

	validator, err := buildValidator(lgr, cfg.Auth, reg)
	if err != nil {
		return err
	}

	engine, err := policy.NewEngine(lgr, cfg.AccessPolicy, reg)
	if err != nil {
		return err
	}

	owners := policy.NewOwnerRegistry()
	gate := scope.NewGate(authEnabled)

	tracker, err := buildTracker(lgr, cfg.Quota, authEnabled, reg)
	if err != nil {
		return err
	}

	authorizer := server.NewAuthorizer(lgr, validator, gate, engine, owners, tracker, reg)

	external, err := buildExternalHandler(lgr, cfg, authorizer, owners, reg)
	if err != nil {
		return err
	}

	internal := authgatehttp.DebugRoutes(
		authgatehttp.MetricRoutes(
			authgatehttp.HealthRoutes(http.NewServeMux()), reg))

	var g run.Group
	{
		srv := &http.Server{Addr: o.Listen, Handler: external}
		g.Add(func() error {
			level.Info(lgr).Log("msg", "listening", "address", o.Listen)
			if cfg.Server.TLSCertPath != "" {
				return srv.ListenAndServeTLS(cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath)
			}
			return srv.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	{
		srv := &http.Server{Addr: o.ListenInternal, Handler: internal}
		g.Add(func() error {
			level.Info(lgr).Log("msg", "listening internal", "address", o.ListenInternal)
			return srv.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	{
		sig := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		g.Add(func() error {
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case s := <-sig:
				level.Info(lgr).Log("msg", "shutting down", "signal", s.String())
				return nil
			case <-cancel:
				return nil
			}
		}, func(error) {
			close(cancel)
		})
	}

	if err := g.Run(); err != nil {
		stdlog.Printf("server exited: %v", err)
		return err
	}
	return nil
}

func buildValidator(lgr log.Logger, cfg *config.AuthConfig, reg prometheus.Registerer) (authorize.Validator, error) {
	if cfg == nil {
		return nil, nil
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	pc := cfg.ProviderConfig

	switch pc.Type {
	case config.ProviderOAuth2:
		opts := authgatehttp.ClientOptions{Timeout: timeout}
		jwtCfg := jwt.Config{
			Issuer:          pc.Issuer,
			Audience:        pc.Audience,
			IssuerDiscovery: pc.IssuerDiscovery,
			ClaimsMapping:   pc.ClaimsMapping,
		}
		if pc.JWKS != nil {
			opts.CAFile = pc.JWKS.CAFile
			opts.BearerToken = pc.JWKS.Token
			jwtCfg.JWKSURI = pc.JWKS.URI
			jwtCfg.KeyRecheckPeriod = time.Duration(pc.JWKS.KeyRecheckPeriodSeconds) * time.Second
		}
		client, err := authgatehttp.NewClient(opts)
		if err != nil {
			return nil, err
		}
		return jwt.NewValidator(lgr, client, jwtCfg, reg)

	case config.ProviderGitHub:
		client, err := authgatehttp.NewClient(authgatehttp.ClientOptions{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		ghCfg := github.Config{
			APIBaseURL:    pc.GitHubAPIBaseURL,
			ClaimsMapping: pc.ClaimsMapping,
		}
		if uc := pc.UserInfoCache; uc != nil {
			ghCfg.Cache = cache.NewInstrumented(
				cachememcached.New(int32(uc.ExpirationSeconds), timeout, uc.MemcachedServers...),
				reg,
			)
		}
		return github.NewValidator(lgr, client, ghCfg), nil

	case config.ProviderCustom:
		client, err := authgatehttp.NewClient(authgatehttp.ClientOptions{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		endpoint, err := url.Parse(pc.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("auth endpoint must be a valid URL: %v", err)
		}
		return custom.NewValidator(lgr, client, endpoint), nil
	}

	return nil, fmt.Errorf("unknown provider type %q", pc.Type)
}

func buildTracker(lgr log.Logger, cfg *config.QuotaConfig, authEnabled bool, reg prometheus.Registerer) (*quota.Tracker, error) {
	if cfg == nil {
		return nil, nil
	}

	period, err := quota.ParsePeriod(cfg.Period)
	if err != nil {
		return nil, err
	}

	var store quota.Store
	switch cfg.KVStore.Type {
	case "memcached":
		store = quota.NewMemcachedStore(period, time.Duration(cfg.KVStore.TimeoutSeconds)*time.Second, cfg.KVStore.Servers...)
	default:
		store = quota.NewMemoryStore()
	}

	return quota.NewTracker(lgr, store, quota.Options{
		Period:           period,
		AnonymousMax:     cfg.AnonymousMaxRequests,
		AuthenticatedMax: cfg.AuthenticatedMaxRequests,
		AuthConfigured:   authEnabled,
	}, reg), nil
}

func buildExternalHandler(lgr log.Logger, cfg *config.Config, authorizer *server.Authorizer, owners *policy.OwnerRegistry, reg *prometheus.Registry) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(server.RequestLogger(lgr))
	if rl := cfg.RateLimit; rl != nil {
		r.Use(func(next http.Handler) http.Handler {
			return server.Ratelimit(rl.RequestsPerSecond, rl.Burst, time.Now, next)
		})
	}

	providerType := ""
	if cfg.Auth != nil {
		providerType = cfg.Auth.ProviderConfig.Type
	}
	r.Method(http.MethodGet, "/auth/providers", server.ProvidersHandler(providerType))
	r.Method(http.MethodGet, "/auth/whoami",
		authorizer.Wrap(server.Endpoint{Method: http.MethodGet, Pattern: "/auth/whoami"}, server.WhoamiHandler()))

	if dt := cfg.DevToken; dt != nil {
		issuer, err := buildDevIssuer(lgr, dt)
		if err != nil {
			return nil, err
		}
		r.Method(http.MethodPost, "/auth/token", issuer.TokenHandler())
		r.Method(http.MethodGet, "/auth/jwks", issuer.JWKSHandler())
	}

	resources := map[string]policy.ResourceType{
		"models":            policy.ResourceModel,
		"shields":           policy.ResourceShield,
		"vector_dbs":        policy.ResourceVectorDB,
		"datasets":          policy.ResourceDataset,
		"scoring_functions": policy.ResourceScoringFunction,
		"benchmarks":        policy.ResourceBenchmark,
		"tools":             policy.ResourceTool,
		"tool_groups":       policy.ResourceToolGroup,
		"sessions":          policy.ResourceSession,
	}
	for path, typ := range resources {
		mountResource(r, authorizer, owners, path, typ)
	}

	return authgatehttp.NewInstrumentedHandler(reg, "external", r), nil
}

// mountResource registers the demo CRUD surface for one resource type.
// Real deployments replace these handlers with the resource APIs; the
// endpoint metadata and the authorizer wrapping stay the same.
func mountResource(r chi.Router, authorizer *server.Authorizer, owners *policy.OwnerRegistry, path string, typ policy.ResourceType) {
	base := "/v1/" + path
	item := base + "/{id}"

	wrap := func(method, pattern string, action policy.Action, h http.Handler) {
		r.Method(method, pattern, authorizer.Wrap(server.Endpoint{
			Method:   method,
			Pattern:  pattern,
			Resource: typ,
			Action:   action,
		}, h))
	}

	wrap(http.MethodGet, base, policy.ActionRead, resourceHandler(typ, ""))
	wrap(http.MethodGet, item, policy.ActionRead, resourceHandler(typ, "read"))
	wrap(http.MethodPost, item, policy.ActionCreate, createHandler(typ, owners))
	wrap(http.MethodPut, item, policy.ActionUpdate, resourceHandler(typ, "updated"))
	wrap(http.MethodDelete, item, policy.ActionDelete, deleteHandler(typ, owners))
}

func resourceHandler(typ policy.ResourceType, status string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"type":   string(typ),
			"id":     chi.URLParam(r, "id"),
			"status": status,
		})
	})
}

// createHandler records the creating principal as the resource owner, the
// hook the ownership conditions in the policy engine rely on.
func createHandler(typ policy.ResourceType, owners *policy.OwnerRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := policy.ResourceRef{Type: typ, ID: chi.URLParam(r, "id")}
		if p, ok := authorize.FromContext(r.Context()); ok {
			owners.Record(ref, p)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"type":   string(typ),
			"id":     ref.ID,
			"status": "created",
		})
	})
}

func deleteHandler(typ policy.ResourceType, owners *policy.OwnerRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := policy.ResourceRef{Type: typ, ID: chi.URLParam(r, "id")}
		owners.Forget(ref)
		w.WriteHeader(http.StatusNoContent)
	})
}

func buildDevIssuer(lgr log.Logger, cfg *config.DevTokenConfig) (*server.DevIssuer, error) {
	keyBytes, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read dev_token key: %v", err)
	}
	key, err := parsePrivateKey(keyBytes)
	if err != nil {
		return nil, err
	}

	kid := cfg.KeyID
	if kid == "" {
		kid = "dev"
	}

	users := make(map[string]server.DevUser, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Name] = server.DevUser{
			Secret:     u.Secret,
			Attributes: u.Attributes,
			Scopes:     u.Scopes,
		}
	}

	signer := jwt.NewSigner(cfg.Issuer, kid, key)
	return server.NewDevIssuer(lgr, signer, cfg.Audience, cfg.ExpireSeconds, users), nil
}

func parsePrivateKey(data []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("dev_token key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("dev_token key must be PKCS#1, PKCS#8, or EC")
}
