package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/authgate/authgate/pkg/authorize"
	"github.com/authgate/authgate/pkg/authorize/jwt"
)

// ProvidersHandler reports which authentication strategy the server is
// running, for client discovery. Public.
func ProvidersHandler(providerType string) http.Handler {
	if providerType == "" {
		providerType = "none"
	}
	body, _ := json.Marshal(map[string]string{"provider": providerType})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}

// WhoamiHandler echoes the caller's resolved identity: principal,
// attributes, scopes. Runs behind the authorizer.
func WhoamiHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := authorize.FromContext(r.Context())
		if !ok {
			WriteError(w, authorize.NewUnauthenticated("no principal in context", nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Principal  string              `json:"principal"`
			Attributes map[string][]string `json:"attributes,omitempty"`
			Scopes     []string            `json:"scopes,omitempty"`
		}{
			Principal:  p.ID,
			Attributes: p.Attributes,
			Scopes:     p.ScopeList(),
		})
	})
}

// DevUser is one identity the dev issuer signs tokens for.
type DevUser struct {
	Secret     string
	Attributes map[string][]string
	Scopes     []string
}

// DevIssuer signs short-lived JWTs for a static identity table and
// serves the matching JWKS. It exists so the oauth2_token strategy can
// run end to end without an external identity provider; it has no place
// in production configurations.
type DevIssuer struct {
	signer        *jwt.Signer
	audience      string
	expireSeconds int64
	users         map[string]DevUser
	logger        log.Logger
}

func NewDevIssuer(logger log.Logger, signer *jwt.Signer, audience string, expireSeconds int64, users map[string]DevUser) *DevIssuer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if expireSeconds <= 0 {
		expireSeconds = 15 * 60
	}
	return &DevIssuer{
		signer:        signer,
		audience:      audience,
		expireSeconds: expireSeconds,
		users:         users,
		logger:        log.With(logger, "component", "server/devissuer"),
	}
}

type tokenRequest struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

type tokenResponse struct {
	Token            string `json:"token"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

// TokenHandler exchanges a username/secret pair for a signed JWT whose
// claims carry the user's configured attributes and scopes.
func (d *DevIssuer) TokenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Only POST is allowed to this endpoint", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, 4*1024)
		defer r.Body.Close()

		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		user, ok := d.users[req.Username]
		if !ok || user.Secret != req.Secret {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		claims := jwt.Claims(req.Username, []string{d.audience}, d.expireSeconds)
		private := devClaims(user)

		token, err := d.signer.GenerateToken(claims, private)
		if err != nil {
			level.Error(d.logger).Log("msg", "unable to generate token", "err", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{
			Token:            token,
			ExpiresInSeconds: d.expireSeconds,
		})
	})
}

// JWKSHandler serves the issuer's public key set at the URI the
// oauth2_token strategy is pointed at.
func (d *DevIssuer) JWKSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keySet, err := d.signer.KeySet()
		if err != nil {
			level.Error(d.logger).Log("msg", "unable to build JWKS", "err", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keySet)
	})
}

// devClaims flattens the user's attribute table into claims the default
// claims mapping will pick up, plus the space-delimited scope claim.
func devClaims(user DevUser) map[string]interface{} {
	claims := make(map[string]interface{})
	for category, values := range user.Attributes {
		switch category {
		case authorize.AttributeRoles:
			claims["username"] = values
		case authorize.AttributeTeams:
			claims["groups"] = values
		case authorize.AttributeProjects:
			claims["project"] = values
		case authorize.AttributeNamespaces:
			claims["namespace"] = values
		}
	}
	if len(user.Scopes) > 0 {
		claims["scope"] = strings.Join(user.Scopes, " ")
	}
	return claims
}
