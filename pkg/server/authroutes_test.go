package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/authgate/authgate/pkg/authorize"
	"github.com/authgate/authgate/pkg/authorize/jwt"
)

func newDevIssuerFixture(t *testing.T) *DevIssuer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer := jwt.NewSigner("https://dev.local", "dev-key", key)
	return NewDevIssuer(nil, signer, "authgate", 300, map[string]DevUser{
		"alice": {
			Secret: "alice-secret",
			Attributes: map[string][]string{
				authorize.AttributeTeams:    {"engineering"},
				authorize.AttributeProjects: {"inference"},
			},
			Scopes: []string{"models:read"},
		},
	})
}

func requestToken(t *testing.T, issuer *DevIssuer, username, secret string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "secret": secret})
	r := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	issuer.TokenHandler().ServeHTTP(w, r)
	return w
}

func TestDevIssuer_TokenRoundTrip(t *testing.T) {
	issuer := newDevIssuerFixture(t)

	jwks := httptest.NewServer(issuer.JWKSHandler())
	defer jwks.Close()

	w := requestToken(t, issuer, "alice", "alice-secret")
	if w.Code != http.StatusOK {
		t.Fatalf("token request failed: %d %s", w.Code, w.Body.String())
	}
	var res tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to parse token response: %v", err)
	}
	if res.ExpiresInSeconds != 300 {
		t.Errorf("expected 300s lifetime, got %d", res.ExpiresInSeconds)
	}

	// The issued token must validate against the issuer's own JWKS.
	v, err := jwt.NewValidator(nil, jwks.Client(), jwt.Config{
		Issuer:           "https://dev.local",
		Audience:         "authgate",
		JWKSURI:          jwks.URL,
		KeyRecheckPeriod: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}

	p, err := v.Validate(httptest.NewRequest(http.MethodGet, "/", nil).Context(), res.Token, authorize.RequestMeta{})
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if p.ID != "alice" {
		t.Errorf("expected principal alice, got %q", p.ID)
	}
	if !p.HasAttribute(authorize.AttributeTeams, "engineering") {
		t.Errorf("configured attributes missing: %v", p.Attributes)
	}
	if !p.HasScope("models:read") {
		t.Errorf("configured scope missing: %v", p.Scopes)
	}
}

func TestDevIssuer_BadCredentials(t *testing.T) {
	issuer := newDevIssuerFixture(t)

	if w := requestToken(t, issuer, "alice", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: expected 401, got %d", w.Code)
	}
	if w := requestToken(t, issuer, "mallory", "alice-secret"); w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: expected 401, got %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
	w := httptest.NewRecorder()
	issuer.TokenHandler().ServeHTTP(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", w.Code)
	}
}

func TestWhoamiHandler(t *testing.T) {
	p := &authorize.Principal{
		ID:         "alice",
		Attributes: map[string][]string{authorize.AttributeRoles: {"admin"}},
		Scopes:     map[string]struct{}{"models:read": {}},
	}

	r := httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
	r = r.WithContext(authorize.WithPrincipal(r.Context(), p))
	w := httptest.NewRecorder()
	WhoamiHandler().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Principal  string              `json:"principal"`
		Attributes map[string][]string `json:"attributes"`
		Scopes     []string            `json:"scopes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Principal != "alice" || len(body.Attributes["roles"]) != 1 || len(body.Scopes) != 1 {
		t.Errorf("unexpected identity response: %+v", body)
	}

	// Without a principal the endpoint reports an authentication failure.
	w = httptest.NewRecorder()
	WhoamiHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/whoami", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without principal, got %d", w.Code)
	}
}

func TestProvidersHandler(t *testing.T) {
	w := httptest.NewRecorder()
	ProvidersHandler("oauth2_token").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/providers", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"provider":"oauth2_token"}` {
		t.Errorf("unexpected body: %s", got)
	}

	w = httptest.NewRecorder()
	ProvidersHandler("").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/providers", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"provider":"none"}` {
		t.Errorf("unexpected body for disabled auth: %s", got)
	}
}
