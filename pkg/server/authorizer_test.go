package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/authgate/authgate/pkg/authorize"
	"github.com/authgate/authgate/pkg/policy"
	"github.com/authgate/authgate/pkg/quota"
	"github.com/authgate/authgate/pkg/scope"
)

// stubValidator authenticates a fixed token-to-principal table.
type stubValidator struct {
	principals map[string]*authorize.Principal
}

func (v *stubValidator) Validate(_ context.Context, token string, _ authorize.RequestMeta) (*authorize.Principal, error) {
	p, ok := v.principals[token]
	if !ok {
		return nil, authorize.NewUnauthenticated("unknown token", nil)
	}
	return p, nil
}

func testAuthorizer(t *testing.T, rules []policy.RuleSpec, tracker *quota.Tracker) (*Authorizer, *policy.OwnerRegistry) {
	t.Helper()
	engine, err := policy.NewEngine(nil, rules, nil)
	if err != nil {
		t.Fatalf("failed to compile policy: %v", err)
	}
	owners := policy.NewOwnerRegistry()
	validator := &stubValidator{principals: map[string]*authorize.Principal{
		"alice-token": {
			ID:         "alice",
			Attributes: map[string][]string{authorize.AttributeRoles: {"admin"}},
			Scopes:     map[string]struct{}{"models:read": {}},
		},
		"bob-token": {ID: "bob"},
	}}
	return NewAuthorizer(nil, validator, scope.NewGate(true), engine, owners, tracker, nil), owners
}

// newTestRouter mounts h behind a chi route so the "id" URL parameter
// resolves the way it does in the real server.
func newTestRouter(t *testing.T, h http.Handler) http.Handler {
	t.Helper()
	router := chi.NewRouter()
	router.Method(http.MethodGet, "/v1/models/{id}", h)
	return router
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthorizer_MissingCredentials(t *testing.T) {
	a, _ := testAuthorizer(t, nil, nil)
	ep := Endpoint{Method: http.MethodGet, Pattern: "/v1/models", Resource: policy.ResourceModel, Action: policy.ActionRead}

	var called bool
	h := a.Wrap(ep, okHandler(&called))

	for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer ", "bearer-less"} {
		r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, w.Code)
		}
	}
	if called {
		t.Error("handler ran without credentials")
	}
}

func TestAuthorizer_RejectedToken(t *testing.T) {
	a, _ := testAuthorizer(t, nil, nil)
	ep := Endpoint{Resource: policy.ResourceModel, Action: policy.ActionRead}

	var called bool
	r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	r.Header.Set("Authorization", "Bearer stolen-token")
	w := httptest.NewRecorder()
	a.Wrap(ep, okHandler(&called)).ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected 401 without handler execution, got %d (called=%v)", w.Code, called)
	}
}

func TestAuthorizer_PrincipalReachesHandler(t *testing.T) {
	a, _ := testAuthorizer(t, nil, nil)
	ep := Endpoint{Resource: policy.ResourceModel, Action: policy.ActionRead}

	var got *authorize.Principal
	h := a.Wrap(ep, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = authorize.FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	r.Header.Set("Authorization", "Bearer alice-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got == nil || got.ID != "alice" {
		t.Fatalf("principal did not reach the handler: %+v", got)
	}
}

func TestAuthorizer_PolicyDenial(t *testing.T) {
	rules := []policy.RuleSpec{{
		Effect:  "permit",
		Actions: []string{"read"},
		When:    "user with admin in roles",
	}}
	a, _ := testAuthorizer(t, rules, nil)
	ep := Endpoint{Resource: policy.ResourceModel, Action: policy.ActionRead}

	var called bool
	h := a.Wrap(ep, okHandler(&called))

	r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	r.Header.Set("Authorization", "Bearer bob-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden || called {
		t.Fatalf("expected 403 without handler execution, got %d (called=%v)", w.Code, called)
	}

	r = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	r.Header.Set("Authorization", "Bearer alice-token")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected admin to pass, got %d", w.Code)
	}
}

func TestAuthorizer_OwnershipDenial(t *testing.T) {
	// Default policy: owned resources are visible to their creator only.
	a, owners := testAuthorizer(t, nil, nil)
	owners.Record(policy.ResourceRef{Type: policy.ResourceModel, ID: "private"}, &authorize.Principal{ID: "alice"})

	ep := Endpoint{Resource: policy.ResourceModel, Action: policy.ActionRead}
	var called bool
	router := newTestRouter(t, a.Wrap(ep, okHandler(&called)))

	r := httptest.NewRequest(http.MethodGet, "/v1/models/private", nil)
	r.Header.Set("Authorization", "Bearer bob-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/v1/models/private", nil)
	r.Header.Set("Authorization", "Bearer alice-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", w.Code)
	}
}

func TestAuthorizer_ScopeDenial(t *testing.T) {
	a, _ := testAuthorizer(t, nil, nil)
	ep := Endpoint{Resource: policy.ResourceModel, Action: policy.ActionRead, RequiredScope: "models:read"}

	var called bool
	h := a.Wrap(ep, okHandler(&called))

	r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	r.Header.Set("Authorization", "Bearer bob-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden || called {
		t.Fatalf("expected 403 without handler execution, got %d (called=%v)", w.Code, called)
	}
}

func TestAuthorizer_QuotaExceeded(t *testing.T) {
	tracker := quota.NewTracker(nil, quota.NewMemoryStore(), quota.Options{
		Period:       quota.PeriodDay,
		AnonymousMax: 2,
	}, nil)
	a, _ := testAuthorizer(t, nil, tracker)
	ep := Endpoint{Resource: policy.ResourceModel, Action: policy.ActionRead}

	var called bool
	h := a.Wrap(ep, okHandler(&called))

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		r.Header.Set("Authorization", "Bearer alice-token")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d within quota failed: %d", i+1, w.Code)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	r.Header.Set("Authorization", "Bearer alice-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON body, got content type %q", ct)
	}
	want := `{"error":{"message":"Quota exceeded"}}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("expected body %s, got %s", want, got)
	}
}

func TestAuthorizer_PublicEndpointSkipsEverything(t *testing.T) {
	a, _ := testAuthorizer(t, nil, nil)
	ep := Endpoint{Public: true}

	var called bool
	r := httptest.NewRequest(http.MethodGet, "/auth/providers", nil)
	w := httptest.NewRecorder()
	a.Wrap(ep, okHandler(&called)).ServeHTTP(w, r)

	if w.Code != http.StatusOK || !called {
		t.Fatalf("public endpoint was gated: %d (called=%v)", w.Code, called)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:4431"
	if got := ClientIP(r); got != "192.0.2.7" {
		t.Errorf("expected 192.0.2.7, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 192.0.2.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Errorf("expected first forwarded hop, got %q", got)
	}
}
