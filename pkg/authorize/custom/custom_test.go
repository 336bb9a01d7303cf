package custom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/authgate/authgate/pkg/authorize"
)

func newValidatorFor(t *testing.T, handler http.Handler) (authorize.Validator, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	endpoint, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}
	return NewValidator(nil, server.Client(), endpoint), server
}

func reasonOf(err error) authorize.Reason {
	if e, ok := err.(*authorize.Error); ok {
		return e.Reason
	}
	return ""
}

func TestValidator_AttributesFromDelegate(t *testing.T) {
	var received validationRequest
	v, _ := newValidatorFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(validationResponse{
			AccessAttributes: map[string][]string{
				authorize.AttributeRoles: {"admin"},
				authorize.AttributeTeams: {"ml-team"},
			},
		})
	}))

	p, err := v.Validate(context.Background(), "secret-key", authorize.RequestMeta{
		Path:    "/v1/models/m-7b",
		Headers: map[string]string{"Accept": "application/json"},
		Params:  map[string][]string{"verbose": {"true"}},
	})
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}

	if received.APIKey != "secret-key" {
		t.Errorf("delegate did not receive the api key, got %q", received.APIKey)
	}
	if received.Request.Path != "/v1/models/m-7b" {
		t.Errorf("delegate did not receive the request path, got %q", received.Request.Path)
	}
	if !p.HasAttribute(authorize.AttributeRoles, "admin") {
		t.Errorf("delegate attributes were not applied: %v", p.Attributes)
	}
}

func TestValidator_NoAttributesDefaultsToTokenNamespace(t *testing.T) {
	v, _ := newValidatorFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	p, err := v.Validate(context.Background(), "legacy-token", authorize.RequestMeta{})
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if !p.HasAttribute(authorize.AttributeNamespaces, "legacy-token") {
		t.Errorf("expected token value as sole namespace, got %v", p.Attributes)
	}
}

func TestValidator_DelegateRejection(t *testing.T) {
	v, _ := newValidatorFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(validationResponse{Message: "token revoked"})
	}))

	_, err := v.Validate(context.Background(), "revoked", authorize.RequestMeta{})
	if reasonOf(err) != authorize.ReasonUnauthenticated {
		t.Fatalf("rejected token was accepted: %v", err)
	}
	// The upstream message stays out of the client-facing error.
	if e := err.(*authorize.Error); e.Message == "token revoked" {
		t.Errorf("upstream message leaked into the error: %v", e)
	}
}

func TestValidator_DelegateUnreachable(t *testing.T) {
	v, server := newValidatorFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	if _, err := v.Validate(context.Background(), "any", authorize.RequestMeta{}); reasonOf(err) != authorize.ReasonUpstreamUnavailable {
		t.Fatalf("expected upstream failure, got: %v", err)
	}
}
