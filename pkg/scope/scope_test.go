package scope

import (
	"testing"

	"github.com/authgate/authgate/pkg/authorize"
)

func TestGate_Check(t *testing.T) {
	reader := &authorize.Principal{
		ID:     "alice",
		Scopes: map[string]struct{}{"models:read": {}},
	}
	noScopes := &authorize.Principal{ID: "bob"}

	for _, tc := range []struct {
		name          string
		authEnabled   bool
		principal     *authorize.Principal
		requiredScope string
		wantDenied    bool
	}{
		{
			name:          "no required scope always passes",
			authEnabled:   true,
			principal:     noScopes,
			requiredScope: "",
		},
		{
			name:          "principal holds the scope",
			authEnabled:   true,
			principal:     reader,
			requiredScope: "models:read",
		},
		{
			name:          "principal lacks the scope",
			authEnabled:   true,
			principal:     reader,
			requiredScope: "models:write",
			wantDenied:    true,
		},
		{
			name:          "auth disabled bypasses the gate",
			authEnabled:   false,
			principal:     noScopes,
			requiredScope: "models:write",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := NewGate(tc.authEnabled).Check(tc.principal, tc.requiredScope)
			if tc.wantDenied {
				e, ok := err.(*authorize.Error)
				if !ok || e.Reason != authorize.ReasonForbidden {
					t.Fatalf("expected forbidden, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected denial: %v", err)
			}
		})
	}
}
