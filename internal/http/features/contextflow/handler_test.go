package contextflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/taxdesk/identityctx/pkg/backend"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/identity"
)

type stubExchangeAPI struct{}

func (stubExchangeAPI) SelectRole(context.Context, string) (*backend.ExchangeResponse, error) {
	return &backend.ExchangeResponse{
		User:         []byte(`{"id":"u1"}`),
		AccessToken:  "a1",
		RefreshToken: "r1",
	}, nil
}

func (stubExchangeAPI) SelectFirm(context.Context, string) (*backend.ExchangeResponse, error) {
	return &backend.ExchangeResponse{
		User:         []byte(`{"id":"u1"}`),
		AccessToken:  "a1",
		RefreshToken: "r1",
	}, nil
}

func newTestHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	creds := credstore.New(credstore.NewMemoryBackend(), credstore.NewMemoryBackend())
	selection := identity.NewSelection(stubExchangeAPI{}, creds, logger)
	resolver := identity.NewResolver(identity.ResolverConfig{
		Selection: selection,
		Creds:     creds,
		Logger:    logger,
	})
	return NewHandler(logger, resolver)
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) StateResponse {
	t.Helper()
	var resp StateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestBeginWithPayloadResolvesDirectly(t *testing.T) {
	handler := newTestHandler()

	body := `{"all_roles": [{"role": "client", "is_primary": true}]}`
	req := httptest.NewRequest("POST", "/v1/context", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Begin(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeState(t, w)
	if resp.State != "resolved" {
		t.Errorf("state = %q, want resolved", resp.State)
	}
	if resp.Redirect != "/dashboard" {
		t.Errorf("redirect = %q, want /dashboard", resp.Redirect)
	}
}

func TestBeginWithRoleSelection(t *testing.T) {
	handler := newTestHandler()

	body := `{
		"needs_role_selection": true,
		"all_roles": [{"role": "team_member"}, {"role": "client"}]
	}`
	req := httptest.NewRequest("POST", "/v1/context", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Begin(w, req)

	resp := decodeState(t, w)
	if resp.State != "role_selection" {
		t.Fatalf("state = %q, want role_selection", resp.State)
	}
	if len(resp.RoleBuckets) != 2 {
		t.Errorf("got %d role buckets, want 2", len(resp.RoleBuckets))
	}

	// Choosing an offered role completes the flow.
	req = httptest.NewRequest("POST", "/v1/context/role", strings.NewReader(`{"role": "team_member"}`))
	w = httptest.NewRecorder()
	handler.SelectRole(w, req)

	resp = decodeState(t, w)
	if resp.State != "resolved" || resp.Redirect != "/taxdashboard" {
		t.Errorf("after role choice: state %q redirect %q", resp.State, resp.Redirect)
	}
}

func TestBeginRejectsMalformedBody(t *testing.T) {
	handler := newTestHandler()
	req := httptest.NewRequest("POST", "/v1/context", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	handler.Begin(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSelectRoleValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "missing role", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "step not active", body: `{"role": "client"}`, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler()
			req := httptest.NewRequest("POST", "/v1/context/role", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.SelectRole(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestSelectRoleNotOffered(t *testing.T) {
	handler := newTestHandler()

	body := `{"needs_role_selection": true, "all_roles": [{"role": "client"}]}`
	req := httptest.NewRequest("POST", "/v1/context", strings.NewReader(body))
	handler.Begin(httptest.NewRecorder(), req)

	req = httptest.NewRequest("POST", "/v1/context/role", strings.NewReader(`{"role": "firm_admin"}`))
	w := httptest.NewRecorder()
	handler.SelectRole(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unoffered role", w.Code)
	}
}

func TestSelectFirmUnknownMembership(t *testing.T) {
	handler := newTestHandler()

	body := `{
		"needs_firm_selection": true,
		"all_roles": [{"role": "team_member", "is_primary": true}],
		"all_firms": [
			{"id": "m1", "role": "team_member", "firm_id": 1},
			{"id": "m2", "role": "team_member", "firm_id": 2}
		]
	}`
	req := httptest.NewRequest("POST", "/v1/context", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Begin(w, req)
	if resp := decodeState(t, w); resp.State != "firm_selection" {
		t.Fatalf("state = %q, want firm_selection", resp.State)
	}

	req = httptest.NewRequest("POST", "/v1/context/firm", strings.NewReader(`{"membership_id": "m9"}`))
	w = httptest.NewRecorder()
	handler.SelectFirm(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetReportsState(t *testing.T) {
	handler := newTestHandler()

	req := httptest.NewRequest("GET", "/v1/context", nil)
	w := httptest.NewRecorder()
	handler.Get(w, req)

	resp := decodeState(t, w)
	if resp.State != "awaiting_context" {
		t.Errorf("state = %q, want awaiting_context", resp.State)
	}
}
