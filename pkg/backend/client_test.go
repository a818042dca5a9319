package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taxdesk/identityctx/pkg/domain"
)

type staticTokens string

func (t staticTokens) AccessToken(context.Context) (string, error) {
	return string(t), nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{BaseURL: server.URL, Tokens: staticTokens("token-1")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, server
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Tokens: staticTokens("t")}); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := New(Config{BaseURL: "http://localhost"}); err == nil {
		t.Error("expected error without token source")
	}
}

func TestClientRequestHeaders(t *testing.T) {
	var got *http.Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Write([]byte(`[]`))
	})

	if _, err := client.Memberships(context.Background()); err != nil {
		t.Fatalf("Memberships: %v", err)
	}
	if auth := got.Header.Get("Authorization"); auth != "Bearer token-1" {
		t.Errorf("Authorization = %q, want Bearer token-1", auth)
	}
	if got.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
	if accept := got.Header.Get("Accept"); accept != "application/json" {
		t.Errorf("Accept = %q", accept)
	}
	if got.URL.Path != "/v1/account/memberships" {
		t.Errorf("path = %q", got.URL.Path)
	}
}

func TestClientOmitsBearerWithoutToken(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, Tokens: staticTokens("")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.Memberships(context.Background()); err != nil {
		t.Fatalf("Memberships: %v", err)
	}
	if auth != "" {
		t.Errorf("Authorization = %q, want unset", auth)
	}
}

func TestSelectRoleWiresRequestAndError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/account/select-role" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["role"] != "team_member" {
			t.Errorf("role = %q", body["role"])
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "a1",
			"refresh_token": "r1",
		})
	})

	resp, err := client.SelectRole(context.Background(), "team_member")
	if err != nil {
		t.Fatalf("SelectRole: %v", err)
	}
	pair, err := resp.TokenPair()
	if err != nil || pair.AccessToken != "a1" {
		t.Errorf("TokenPair = (%+v, %v)", pair, err)
	}
}

func TestSelectFirmFailureWrapsExchangeError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "membership disabled"}`))
	})

	_, err := client.SelectFirm(context.Background(), "m1")
	if !errors.Is(err, domain.ErrExchangeFailed) {
		t.Fatalf("error = %v, want ErrExchangeFailed", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v does not wrap APIError", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Message != "membership disabled" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestAvailableContextsWrapsFetchError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	_, err := client.AvailableContexts(context.Background())
	if !errors.Is(err, domain.ErrContextFetchFailed) {
		t.Errorf("error = %v, want ErrContextFetchFailed", err)
	}
}

func TestSwitchFirmDecodesTokenShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    domain.TokenPair
	}{
		{
			name:    "nested tokens",
			payload: `{"tokens": {"access": "a1", "refresh": "r1"}}`,
			want:    domain.TokenPair{AccessToken: "a1", RefreshToken: "r1"},
		},
		{
			name:    "flat access_token",
			payload: `{"access_token": "a2", "refresh_token": "r2"}`,
			want:    domain.TokenPair{AccessToken: "a2", RefreshToken: "r2"},
		},
		{
			name:    "flat access",
			payload: `{"access": "a3", "refresh": "r3"}`,
			want:    domain.TokenPair{AccessToken: "a3", RefreshToken: "r3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Fatalf("decode body: %v", err)
				}
				if body["firm_id"] != float64(7) || body["role"] != "team_member" {
					t.Errorf("body = %v", body)
				}
				w.Write([]byte(tt.payload))
			})

			resp, err := client.SwitchFirm(context.Background(), 7, "team_member")
			if err != nil {
				t.Fatalf("SwitchFirm: %v", err)
			}
			pair, err := resp.TokenPair()
			if err != nil {
				t.Fatalf("TokenPair: %v", err)
			}
			if pair != tt.want {
				t.Errorf("TokenPair = %+v, want %+v", pair, tt.want)
			}
		})
	}
}

func TestSwitchRoleSendsAPIRoleCode(t *testing.T) {
	var sentRole string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		sentRole = body["role"]
		w.Write([]byte(`{"access_token": "a", "refresh_token": "r"}`))
	})

	if _, err := client.SwitchRole(context.Background(), "tax_preparer"); err != nil {
		t.Fatalf("SwitchRole: %v", err)
	}
	if sentRole != "tax_preparer" {
		t.Errorf("sent role = %q, want tax_preparer", sentRole)
	}
}

func TestReadErrorMessageFallsBackToBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("plain text failure"))
	})
	_, err := client.Memberships(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.Message != "plain text failure" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}
