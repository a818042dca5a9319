package identity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/taxdesk/identityctx/pkg/backend"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/domain"
)

// fakeSwitchAPI records switch calls. When block is non-nil the call
// parks until it is closed, so in-flight rejection can be exercised.
type fakeSwitchAPI struct {
	mu        sync.Mutex
	firmCalls []int64
	roleCalls []string
	resp      *backend.SwitchResponse
	err       error
	block     chan struct{}
	started   chan struct{}
}

func (f *fakeSwitchAPI) SwitchFirm(_ context.Context, firmID int64, role string) (*backend.SwitchResponse, error) {
	f.mu.Lock()
	f.firmCalls = append(f.firmCalls, firmID)
	f.mu.Unlock()
	return f.finish()
}

func (f *fakeSwitchAPI) SwitchRole(_ context.Context, apiRole string) (*backend.SwitchResponse, error) {
	f.mu.Lock()
	f.roleCalls = append(f.roleCalls, apiRole)
	f.mu.Unlock()
	return f.finish()
}

func (f *fakeSwitchAPI) finish() (*backend.SwitchResponse, error) {
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func switchResponse() *backend.SwitchResponse {
	return &backend.SwitchResponse{
		User:         []byte(`{"id":"u1"}`),
		Firms:        []byte(`[{"id":"m1","firm_id":1},{"id":"m2","firm_id":2}]`),
		AccessToken:  "switched-access",
		RefreshToken: "switched-refresh",
	}
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) InvalidateAll(context.Context) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func newTestSwitcher(api SwitchAPI) (*Switcher, *credstore.Store, *countingInvalidator) {
	creds := credstore.New(credstore.NewMemoryBackend(), credstore.NewMemoryBackend())
	invalidator := &countingInvalidator{}
	switcher := NewSwitcher(SwitcherConfig{
		API:         api,
		Creds:       creds,
		Invalidator: invalidator,
	})
	return switcher, creds, invalidator
}

func TestSwitchCrossFirm(t *testing.T) {
	ctx := context.Background()
	api := &fakeSwitchAPI{resp: switchResponse()}
	switcher, creds, invalidator := newTestSwitcher(api)

	current := membership("m1", 1, "team_member")
	current.IsCurrent = true
	target := membership("m2", 2, "team_member")

	result, err := switcher.Switch(ctx, target, current)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if !result.Switched {
		t.Error("Switched = false, want true")
	}
	if result.Redirect != "/taxdashboard" {
		t.Errorf("Redirect = %q, want /taxdashboard", result.Redirect)
	}
	if len(api.firmCalls) != 1 || api.firmCalls[0] != 2 {
		t.Errorf("firmCalls = %v, want [2]", api.firmCalls)
	}
	if len(api.roleCalls) != 0 {
		t.Errorf("roleCalls = %v, want none for a cross-firm switch", api.roleCalls)
	}

	token, err := creds.AccessToken(ctx)
	if err != nil || token != "switched-access" {
		t.Errorf("AccessToken = (%q, %v), want switched-access", token, err)
	}
	firms, err := creds.FirmsData(ctx)
	if err != nil || len(firms) == 0 {
		t.Errorf("FirmsData = (%s, %v), want fresh list persisted", firms, err)
	}
	identity, _ := creds.ActiveIdentity(ctx)
	if identity.FirmID != 2 || identity.UserType != "tax_preparer" {
		t.Errorf("persisted identity = %+v", identity)
	}

	invalidator.mu.Lock()
	calls := invalidator.calls
	invalidator.mu.Unlock()
	if calls != 1 {
		t.Errorf("InvalidateAll called %d times, want 1", calls)
	}
}

func TestSwitchSameFirmRoleUsesAPIRoleCode(t *testing.T) {
	ctx := context.Background()
	api := &fakeSwitchAPI{resp: switchResponse()}
	switcher, _, _ := newTestSwitcher(api)

	current := membership("m1", 1, "firm_admin")
	target := membership("m2", 1, "team_member")

	result, err := switcher.Switch(ctx, target, current)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if !result.Switched {
		t.Error("Switched = false, want true")
	}
	if len(api.roleCalls) != 1 || api.roleCalls[0] != "tax_preparer" {
		t.Errorf("roleCalls = %v, want [tax_preparer]", api.roleCalls)
	}
	if len(api.firmCalls) != 0 {
		t.Errorf("firmCalls = %v, want none for a same-firm switch", api.firmCalls)
	}
}

func TestSwitchAlreadyCurrentIsNoOp(t *testing.T) {
	ctx := context.Background()
	api := &fakeSwitchAPI{resp: switchResponse()}
	switcher, creds, _ := newTestSwitcher(api)

	current := membership("m1", 1, "team_member")
	current.IsCurrent = true

	tests := []struct {
		name   string
		target domain.Membership
	}{
		{name: "flagged current", target: current},
		{name: "same id", target: membership("m1", 1, "team_member")},
		{name: "same firm and role", target: membership("m9", 1, "team_member")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := switcher.Switch(ctx, tt.target, current)
			if err != nil {
				t.Fatalf("Switch: %v", err)
			}
			if result.Switched {
				t.Error("Switched = true, want false for a no-op")
			}
			if result.Redirect != "/taxdashboard" {
				t.Errorf("Redirect = %q, want current dashboard", result.Redirect)
			}
		})
	}
	if len(api.firmCalls)+len(api.roleCalls) != 0 {
		t.Error("no-op switches must not call upstream")
	}
	if token, _ := creds.AccessToken(ctx); token != "" {
		t.Error("no-op switches must not rotate tokens")
	}
}

func TestSwitchRejectsConcurrent(t *testing.T) {
	ctx := context.Background()
	api := &fakeSwitchAPI{
		resp:    switchResponse(),
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	switcher, _, _ := newTestSwitcher(api)

	current := membership("m1", 1, "team_member")
	first := membership("m2", 2, "team_member")
	second := membership("m3", 3, "team_member")

	started := api.started
	done := make(chan error, 1)
	go func() {
		_, err := switcher.Switch(ctx, first, current)
		done <- err
	}()
	<-started

	if _, err := switcher.Switch(ctx, second, current); !errors.Is(err, domain.ErrSwitchInFlight) {
		t.Errorf("concurrent Switch error = %v, want ErrSwitchInFlight", err)
	}

	close(api.block)
	if err := <-done; err != nil {
		t.Errorf("first Switch: %v", err)
	}

	// The guard releases once the first switch lands.
	if _, err := switcher.Switch(ctx, second, current); err != nil {
		t.Errorf("Switch after release: %v", err)
	}
}

func TestSwitchFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	creds := credstore.New(credstore.NewMemoryBackend(), credstore.NewMemoryBackend())
	if err := creds.SetTokens(ctx, "before-access", "before-refresh", false); err != nil {
		t.Fatalf("SetTokens: %v", err)
	}
	before := domain.ActiveIdentity{UserType: "tax_preparer", ActiveRole: "team_member", FirmID: 1}
	if err := creds.SetActiveIdentity(ctx, before); err != nil {
		t.Fatalf("SetActiveIdentity: %v", err)
	}

	tests := []struct {
		name string
		api  *fakeSwitchAPI
	}{
		{name: "upstream error", api: &fakeSwitchAPI{err: errors.New("boom")}},
		{name: "response without tokens", api: &fakeSwitchAPI{resp: &backend.SwitchResponse{User: []byte(`{}`)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			switcher := NewSwitcher(SwitcherConfig{API: tt.api, Creds: creds})
			current := membership("m1", 1, "team_member")
			target := membership("m2", 2, "team_member")
			if _, err := switcher.Switch(ctx, target, current); err == nil {
				t.Fatal("expected switch to fail")
			}
			token, err := creds.AccessToken(ctx)
			if err != nil || token != "before-access" {
				t.Errorf("AccessToken = (%q, %v), want before-access untouched", token, err)
			}
			identity, _ := creds.ActiveIdentity(ctx)
			if identity != before {
				t.Errorf("identity = %+v, want %+v untouched", identity, before)
			}
		})
	}
}

func TestSwitchResponseTokenShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    domain.TokenPair
		wantErr bool
	}{
		{
			name:    "nested tokens object",
			payload: `{"tokens": {"access": "a1", "refresh": "r1"}}`,
			want:    domain.TokenPair{AccessToken: "a1", RefreshToken: "r1"},
		},
		{
			name:    "flat access_token fields",
			payload: `{"access_token": "a2", "refresh_token": "r2"}`,
			want:    domain.TokenPair{AccessToken: "a2", RefreshToken: "r2"},
		},
		{
			name:    "flat access fields",
			payload: `{"access": "a3", "refresh": "r3"}`,
			want:    domain.TokenPair{AccessToken: "a3", RefreshToken: "r3"},
		},
		{
			name:    "nested wins over flat",
			payload: `{"tokens": {"access": "a4", "refresh": "r4"}, "access_token": "x", "refresh_token": "y"}`,
			want:    domain.TokenPair{AccessToken: "a4", RefreshToken: "r4"},
		},
		{
			name:    "incomplete pair falls through to a complete one",
			payload: `{"tokens": {"access": "a5"}, "access_token": "a6", "refresh_token": "r6"}`,
			want:    domain.TokenPair{AccessToken: "a6", RefreshToken: "r6"},
		},
		{
			name:    "no tokens anywhere",
			payload: `{"user": {"id": "u1"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp backend.SwitchResponse
			if err := json.Unmarshal([]byte(tt.payload), &resp); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			pair, err := resp.TokenPair()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrNoTokensInResponse) {
					t.Errorf("error = %v, want ErrNoTokensInResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TokenPair: %v", err)
			}
			if pair != tt.want {
				t.Errorf("TokenPair = %+v, want %+v", pair, tt.want)
			}
		})
	}
}
