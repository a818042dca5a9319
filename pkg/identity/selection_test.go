package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/taxdesk/identityctx/pkg/backend"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/domain"
)

func TestBuckets(t *testing.T) {
	tests := []struct {
		name    string
		options []domain.RoleOption
		want    []domain.Category
	}{
		{
			name: "firm and taxpayer roles split",
			options: []domain.RoleOption{
				{Role: "client"},
				{Role: "team_member"},
				{Role: "taxpayer"},
			},
			want: []domain.Category{domain.CategoryFirm, domain.CategoryTaxpayer},
		},
		{
			name:    "firm only",
			options: []domain.RoleOption{{Role: "firm_admin"}, {Role: "staff"}},
			want:    []domain.Category{domain.CategoryFirm},
		},
		{
			name:    "unclassifiable roles excluded",
			options: []domain.RoleOption{{Role: "contractor"}},
			want:    nil,
		},
		{
			name:    "no options",
			options: nil,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets := Buckets(tt.options)
			if len(buckets) != len(tt.want) {
				t.Fatalf("got %d buckets %v, want %d", len(buckets), buckets, len(tt.want))
			}
			for i, category := range tt.want {
				if buckets[i].Category != category {
					t.Errorf("buckets[%d].Category = %q, want %q", i, buckets[i].Category, category)
				}
			}
		})
	}
}

func TestRoleBucketAutoRole(t *testing.T) {
	single := RoleBucket{Category: domain.CategoryFirm, Roles: []domain.RoleOption{{Role: "team_member"}}}
	if role, ok := single.AutoRole(); !ok || role != "team_member" {
		t.Errorf("AutoRole = (%q, %v), want (team_member, true)", role, ok)
	}

	double := RoleBucket{Category: domain.CategoryFirm, Roles: []domain.RoleOption{{Role: "team_member"}, {Role: "firm_admin"}}}
	if _, ok := double.AutoRole(); ok {
		t.Error("AutoRole should be false with two roles")
	}
}

func TestConfirmRolePersistsIdentity(t *testing.T) {
	ctx := context.Background()
	api := &fakeExchangeAPI{}
	creds := credstore.New(credstore.NewMemoryBackend(), credstore.NewMemoryBackend())
	selection := NewSelection(api, creds, nil)

	identity, err := selection.ConfirmRole(ctx, "teamMember")
	if err != nil {
		t.Fatalf("ConfirmRole: %v", err)
	}
	if identity.ActiveRole != "team_member" || identity.UserType != "tax_preparer" {
		t.Errorf("identity = %+v", identity)
	}
	// The raw role string goes to the API untouched.
	if len(api.roleCalls) != 1 || api.roleCalls[0] != "teamMember" {
		t.Errorf("roleCalls = %v", api.roleCalls)
	}

	token, err := creds.AccessToken(ctx)
	if err != nil || token != "access-role" {
		t.Errorf("AccessToken = (%q, %v), want access-role", token, err)
	}
	if !creds.LoggedIn(ctx) {
		t.Error("session should be logged in after a role exchange")
	}
	persisted, _ := creds.ActiveIdentity(ctx)
	if persisted.ActiveRole != "team_member" {
		t.Errorf("persisted identity = %+v", persisted)
	}
}

func TestConfirmFirmPersistsIdentity(t *testing.T) {
	ctx := context.Background()
	api := &fakeExchangeAPI{}
	creds := credstore.New(credstore.NewMemoryBackend(), credstore.NewMemoryBackend())
	selection := NewSelection(api, creds, nil)

	identity, err := selection.ConfirmFirm(ctx, membership("m7", 7, "client"))
	if err != nil {
		t.Fatalf("ConfirmFirm: %v", err)
	}
	if identity.FirmID != 7 || identity.UserType != "client" {
		t.Errorf("identity = %+v", identity)
	}
	if len(api.firmCalls) != 1 || api.firmCalls[0] != "m7" {
		t.Errorf("firmCalls = %v", api.firmCalls)
	}
}

func TestSelectionFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	creds := credstore.New(credstore.NewMemoryBackend(), credstore.NewMemoryBackend())
	if err := creds.SetTokens(ctx, "before-access", "before-refresh", false); err != nil {
		t.Fatalf("SetTokens: %v", err)
	}

	tests := []struct {
		name string
		api  ExchangeAPI
	}{
		{
			name: "upstream error",
			api:  &fakeExchangeAPI{roleErr: errors.New("boom"), firmErr: errors.New("boom")},
		},
		{
			name: "response without tokens",
			api:  tokenlessAPI{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selection := NewSelection(tt.api, creds, nil)
			if _, err := selection.ConfirmRole(ctx, "client"); err == nil {
				t.Fatal("expected role exchange to fail")
			}
			if _, err := selection.ConfirmFirm(ctx, membership("m1", 1, "client")); err == nil {
				t.Fatal("expected firm exchange to fail")
			}
			token, err := creds.AccessToken(ctx)
			if err != nil || token != "before-access" {
				t.Errorf("AccessToken = (%q, %v), want before-access untouched", token, err)
			}
			if creds.LoggedIn(ctx) {
				t.Error("failed exchange must not set the login flag")
			}
		})
	}
}

// tokenlessAPI returns well-formed responses that carry no tokens.
type tokenlessAPI struct{}

func (tokenlessAPI) SelectRole(context.Context, string) (*backend.ExchangeResponse, error) {
	return &backend.ExchangeResponse{User: []byte(`{"id":"u1"}`)}, nil
}

func (tokenlessAPI) SelectFirm(context.Context, string) (*backend.ExchangeResponse, error) {
	return &backend.ExchangeResponse{User: []byte(`{"id":"u1"}`)}, nil
}
