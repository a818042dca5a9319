package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taxdesk/identityctx/pkg/backend"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/domain"
)

// ExchangeAPI is the subset of the backend client the selection protocols
// use.
type ExchangeAPI interface {
	SelectRole(ctx context.Context, role string) (*backend.ExchangeResponse, error)
	SelectFirm(ctx context.Context, membershipID string) (*backend.ExchangeResponse, error)
}

// RoleBucket groups role options into one login type for the first
// selection phase.
type RoleBucket struct {
	Category domain.Category     `json:"category"`
	Roles    []domain.RoleOption `json:"roles"`
}

// AutoRole returns the bucket's single role when phase two can be
// skipped.
func (b RoleBucket) AutoRole() (string, bool) {
	if len(b.Roles) == 1 {
		return b.Roles[0].Role, true
	}
	return "", false
}

// Buckets groups role options into firm and taxpayer buckets via the
// category classifier. Roles that classify to neither are not selectable.
func Buckets(options []domain.RoleOption) []RoleBucket {
	var firm, taxpayer []domain.RoleOption
	for _, option := range options {
		switch domain.Classify(option.Role) {
		case domain.CategoryFirm:
			firm = append(firm, option)
		case domain.CategoryTaxpayer:
			taxpayer = append(taxpayer, option)
		}
	}
	var buckets []RoleBucket
	if len(firm) > 0 {
		buckets = append(buckets, RoleBucket{Category: domain.CategoryFirm, Roles: firm})
	}
	if len(taxpayer) > 0 {
		buckets = append(buckets, RoleBucket{Category: domain.CategoryTaxpayer, Roles: taxpayer})
	}
	return buckets
}

// Selection executes the two selection exchanges. On success it rotates
// tokens and persists the returned snapshot; on failure nothing is
// mutated, so the caller can retry the same step.
type Selection struct {
	api    ExchangeAPI
	creds  *credstore.Store
	logger *slog.Logger
}

// NewSelection creates the selection protocol executor.
func NewSelection(api ExchangeAPI, creds *credstore.Store, logger *slog.Logger) *Selection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selection{api: api, creds: creds, logger: logger}
}

// ConfirmRole trades a role choice for rotated credentials and persists
// the resulting identity.
func (s *Selection) ConfirmRole(ctx context.Context, role string) (*domain.ActiveIdentity, error) {
	resp, err := s.api.SelectRole(ctx, role)
	if err != nil {
		return nil, err
	}

	normalized := domain.NormalizeRole(role)
	identity := domain.ActiveIdentity{
		UserType:   domain.UserTypeForRole(normalized),
		ActiveRole: normalized,
	}
	if err := s.commit(ctx, resp, identity); err != nil {
		return nil, err
	}
	s.logger.Info("role selected", "role", normalized, "user_type", identity.UserType)
	return &identity, nil
}

// ConfirmFirm trades a firm choice for rotated credentials and persists
// the resulting identity.
func (s *Selection) ConfirmFirm(ctx context.Context, membership domain.Membership) (*domain.ActiveIdentity, error) {
	resp, err := s.api.SelectFirm(ctx, membership.ID)
	if err != nil {
		return nil, err
	}

	identity := domain.ActiveIdentity{
		UserType:   domain.UserTypeForRole(membership.Role),
		ActiveRole: membership.Role,
		FirmID:     membership.Firm.ID,
	}
	if err := s.commit(ctx, resp, identity); err != nil {
		return nil, err
	}
	s.logger.Info("firm selected",
		"membership_id", membership.ID,
		"firm_id", membership.Firm.ID,
		"user_type", identity.UserType,
	)
	return &identity, nil
}

// commit applies a verified exchange response: token rotation first, then
// the snapshot and identity. The remember preference is read before the
// rotation purges it.
func (s *Selection) commit(ctx context.Context, resp *backend.ExchangeResponse, identity domain.ActiveIdentity) error {
	pair, err := resp.TokenPair()
	if err != nil {
		return err
	}

	remember := s.creds.Remembered(ctx)
	if err := s.creds.SetTokens(ctx, pair.AccessToken, pair.RefreshToken, remember); err != nil {
		return fmt.Errorf("rotate tokens: %w", err)
	}
	if len(resp.User) > 0 {
		if err := s.creds.SetUserData(ctx, resp.User); err != nil {
			return fmt.Errorf("persist user snapshot: %w", err)
		}
	}
	if err := s.creds.SetActiveIdentity(ctx, identity); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}
	if err := s.creds.SetLoggedIn(ctx, true); err != nil {
		return fmt.Errorf("persist login flag: %w", err)
	}
	return nil
}
