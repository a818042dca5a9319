package backend

import (
	"encoding/json"

	"github.com/taxdesk/identityctx/pkg/domain"
)

// ContextResponse is the payload of the get-available-contexts endpoint.
type ContextResponse struct {
	NeedsRoleSelection bool                   `json:"needs_role_selection"`
	NeedsFirmSelection bool                   `json:"needs_firm_selection"`
	AllRoles           []domain.RoleOption    `json:"all_roles"`
	AllFirms           []domain.RawMembership `json:"all_firms"`
	User               json.RawMessage        `json:"user"`
}

// ExchangeResponse is the payload of the select-role and select-firm
// endpoints.
type ExchangeResponse struct {
	User         json.RawMessage `json:"user"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
}

// TokenPair returns the rotated tokens from a selection exchange.
func (r *ExchangeResponse) TokenPair() (domain.TokenPair, error) {
	pair := domain.TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if !pair.Complete() {
		return domain.TokenPair{}, domain.ErrNoTokensInResponse
	}
	return pair, nil
}

// nestedTokens is the wrapped token object some switch responses use.
type nestedTokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// SwitchResponse is the payload of the switch-firm and switch-role
// endpoints. The two endpoints disagree on where tokens live, so all three
// known shapes have slots and TokenPair reconciles them.
type SwitchResponse struct {
	User  json.RawMessage `json:"user"`
	Firms json.RawMessage `json:"firms"`

	Tokens       *nestedTokens `json:"tokens"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	Access       string        `json:"access"`
	Refresh      string        `json:"refresh"`
}

// TokenPair extracts the rotated tokens, accepting any of the three
// response shapes: nested tokens{access,refresh}, flat
// access_token/refresh_token, or flat access/refresh.
func (r *SwitchResponse) TokenPair() (domain.TokenPair, error) {
	candidates := []domain.TokenPair{
		{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken},
		{AccessToken: r.Access, RefreshToken: r.Refresh},
	}
	if r.Tokens != nil {
		candidates = append([]domain.TokenPair{
			{AccessToken: r.Tokens.Access, RefreshToken: r.Tokens.Refresh},
		}, candidates...)
	}
	for _, pair := range candidates {
		if pair.Complete() {
			return pair, nil
		}
	}
	return domain.TokenPair{}, domain.ErrNoTokensInResponse
}

// FirmList decodes the firms payload into raw membership records.
// Persistence keeps the bytes verbatim; this decode is for callers that
// need the fresh list immediately.
func (r *SwitchResponse) FirmList() ([]domain.RawMembership, error) {
	if len(r.Firms) == 0 {
		return nil, nil
	}
	var firms []domain.RawMembership
	if err := json.Unmarshal(r.Firms, &firms); err != nil {
		return nil, err
	}
	return firms, nil
}
