package domain

import "encoding/json"

// RoleOption is one selectable role in a pending context.
type RoleOption struct {
	Role      string `json:"role"`
	IsPrimary bool   `json:"is_primary"`
	IsActive  bool   `json:"is_active"`
}

// PendingContext describes what remains undecided after login or invite
// acceptance. It is transient: once resolution completes it is superseded
// by an ActiveIdentity and discarded.
type PendingContext struct {
	NeedsRoleSelection bool            `json:"needs_role_selection"`
	NeedsFirmSelection bool            `json:"needs_firm_selection"`
	AllRoles           []RoleOption    `json:"all_roles"`
	AllFirms           []Membership    `json:"all_firms"`
	User               json.RawMessage `json:"user,omitempty"`
}

// PrimaryRole returns the role the context resolves to when no role
// selection is required: the option flagged primary, else the first
// option, else empty.
func (p *PendingContext) PrimaryRole() string {
	for _, option := range p.AllRoles {
		if option.IsPrimary {
			return option.Role
		}
	}
	if len(p.AllRoles) > 0 {
		return p.AllRoles[0].Role
	}
	return ""
}
