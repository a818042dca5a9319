package domain

import "sort"

// MembershipStatus represents the state of a user's membership at a firm.
type MembershipStatus string

const (
	MembershipStatusActive   MembershipStatus = "active"
	MembershipStatusPending  MembershipStatus = "pending"
	MembershipStatusDisabled MembershipStatus = "disabled"
)

// Firm identifies the firm side of a membership.
type Firm struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Membership is the canonical record for one (firm, role, status) tuple a
// user holds. Instances are constructed fresh on every normalization pass
// and never mutated in place; each data refresh produces a new list.
type Membership struct {
	ID          string           `json:"id"`
	Firm        Firm             `json:"firm"`
	Role        string           `json:"role"` // normalized snake_case
	Category    Category         `json:"category"`
	Status      MembershipStatus `json:"status"`
	OfficeScope []int64          `json:"office_scope,omitempty"`
	IsCurrent   bool             `json:"is_current"`

	// Raw keeps the original payload for diagnostics only.
	Raw *RawMembership `json:"-"`
}

// IsActive returns true if the membership is active.
func (m *Membership) IsActive() bool {
	return m.Status == MembershipStatusActive
}

// SortForDisplay orders memberships for display: the current membership
// first, then firm name ascending. The sort is stable so input order is
// preserved within each group.
func SortForDisplay(memberships []Membership) {
	sort.SliceStable(memberships, func(i, j int) bool {
		if memberships[i].IsCurrent != memberships[j].IsCurrent {
			return memberships[i].IsCurrent
		}
		return memberships[i].Firm.Name < memberships[j].Firm.Name
	})
}
