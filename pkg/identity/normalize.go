// Package identity implements the identity-context subsystem: membership
// normalization, login-context resolution, the selection protocols, and
// the runtime account switch.
package identity

import (
	"context"

	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/domain"
)

// Hints carry the current-membership disambiguation signals known to the
// caller. Payloads from different endpoints have different completeness
// guarantees, so any field may be absent.
type Hints struct {
	// CurrentFirmID is the firm id of the active identity, if known.
	CurrentFirmID *int64
	// CurrentRole is the active role string, if known.
	CurrentRole string
	// ActiveUserType is the persisted user type tag, if known.
	ActiveUserType string
}

// HintsFromStore builds disambiguation hints from the persisted active
// identity.
func HintsFromStore(ctx context.Context, creds *credstore.Store) Hints {
	identity, err := creds.ActiveIdentity(ctx)
	if err != nil {
		return Hints{}
	}
	hints := Hints{
		CurrentRole:    identity.ActiveRole,
		ActiveUserType: identity.UserType,
	}
	if identity.FirmID != 0 {
		firmID := identity.FirmID
		hints.CurrentFirmID = &firmID
	}
	return hints
}

// Normalize turns raw, inconsistently-shaped membership records into the
// canonical list. Output order matches input order. At most one entry is
// marked current: the first record satisfying a matcher tier claims the
// slot and every later candidate is forced to false.
func Normalize(raw []domain.RawMembership, hints Hints) []domain.Membership {
	memberships := make([]domain.Membership, 0, len(raw))
	claimed := false
	for i := range raw {
		record := &raw[i]
		role := domain.NormalizeRole(record.ExtractRole())
		firmID, _ := record.ExtractFirmID()

		membership := domain.Membership{
			ID: record.ExtractID(),
			Firm: domain.Firm{
				ID:   firmID,
				Name: record.ExtractFirmName(),
			},
			Role:        role,
			Category:    domain.Classify(role),
			Status:      record.ExtractStatus(),
			OfficeScope: record.ExtractOfficeScope(),
			Raw:         record,
		}

		if !claimed && matchesCurrent(&membership, record, hints) {
			membership.IsCurrent = true
			claimed = true
		}
		memberships = append(memberships, membership)
	}
	return memberships
}

// FilterByCategory returns the memberships whose role classifies to the
// given category, preserving order.
func FilterByCategory(memberships []domain.Membership, category domain.Category) []domain.Membership {
	var filtered []domain.Membership
	for _, m := range memberships {
		if m.Category == category {
			filtered = append(filtered, m)
		}
	}
	return filtered
}
