package identity

import "github.com/taxdesk/identityctx/pkg/domain"

// currentMatcher decides whether one membership should be current. The
// matchers form an ordered fallback chain evaluated with early exit, so
// the priority order is testable in isolation.
type currentMatcher func(m *domain.Membership, raw *domain.RawMembership, hints Hints) bool

// currentMatchers in priority order: an authoritative flag on the record,
// then firm-plus-category matching, then the firm-only fallback. Raw
// payloads originate from endpoints with different completeness
// guarantees; the chain degrades gracefully without guessing when no firm
// id is known at all, in which case nothing is marked current and the
// caller defaults to the first entry.
var currentMatchers = []currentMatcher{
	matchExplicitFlag,
	matchFirmAndCategory,
	matchFirmOnly,
}

func matchesCurrent(m *domain.Membership, raw *domain.RawMembership, hints Hints) bool {
	for _, match := range currentMatchers {
		if match(m, raw, hints) {
			return true
		}
	}
	return false
}

// matchExplicitFlag accepts a record that carries is_current=true
// unconditionally.
func matchExplicitFlag(_ *domain.Membership, raw *domain.RawMembership, _ Hints) bool {
	return raw.IsCurrent
}

// matchFirmAndCategory requires both a firm id and a user type hint. The
// record's firm must match and its role must belong to the role set mapped
// from the user type. When the user type maps to no known set there is no
// definitive verdict, and a direct string match against the current role
// serves as a secondary signal; a failed role-set test is never overridden
// by it.
func matchFirmAndCategory(m *domain.Membership, _ *domain.RawMembership, hints Hints) bool {
	if hints.CurrentFirmID == nil || hints.ActiveUserType == "" {
		return false
	}
	if m.Firm.ID == 0 || m.Firm.ID != *hints.CurrentFirmID {
		return false
	}
	if set := domain.RoleSetForUserType(hints.ActiveUserType); set != nil {
		_, ok := set[m.Role]
		return ok
	}
	return hints.CurrentRole != "" && domain.NormalizeRole(hints.CurrentRole) == m.Role
}

// matchFirmOnly applies when only a firm id is known. The firm must match
// and, if a current role is also known, the normalized roles must be
// equal.
func matchFirmOnly(m *domain.Membership, _ *domain.RawMembership, hints Hints) bool {
	if hints.CurrentFirmID == nil || hints.ActiveUserType != "" {
		return false
	}
	if m.Firm.ID == 0 || m.Firm.ID != *hints.CurrentFirmID {
		return false
	}
	if hints.CurrentRole == "" {
		return true
	}
	return domain.NormalizeRole(hints.CurrentRole) == m.Role
}
