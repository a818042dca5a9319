package domain

import (
	"strings"
	"unicode"
)

// Category is the coarse login type derived from a role.
type Category string

const (
	CategoryFirm     Category = "firm"
	CategoryTaxpayer Category = "taxpayer"
	CategoryOther    Category = "other"
)

// RoleTeamMember is the role assumed when a raw record carries no role at all.
const RoleTeamMember = "team_member"

// firmRoles and taxpayerRoles are the fixed classification sets. They are
// the single source of truth for category decisions; no other code may
// duplicate this rule. Both raw and normalized spellings are listed so the
// classifier accepts either.
var firmRoles = map[string]struct{}{
	"firm":         {},
	"admin":        {},
	"firmadmin":    {},
	"firm_admin":   {},
	"staff":        {},
	"tax_preparer": {},
	"taxpreparer":  {},
	"team_member":  {},
	"teammember":   {},
	"accountant":   {},
	"bookkeeper":   {},
	"assistant":    {},
	"preparer":     {},
}

var taxpayerRoles = map[string]struct{}{
	"client":   {},
	"taxpayer": {},
}

// Classify maps a raw or normalized role string to its category.
// Matching is case-insensitive and ignores surrounding whitespace.
func Classify(role string) Category {
	key := strings.ToLower(strings.TrimSpace(role))
	if _, ok := firmRoles[key]; ok {
		return CategoryFirm
	}
	if _, ok := taxpayerRoles[key]; ok {
		return CategoryTaxpayer
	}
	return CategoryOther
}

// NormalizeRole converts a raw role string to canonical snake_case.
// An empty role defaults to team_member. The function is idempotent:
// normalizing an already-normalized role returns it unchanged.
func NormalizeRole(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return RoleTeamMember
	}

	var b strings.Builder
	b.Grow(len(role) + 2)
	prev := rune(0)
	for _, r := range role {
		switch {
		case r == ' ' || r == '-':
			if prev != '_' {
				b.WriteByte('_')
				prev = '_'
			}
		case unicode.IsUpper(r):
			if prev != 0 && prev != '_' && !unicode.IsUpper(prev) {
				b.WriteByte('_')
			}
			lower := unicode.ToLower(r)
			b.WriteRune(lower)
			prev = r
		default:
			b.WriteRune(r)
			prev = r
		}
	}
	return b.String()
}

// roleSetsByUserType maps an active user type to the set of roles that
// belong to it, used by firm-and-category disambiguation.
var roleSetsByUserType = map[string]map[string]struct{}{
	"client": {
		"client":   {},
		"taxpayer": {},
	},
	"tax_preparer": {
		"team_member":  {},
		"teammember":   {},
		"tax_preparer": {},
		"taxpreparer":  {},
		"staff":        {},
	},
	"admin": {
		"firm_admin": {},
		"admin":      {},
		"firm":       {},
		"firmadmin":  {},
	},
	"super_admin": {
		"super_admin": {},
	},
}

// RoleSetForUserType returns the role set mapped from a user type, or nil
// when the user type has no known set.
func RoleSetForUserType(userType string) map[string]struct{} {
	return roleSetsByUserType[strings.ToLower(strings.TrimSpace(userType))]
}

// apiRoleCodes maps a UI role to the role code the switch-role endpoint
// expects.
var apiRoleCodes = map[string]string{
	"team_member": "tax_preparer",
	"teammember":  "tax_preparer",
	"staff":       "tax_preparer",
	"taxpayer":    "client",
	"client":      "client",
	"firm_admin":  "firm",
	"firmadmin":   "firm",
	"admin":       "firm",
}

// APIRoleCode maps a UI role to its API role code for same-firm role
// switches. Roles without a mapping pass through normalized.
func APIRoleCode(role string) string {
	normalized := NormalizeRole(role)
	if code, ok := apiRoleCodes[normalized]; ok {
		return code
	}
	return normalized
}

// userTypesByRole maps a role to the user type that drives routing.
var userTypesByRole = map[string]string{
	"team_member":  "tax_preparer",
	"teammember":   "tax_preparer",
	"staff":        "tax_preparer",
	"tax_preparer": "tax_preparer",
	"taxpreparer":  "tax_preparer",
	"preparer":     "tax_preparer",
	"accountant":   "tax_preparer",
	"bookkeeper":   "tax_preparer",
	"assistant":    "tax_preparer",
	"client":       "client",
	"taxpayer":     "client",
	"firm_admin":   "admin",
	"firmadmin":    "admin",
	"admin":        "admin",
	"firm":         "admin",
	"super_admin":  "super_admin",
}

// UserTypeForRole derives the user type from a role. Unknown roles pass
// through normalized so callers fall into the default routing branch.
func UserTypeForRole(role string) string {
	normalized := NormalizeRole(role)
	if ut, ok := userTypesByRole[normalized]; ok {
		return ut
	}
	return normalized
}
