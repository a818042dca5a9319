package identity

import "strings"

// DefaultRedirect is the safe fallback dashboard.
const DefaultRedirect = "/dashboard"

// redirectPaths maps a user type to its dashboard path.
var redirectPaths = map[string]string{
	"super_admin":   "/superadmin",
	"support_admin": "/superadmin",
	"billing_admin": "/superadmin",
	"admin":         "/firmadmin",
	"firm":          "/firmadmin",
	"tax_preparer":  "/taxdashboard",
	"client":        "/dashboard",
	"taxpayer":      "/dashboard",
}

// RedirectPath computes the dashboard path purely from a user type.
// Unknown user types land on the default dashboard.
func RedirectPath(userType string) string {
	if path, ok := redirectPaths[strings.ToLower(strings.TrimSpace(userType))]; ok {
		return path
	}
	return DefaultRedirect
}
