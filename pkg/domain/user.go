package domain

import "encoding/json"

// User is the subset of the user snapshot this subsystem reads. Snapshots
// are persisted verbatim as returned by upstream; this type only decodes
// the fields needed for display and diagnostics.
type User struct {
	ID        FlexID `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	UserType  string `json:"user_type"`
}

// ParseUser decodes a persisted user snapshot. A malformed snapshot is
// treated as absent, never fatal.
func ParseUser(data []byte) (User, bool) {
	if len(data) == 0 {
		return User{}, false
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return User{}, false
	}
	return user, true
}
