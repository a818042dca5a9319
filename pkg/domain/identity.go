package domain

// ActiveIdentity is the resolved (userType, role, firm) triple driving
// routing after selection or switch. Every successful selection or switch
// produces a new ActiveIdentity that overwrites the previous one entirely;
// there is no partial merge.
type ActiveIdentity struct {
	UserType   string `json:"user_type"`
	ActiveRole string `json:"active_role"`
	FirmID     int64  `json:"firm_id"`
}

// TokenPair represents the access and refresh token pair returned by every
// exchange endpoint.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Complete reports whether both tokens are present.
func (t TokenPair) Complete() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}
