package domain

import "errors"

// Context resolution errors
var (
	ErrNoPendingContext   = errors.New("no pending context")
	ErrInvalidState       = errors.New("operation not valid in current resolution state")
	ErrUnknownRole        = errors.New("role not offered by pending context")
	ErrUnknownMembership  = errors.New("membership not found")
	ErrContextFetchFailed = errors.New("failed to fetch available contexts")
)

// Exchange and switch errors
var (
	ErrExchangeFailed     = errors.New("selection exchange failed")
	ErrSwitchFailed       = errors.New("account switch failed")
	ErrSwitchInFlight     = errors.New("another account switch is in progress")
	ErrNoTokensInResponse = errors.New("no tokens in exchange response")
)
