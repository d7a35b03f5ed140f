package audience

import "errors"

// Sentinel errors for the audience service layer.
var (
	ErrNotFound           = errors.New("audience not found")
	ErrNotStatic          = errors.New("audience is not static")
	ErrAlreadyMember      = errors.New("subscriber is already in this audience")
	ErrNotMember          = errors.New("subscriber is not in this audience")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrNameRequired       = errors.New("name is required")
	ErrEmailRequired      = errors.New("email is required")
	ErrInvalidFilters     = errors.New("invalid filters")
	ErrLockHeld           = errors.New("subscriber count refresh already in progress")
)
