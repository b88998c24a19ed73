// README: Error taxonomy shared by every module; match with errors.Is.
package types

import "errors"

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrNotFound            = errors.New("ride no longer exists")
	ErrAlreadyExists       = errors.New("already exists")
	ErrConflict            = errors.New("ride no longer available")
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	ErrAlreadyTracking     = errors.New("already tracking another ride")
	ErrNotTracking         = errors.New("not tracking")

	// ErrInvalidState is returned when a transition is not in the state table
	// or a ride is not in a state that accepts the operation.
	ErrInvalidState  = errors.New("invalid state transition")
	ErrForbidden     = errors.New("caller is not a party to this ride")
	ErrNoDriverFound = errors.New("no driver found")
)
