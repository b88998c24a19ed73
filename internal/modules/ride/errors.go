package ride

import (
	"context"
	"fmt"

	"ridelink/internal/types"
)

func notFound(id types.ID) error {
	return fmt.Errorf("ride %s: %w", id, types.ErrNotFound)
}

func conflict(id types.ID, expected, actual Status) error {
	return fmt.Errorf("ride %s is %s, expected %s: %w", id, actual, expected, types.ErrConflict)
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%s -> %s: %w", from, to, types.ErrInvalidState)
}

func inactive(id types.ID, s Status) error {
	return fmt.Errorf("ride %s is %s, not active: %w", id, s, types.ErrInvalidState)
}

func alreadyExists(id types.ID) error {
	return fmt.Errorf("ride %s: %w", id, types.ErrAlreadyExists)
}

func feedClosed(ctx context.Context, id types.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("ride %s: subscription closed", id)
}
