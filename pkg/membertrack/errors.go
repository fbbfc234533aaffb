package membertrack

import "errors"

var (
	// ErrStorageUnavailable is returned when no event store is configured
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidEvent is returned for events that fail store-boundary validation
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidWeekKey is returned for week keys that do not name an ISO week
	ErrInvalidWeekKey = errors.New("invalid week key")

	// ErrNoSource is returned when a scan is started without a source
	ErrNoSource = errors.New("no source")
)
