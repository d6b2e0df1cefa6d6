package numerator

import "errors"

var (
	// ErrSeriesMismatch is returned when a reservation names a series the counter does not use.
	ErrSeriesMismatch = errors.New("series does not match numbering counter")

	// ErrInvalidNextNumber is returned for overrides below 1.
	ErrInvalidNextNumber = errors.New("next number must be at least 1")

	// ErrNextNumberBelowCurrent is returned for overrides that would move a counter backwards.
	ErrNextNumberBelowCurrent = errors.New("next number is below the current counter")
)
