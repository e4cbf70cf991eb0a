package calendar

import (
	"errors"

	"github.com/dukerupert/homebase/internal/recurrence"
)

var (
	// ErrInvalidRecurrenceRule is the recurrence package's parse error, so
	// errors.Is matches either name.
	ErrInvalidRecurrenceRule = recurrence.ErrInvalidRule

	ErrOccurrenceNotFound = errors.New("occurrence not found")
	ErrTokenInvalid       = errors.New("feed token invalid")
	ErrRangeTooLarge      = errors.New("range too large for indefinite series")
	ErrSeriesNotFound     = errors.New("series not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrInvalidRange       = errors.New("invalid time range")
	ErrInvalidEdit        = errors.New("invalid edit")
	ErrForbidden          = errors.New("forbidden")
)
