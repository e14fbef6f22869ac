package clinic

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package for a caller
// mistake or a lost race wraps exactly one of them.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	ErrInvalidDate  = fmt.Errorf("%w: invalid date, use YYYY-MM-DD", ErrInvalidInput)
	ErrInvalidTime  = fmt.Errorf("%w: invalid time of day, use HH:MM", ErrInvalidInput)
	ErrInvalidRange = fmt.Errorf("%w: window start must be before end", ErrInvalidInput)
	ErrNoWindows    = fmt.Errorf("%w: at least one availability window is required", ErrInvalidInput)

	ErrInvalidSlotLength = fmt.Errorf("%w: slot length must be a positive whole number of minutes", ErrInvalidInput)

	ErrSlotNotFound    = fmt.Errorf("slot %w", ErrNotFound)
	ErrDoctorNotFound  = fmt.Errorf("doctor %w", ErrNotFound)
	ErrPatientNotFound = fmt.Errorf("patient %w", ErrNotFound)

	ErrOverlappingWindow = fmt.Errorf("%w: availability windows overlap", ErrConflict)
	ErrAlreadyBooked     = fmt.Errorf("%w: slot already booked", ErrConflict)
)
