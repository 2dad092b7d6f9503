package segment

import "errors"

var (
	// ErrMissingField is returned when a header lacks schema, cube or measure.
	ErrMissingField = errors.New("header field missing")
	// ErrDuplicateColumn is returned when a column is constrained twice.
	ErrDuplicateColumn = errors.New("duplicate column constraint")
	// ErrEmptyConstraint is returned for an explicit constraint with no values.
	ErrEmptyConstraint = errors.New("empty column constraint")
	// ErrIncompatibleHeaders is returned when headers cannot share one segment.
	ErrIncompatibleHeaders = errors.New("incompatible segment headers")
	// ErrNotCovered is returned when slicing a segment to a header it does not match.
	ErrNotCovered = errors.New("segment does not cover header")
	// ErrAxisMismatch is returned when a body's axes do not fit its header.
	ErrAxisMismatch = errors.New("segment axes do not match header")
	// ErrOrdinalOutOfRange is returned when a row ordinal exceeds its axis.
	ErrOrdinalOutOfRange = errors.New("ordinal out of range")
	// ErrTooManyCells is returned when the coordinate space exceeds 2^32 cells.
	ErrTooManyCells = errors.New("segment coordinate space too large")
	// ErrUnknownAggregator is returned when decoding an unknown aggregator name.
	ErrUnknownAggregator = errors.New("unknown aggregator")
)
