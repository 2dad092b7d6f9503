package agg

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/olapcache/segment"
)

var (
	// ErrClosed is returned by a closed manager.
	ErrClosed = errors.New("agg: manager closed")
	// ErrNotFound is returned by Peek when no READY segment answers a request.
	ErrNotFound = errors.New("agg: segment not found")
	// ErrInvalidRequest is returned when a request cannot form a header.
	ErrInvalidRequest = errors.New("agg: invalid request")
	// ErrFetchFailed matches every *FetchError.
	ErrFetchFailed = errors.New("agg: fetch failed")
	// ErrInvariantViolation marks a broken internal invariant. The manager
	// panics with an error wrapping it.
	ErrInvariantViolation = errors.New("agg: invariant violation")
)

// Request asks for the cells of one measure under a set of constraints.
type Request struct {
	Schema     string
	Cube       string
	Measure    string
	Aggregator segment.Aggregator
	// Dialect selects the executor statement flavour. Requests with
	// different dialects are never batched together.
	Dialect            string
	Constraints        []segment.ColumnConstraint
	CompoundPredicates []string
}

func (r Request) header(reg *segment.Registry) (*segment.Header, error) {
	h, err := segment.NewHeader(reg, segment.HeaderSpec{
		Schema:             r.Schema,
		Cube:               r.Cube,
		Measure:            r.Measure,
		Aggregator:         r.Aggregator,
		Constraints:        r.Constraints,
		CompoundPredicates: r.CompoundPredicates,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return h, nil
}

// FetchSpec describes the rows the executor must produce for one batch.
type FetchSpec struct {
	Schema     string
	Cube       string
	Measure    string
	Aggregator segment.Aggregator
	Dialect    string
	// Columns are the grouping columns in canonical order.
	Columns []string
	// Constraints hold one entry per column; wildcards leave the column
	// unrestricted.
	Constraints        []segment.ColumnConstraint
	CompoundPredicates []string
}

// RowSource streams aggregated rows.
//
// Axes reports the values of every column in the order of FetchSpec.Columns;
// for constrained columns they must be a subset of the constraint. Row
// returns one ordinal per axis and the measure value.
type RowSource interface {
	Axes() []segment.Axis
	Next() bool
	Row() ([]int, float64)
	Err() error
	Close() error
}

// Executor runs fetches against the underlying store.
type Executor interface {
	Fetch(ctx context.Context, spec FetchSpec) (RowSource, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, spec FetchSpec) (RowSource, error)

// Fetch calls f.
func (f ExecutorFunc) Fetch(ctx context.Context, spec FetchSpec) (RowSource, error) {
	return f(ctx, spec)
}

// FetchError is shared by every waiter of a failed load.
type FetchError struct {
	Schema      string
	Cube        string
	Measure     string
	Constraints string
	Err         error
}

func newFetchError(h *segment.Header, err error) *FetchError {
	return &FetchError{
		Schema:      h.Schema(),
		Cube:        h.Cube(),
		Measure:     h.Measure(),
		Constraints: h.Summary(),
		Err:         err,
	}
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("agg: fetch %s.%s.%s %s: %v", e.Schema, e.Cube, e.Measure, e.Constraints, e.Err)
}

// Unwrap returns the executor error.
func (e *FetchError) Unwrap() error { return e.Err }

// Is reports whether target is ErrFetchFailed.
func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }
