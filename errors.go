package olapcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/olapcache/cache"
	"github.com/hupe1980/olapcache/internal/agg"
)

var (
	// ErrClosed is returned when the engine has been closed.
	ErrClosed = errors.New("engine closed")

	// ErrInvalidRequest is returned when a request cannot be turned into a
	// segment header.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrFetchFailed is returned when the executor failed to produce a
	// segment. The *FetchError in the chain names the segment.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrNotFound is returned by Peek when no cached segment answers a request.
	ErrNotFound = errors.New("not found")
)

// FetchError describes a failed segment load. Every request waiting on the
// load receives the same error.
type FetchError = agg.FetchError

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, agg.ErrClosed), errors.Is(err, cache.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, agg.ErrInvalidRequest):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case errors.Is(err, agg.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, agg.ErrFetchFailed):
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return err
}
