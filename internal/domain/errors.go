package domain

import "errors"

var (
	// ErrMapping is returned when an inbound event cannot become an order record.
	ErrMapping = errors.New("invalid order event")
	// ErrStoreUnavailable is returned when a store call fails, times out or is cancelled.
	ErrStoreUnavailable = errors.New("order store unavailable")
	// ErrInvalidPage is returned for a page request with a negative number or non-positive size.
	ErrInvalidPage = errors.New("invalid page request")
)
