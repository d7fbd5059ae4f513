package feedsearch

import "errors"

var (
	// ErrStoreUnavailable wraps any failure of the content or follow store
	// while building a result page or counting it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidQuery is returned by the HTTP adapter for malformed
	// parameters.  The search core itself clamps instead of rejecting.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrTextIndexUnavailable is returned by a store asked to run a
	// text-indexed plan without having a text index.
	ErrTextIndexUnavailable = errors.New("text index unavailable")

	ErrViewQueueFull = errors.New("view queue full")
	ErrClosed        = errors.New("closed")
)
