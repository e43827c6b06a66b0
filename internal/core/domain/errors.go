package domain

import "errors"

var (
	// ErrNoLocationYet is a wait state: the search runs once a fix arrives.
	ErrNoLocationYet = errors.New("no location yet")
	// ErrStoreFailure wraps failures and timeouts of the POI store.
	ErrStoreFailure = errors.New("poi store failure")
	// ErrEmptyFirstPage marks a cold-start empty page that was retried.
	ErrEmptyFirstPage = errors.New("empty first page")
	// ErrCancelled is never surfaced to consumers.
	ErrCancelled = errors.New("search cancelled")

	ErrNotFound           = errors.New("not found")
	ErrKeyInUse           = errors.New("query key already watched")
	ErrUnknownKey         = errors.New("query key not watched")
	ErrDegenerateLocation = errors.New("degenerate location")
)
