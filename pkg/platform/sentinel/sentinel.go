package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Identity stores and the scorer client
// return these (optionally wrapped) and the resolver or handlers translate them
// into domain errors.
//
//   - ErrNotFound: the identity does not exist in the store
//   - ErrInvalidState: a stored record could not be decoded into an identity
//   - ErrUnavailable: a backend (database, cache, scorer) cannot be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
