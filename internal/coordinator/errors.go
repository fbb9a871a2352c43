// Package coordinator implements the hold state machine at the center
// of the engine.  It accepts select/deselect/renew intents, applies
// optimistic updates, reconciles with authoritative pushes and exposes
// one contract regardless of whether the push channel or the fallback
// gateway is carrying the traffic.
package coordinator

import "errors"

// ErrValidation is returned when an operation is invoked with a
// malformed or empty identifier.  Validation happens before any
// network call; a request that fails it never leaves the process.
var ErrValidation = errors.New("invalid identifier")

// ErrSeatConflict is returned when the authority rejects an operation
// because the seat is held elsewhere, or when a renewal references a
// hold that is stale or not owned by this session.  The optimistic
// local change has already been reverted by the time callers see this
// error, and the operation is never silently retried.
var ErrSeatConflict = errors.New("seat held by another session")

// ErrNotJoined is returned when an operation requires an active
// showtime subscription and none has been established.
var ErrNotJoined = errors.New("no active showtime subscription")

// ErrAuthFailed is returned by transports when the authority rejects
// the bearer credential.  For the push channel this is terminal: no
// further channel retries happen and all traffic routes through the
// fallback gateway.
var ErrAuthFailed = errors.New("authentication rejected")

// ErrUnavailable is returned when neither the push channel nor the
// fallback gateway can carry an operation.
var ErrUnavailable = errors.New("no transport available")

// ErrClosed is returned when the coordinator has been shut down.
var ErrClosed = errors.New("coordinator closed")
