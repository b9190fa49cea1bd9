// Package kberrors defines the closed set of error kinds the engine
// surfaces to callers, per the error-handling design: the engine recovers
// exactly one class (Busy) and otherwise propagates unknown failures
// unmodified.
package kberrors

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("%s: %w", op, Sentinel) and test
// with errors.Is, never by comparing strings.
var (
	// Busy indicates the backend reported a busy/locked condition. The
	// caller already saw one automatic retry (internal/dbretry) before
	// this surfaces.
	Busy = errors.New("busy")

	// NotFound indicates a lookup found nothing. Lookups return this as
	// an error only when the caller asked for a specific id that must
	// exist (e.g. resolving a conflict by id); searches and optional
	// lookups return a nil/empty result instead.
	NotFound = errors.New("not found")

	// Integrity indicates a checksum mismatch, a corrupt manifest, or a
	// package file referenced by the manifest that is missing.
	Integrity = errors.New("integrity violation")

	// Validation indicates caller-supplied input failed a precondition
	// (empty required field, invalid profession id, invalid tag name).
	Validation = errors.New("validation failed")

	// Transport indicates a LAN socket read/write failure, timeout, or
	// oversized header. Never retried at the engine level.
	Transport = errors.New("transport error")

	// AuthFailure indicates a missing or incorrect LAN shared key.
	AuthFailure = errors.New("authentication failed")

	// Fatal indicates an unrecoverable environment failure (out of
	// space, permission denied on the data directory). The engine makes
	// no attempt to recover; the caller must present it and stop.
	Fatal = errors.New("fatal error")
)

// Is reports whether err wraps target, matching the stdlib contract so
// callers can write kberrors.Is(err, kberrors.Busy) or errors.Is directly.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
