// Package ticketing implements the ticket lifecycle: creation from the open
// ticket panel, staff claiming, priorities, close confirmation, transcript
// generation and archival.
package ticketing

import "errors"

var (
	// ErrQuotaExceeded is returned when a user is at their open ticket limit
	// for the guild.
	ErrQuotaExceeded = errors.New("open ticket quota exceeded")

	// ErrNotConfigured is returned when ticketing has not been set up, or has
	// been disabled, for the guild.
	ErrNotConfigured = errors.New("ticketing not configured for guild")

	// ErrUnauthorized is returned when the acting user is not permitted to
	// perform the transition.
	ErrUnauthorized = errors.New("not authorized")

	// ErrAlreadyClaimed is returned when a ticket already has a different
	// claimant.
	ErrAlreadyClaimed = errors.New("ticket already claimed")

	// ErrUnknownPriority is returned when a priority label is not in the
	// guilds configured set.
	ErrUnknownPriority = errors.New("unknown priority label")

	// ErrNotFound is returned when a ticket or guild does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTranscriptUnavailable is returned when a tickets history could not
	// be fetched at all. Closure still proceeds; the ticket is flagged
	// degraded so the missing transcript is never silent.
	ErrTranscriptUnavailable = errors.New("transcript unavailable")

	// ErrDegraded is returned when an operation leaves a ticket needing
	// manual reconciliation.
	ErrDegraded = errors.New("ticket degraded")

	// ErrTimeout is returned when an external call exceeded its deadline.
	// Operations that fail with this error are safe to retry.
	ErrTimeout = errors.New("operation timed out")

	// ErrVersionConflict is returned by the store when a conditional write
	// lost to a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidTransition is returned when a transition is not legal from
	// the tickets current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)
