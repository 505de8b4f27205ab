package session

import "errors"

// Structural errors are returned synchronously to the caller and never
// retried. Transient errors are retried internally and only surface as
// degraded connection status once retries are exhausted.
var (
	// ErrInvalidTransition signals state machine misuse. Programming error,
	// never silently swallowed.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrSessionClosed is returned for any operation after the session ended.
	ErrSessionClosed = errors.New("session closed")

	// ErrChannelNotReady is returned by Send when the channel is not connected.
	ErrChannelNotReady = errors.New("channel not ready")

	// ErrAlreadyQueued is returned when enqueueing a participant already waiting.
	ErrAlreadyQueued = errors.New("participant already queued")

	// ErrNotQueued is returned when admitting a participant absent from the queue.
	ErrNotQueued = errors.New("participant not queued")

	// ErrJoinFailed wraps collaborator join API failures; the coordinator
	// stays in the error state awaiting Retry.
	ErrJoinFailed = errors.New("join failed")

	// ErrDeliveryFailed marks a message or file that did not reach the server.
	// The message stays pending and is retried on reconnect, never dropped.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrAckTimeout is returned when a control acknowledgment did not arrive
	// within the configured window after the retry.
	ErrAckTimeout = errors.New("acknowledgment timed out")
)
