package domain

import "errors"

var (
	// ErrDuplicateConnection is returned when registering a connection id that is already live.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrUnknownConnection is returned when an operation targets a connection that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrInvalidEvent marks a malformed domain event. Nothing is dispatched when it is returned.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrStoreUnavailable wraps durable store failures. Callers may retry.
	ErrStoreUnavailable = errors.New("notification store unavailable")
	// ErrNotificationNotFound is returned when a notification does not exist for the recipient.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrCrpfNotFound is returned when a CRPF notification id is unknown.
	ErrCrpfNotFound = errors.New("crpf notification not found")
	// ErrInvalidCrpfStatus is returned when a status update requests anything other than notified.
	ErrInvalidCrpfStatus = errors.New("invalid crpf status")
	// ErrForbidden is returned when the caller identity is not allowed to run a command.
	ErrForbidden = errors.New("forbidden")
)

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
