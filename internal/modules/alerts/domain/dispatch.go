package domain

// DispatchResult aggregates the outcome of one dispatch. Per-recipient failures never abort a dispatch.
type DispatchResult struct {
	EventID          string   `json:"eventId"`
	DeliveredCount   int      `json:"deliveredCount"`
	QueuedForOffline []string `json:"queuedForOffline"`
	// Misses counts connections that were members at resolution time but were gone when delivered to.
	Misses int `json:"misses"`
	// StoreErr is set when one or more durable writes failed. It wraps ErrStoreUnavailable.
	StoreErr error `json:"-"`
}

// Retryable reports whether some offline recipients could not be persisted.
func (r DispatchResult) Retryable() bool {
	return r.StoreErr != nil
}
