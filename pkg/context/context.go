package context

import (
	"context"
	"time"

	"signaling-core/pkg/constants"
)

// WithOperationTimeout bounds one call operation including its retries
func WithOperationTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, constants.CallOperationTimeout)
}

// WithStoreTimeout bounds a single backing store round trip
func WithStoreTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, constants.StoreTimeout)
}

// Detached keeps parent's values but not its cancellation, bounded by
// timeout. Notification sinks use it so a client hanging up right after a
// save does not abort delivery of that save.
func Detached(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
