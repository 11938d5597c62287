package notifications

import "errors"

// Repository errors.
var (
	ErrQueueItemNotFound = errors.New("queue item not found")
)
