package crawler

import "errors"

var (
	// ErrStoreUnavailable is returned once a frontier store operation has exhausted its retries.
	ErrStoreUnavailable = errors.New("frontier store unavailable")
	// ErrQueueEmpty is returned by Pop when the pending queue has no items.
	ErrQueueEmpty = errors.New("frontier queue empty")
	// ErrMalformedItem marks a queue entry or constructor input that cannot form a valid item.
	ErrMalformedItem = errors.New("malformed frontier item")
	// ErrSnapshotNotFound is returned by snapshot stores when no snapshot exists for a key.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrLockNotHeld is returned when releasing a restore lock owned by someone else.
	ErrLockNotHeld = errors.New("restore lock not held")
)
