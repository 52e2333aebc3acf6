package store

import (
	"context"
	"time"
)

// ListStore keeps one ordered list of opaque entries per key.
// Implementations must be safe for concurrent use; Append must apply
// push, trim and expiry as one atomic step per key.
type ListStore interface {
	// Append pushes entry to the tail, keeps only the last maxLen entries
	// and resets the key's expiry to ttl.
	Append(ctx context.Context, key string, entry []byte, maxLen int, ttl time.Duration) error

	// Tail returns up to n most recent entries, oldest first.
	Tail(ctx context.Context, key string, n int) ([][]byte, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}
