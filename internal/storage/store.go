package storage

import "context"

// ObjectStore is the object storage port used for identity photos and other
// user-supplied binary assets.
type ObjectStore interface {
	// Put persists data under key and returns the canonical key.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get returns the object bytes for key.
	Get(ctx context.Context, key string) ([]byte, error)
	// PublicURL returns an externally reachable URL for key.
	PublicURL(key string) string
	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
