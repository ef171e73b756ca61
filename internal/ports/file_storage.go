package ports

import (
	"context"
	"time"
)

// FileStorage is path-addressed blob storage. Remove accepts a path prefix
// so a whole form or submission directory can be dropped in one call.
type FileStorage interface {
	Upload(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Remove(ctx context.Context, path string) error
	// URL returns the stable (non-expiring) reference stored on attachment
	// descriptors.
	URL(path string) string
	// SignedURL returns a temporary read URL for a private object.
	SignedURL(path string, ttl time.Duration) (string, error)
	// VerifySignedToken checks a signed token and returns the object path.
	VerifySignedToken(token string) (path string, err error)
}
