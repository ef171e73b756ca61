package ports

import (
	"context"
	"time"
)

// Cache is a generic key-value capability used for cached read views.
// Reconciliation invalidates by prefix after touching a form's rows.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Cache key prefixes scoped per form.
func CacheKeySubmissions(formID string) string { return "answers:" + formID + ":" }
func CacheKeySchema(formID string) string      { return "schema:" + formID + ":" }
