// Package kv defines the flat string key/value contract shared by every storage
// domain (extension storage, page local storage, durable and secret stores).
package kv

import (
	"context"
	"io"

	apperrors "github.com/jrsteele09/sider-auth/internal/errors"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = apperrors.ErrNotFound

// Store is a flat string key/value store.
type Store interface {
	// Get returns the value for key or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set creates or overwrites key
	Set(ctx context.Context, key, value string) error

	// Delete removes keys, absent keys are ignored
	Delete(ctx context.Context, keys ...string) error

	// Snapshot returns a copy of every key/value pair
	Snapshot(ctx context.Context) (map[string]string, error)
}

// Watcher is implemented by stores that can push change notifications.
// The channel is closed when ctx is done. Slow readers may miss events, so
// consumers must treat a notification as a hint to re-read the store.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// Change describes one mutation of a single key.
type Change struct {
	Key      string `json:"key"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// Close releases the store if it holds resources.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
