// Package storage provides the shared key/value store that session guard
// instances use to coordinate with each other.
//
// A Store is one instance's handle onto a backing store. Writes made through a
// handle are announced as Change notifications to every other handle on the
// same backing store, never to the writer itself, which mirrors how browser
// tabs observe each other's localStorage writes.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Change describes a write observed on the shared store.
type Change struct {
	// Key is the key that changed. An empty key means the whole store was
	// cleared.
	Key string `json:"key"`
	// Value is the new value when Present is true.
	Value string `json:"value,omitempty"`
	// Present is false when the key was deleted or the store cleared.
	Present bool `json:"present"`
	// Source identifies the handle that made the write.
	Source string `json:"source"`
}

// Cleared reports whether the change represents a full clear of the store.
func (c Change) Cleared() bool {
	return c.Key == ""
}

// Store is a string-keyed, string-valued store shared between instances.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key and notifies other handles.
	Set(ctx context.Context, key, value string) error
	// Delete removes key and notifies other handles. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes every key and notifies other handles with an empty key.
	Clear(ctx context.Context) error
	// Subscribe registers fn for changes made by other handles. fn may be
	// called from any goroutine. The returned function detaches fn and is
	// safe to call more than once. Errors wrap ErrWatchUnavailable when the
	// backend cannot deliver notifications.
	Subscribe(ctx context.Context, fn func(Change)) (func(), error)
	// Source returns the identifier this handle stamps on its writes.
	Source() string
}

// EncodeChange serialises a change for backends that ship notifications as
// messages.
func EncodeChange(c Change) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding change: %w", err)
	}
	return string(data), nil
}

// DecodeChange parses a change produced by EncodeChange.
func DecodeChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("decoding change: %w", err)
	}
	return c, nil
}
