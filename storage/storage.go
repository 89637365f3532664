// Package storage defines the persistent key/value scope shared by every
// tab of one browser profile, together with its change notification.
package storage

// Change describes a write made by another context. A writer never
// observes its own changes, and no change is emitted when a Set leaves the
// value unchanged or a Remove targets an absent key.
type Change struct {
	Key     string
	Value   string
	Removed bool
}

// Store is a tab's handle on the shared key/value scope.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool, error)

	// Set writes value under key.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Subscribe registers h for changes made by other contexts. Changes are
	// delivered asynchronously and in order. The returned func unsubscribes.
	Subscribe(h func(Change)) func()

	// Close releases the handle and stops notification delivery.
	Close() error
}
