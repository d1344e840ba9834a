// Package persist defines the key-value persistence backend injected into
// every AFI and the aggregate database, and ships three implementations:
// a local-file backend (the default, matching the on-disk ".afi/" layout),
// a Redis-backed one, and a Postgres-backed one.
package persist

import "context"

// Store is the injected persistence collaborator: an opaque
// name-to-string key-value interface. Implementations must make GetItem
// return ok=false (not an error) for a missing name: a missing blob is a
// normal, successful "nothing saved yet" state, not a failure.
type Store interface {
	GetItem(ctx context.Context, name string) (value string, ok bool, err error)
	SetItem(ctx context.Context, name, value string) error
	// Location returns a human-readable identifier for where this store
	// keeps its data: a directory for FilePersist, a hash key for
	// RedisPersist, a database name for PostgresPersist. The aggregate
	// database uses it to place its shared artwork directories.
	Location() string
}
