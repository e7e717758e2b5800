package store

import "context"

// Store is the key/value storage of request snapshots and node trace
// records. Keys are grouped under a prefix, e.g. one prefix per request.
type Store interface {
	// Get returns nil without error when prefix + key is unknown
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * remove an unexists prefix + key would NOT return error
	 */
	Remove(ctx context.Context, prefix, key string) error

	// List calls iterator with every key under prefix until it returns
	// false. iterator may call back into the store.
	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}
