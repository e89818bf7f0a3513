package state

import "context"

// Store is the durable kv layer under nonce persistence, engine snapshots
// and the cloid counter.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
