package docstore

import (
	"context"
	"errors"
)

// DefaultMaxTxnAttempts bounds the optimistic retries of a single
// transaction before it reports contention.
const DefaultMaxTxnAttempts = 25

// ErrVersionConflict is returned by backends when the stored version does not
// match the expected version.
var ErrVersionConflict = errors.New("docstore: version conflict")

// Snapshot is the value observed at a path.
type Snapshot struct {
	Path   string
	Value  any
	Exists bool

	// Version is the version of the enclosing root document; zero when the
	// root does not exist.
	Version int64
}

// UpdateFunc computes the next value for a transaction from the current one.
// Returning commit=false aborts the transaction without writing. A nil next
// value deletes the path.
type UpdateFunc func(current any, exists bool) (next any, commit bool)

// TxnResult reports the outcome of a transaction.
type TxnResult struct {
	Committed bool

	// Value is the committed value, or the value observed when aborting.
	Value any
}

// Subscription is a registered change listener.
type Subscription interface {
	// Close stops delivery. It is safe to call more than once.
	Close() error
}

// Store is the shared document store contract used by every party service.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	// Merge shallow-merges fields into the object at path. Keys not present in
	// fields are left untouched; nil field values delete their key.
	Merge(ctx context.Context, path string, fields map[string]any) error
	// Transaction atomically replaces the value at path with fn's result,
	// retrying fn when a concurrent write wins the race.
	Transaction(ctx context.Context, path string, fn UpdateFunc) (TxnResult, error)
	// Subscribe delivers the current snapshot at path and then every change
	// to it until the subscription is closed or ctx ends.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error)
	Delete(ctx context.Context, path string) error
}

// Versioned is the compare-and-set surface shared by Tree and remote
// clients. Transactions, merges and deletes are all built from it.
type Versioned interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	// CompareAndSet writes next at path only if the root version still
	// equals version. It returns the latest snapshot either way.
	CompareAndSet(ctx context.Context, path string, version int64, next any) (bool, Snapshot, error)
}

// Backend persists root documents with a version for optimistic writes.
type Backend interface {
	// Load returns the root document and its version; version zero means the
	// root does not exist.
	Load(ctx context.Context, root string) (doc any, version int64, err error)
	// Save stores doc if the current version equals expectVersion and returns
	// the new version. It returns ErrVersionConflict otherwise.
	Save(ctx context.Context, root string, doc any, expectVersion int64) (int64, error)
	// Remove deletes the root if the current version equals expectVersion.
	Remove(ctx context.Context, root string, expectVersion int64) error
}

// Watcher is implemented by backends shared between processes. Watch blocks
// until ctx ends, calling notify with the root of every externally observed
// change.
type Watcher interface {
	Watch(ctx context.Context, notify func(root string)) error
}
