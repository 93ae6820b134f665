// Package memory provides an in-process docstore backend.
package memory

import (
	"context"
	"sync"

	"github.com/louisbranch/questparty/internal/services/party/docstore"
)

type entry struct {
	doc     any
	version int64
}

// Backend keeps root documents in a map guarded by a mutex.
type Backend struct {
	mu    sync.Mutex
	roots map[string]entry
}

// NewBackend returns an empty backend.
func NewBackend() *Backend {
	return &Backend{roots: make(map[string]entry)}
}

// NewStore returns a ready-to-use in-memory store.
func NewStore(opts ...docstore.TreeOption) *docstore.Tree {
	return docstore.NewTree(NewBackend(), opts...)
}

// Load implements docstore.Backend.
func (b *Backend) Load(ctx context.Context, root string) (any, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.roots[root]
	if !ok {
		return nil, 0, nil
	}
	return docstore.Clone(e.doc), e.version, nil
}

// Save implements docstore.Backend.
func (b *Backend) Save(ctx context.Context, root string, doc any, expectVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.roots[root].version != expectVersion {
		return 0, docstore.ErrVersionConflict
	}
	next := expectVersion + 1
	b.roots[root] = entry{doc: docstore.Clone(doc), version: next}
	return next, nil
}

// Remove implements docstore.Backend.
func (b *Backend) Remove(ctx context.Context, root string, expectVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.roots[root].version != expectVersion {
		return docstore.ErrVersionConflict
	}
	delete(b.roots, root)
	return nil
}
