package docstore

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/questparty/internal/platform/otel"
)

const tracerName = "github.com/louisbranch/questparty/internal/services/party/docstore"

// Tree implements Store on top of a Backend.
type Tree struct {
	backend     Backend
	hub         *hub
	maxAttempts int
	stopWatch   context.CancelFunc
	watchDone   chan struct{}
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithMaxTxnAttempts overrides the optimistic retry bound.
func WithMaxTxnAttempts(attempts int) TreeOption {
	return func(t *Tree) {
		if attempts > 0 {
			t.maxAttempts = attempts
		}
	}
}

// NewTree builds a store over backend. When the backend implements Watcher,
// external changes are fed to local subscribers until Close is called.
func NewTree(backend Backend, opts ...TreeOption) *Tree {
	t := &Tree{
		backend:     backend,
		maxAttempts: DefaultMaxTxnAttempts,
	}
	t.hub = newHub(t)
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if watcher, ok := backend.(Watcher); ok {
		ctx, cancel := context.WithCancel(context.Background())
		t.stopWatch = cancel
		t.watchDone = make(chan struct{})
		go func() {
			defer close(t.watchDone)
			if err := watcher.Watch(ctx, t.hub.notify); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("docstore: backend watch stopped: %v", err)
			}
		}()
	}
	return t
}

// Close stops the backend watch and every open subscription.
func (t *Tree) Close() error {
	if t.stopWatch != nil {
		t.stopWatch()
		<-t.watchDone
	}
	t.hub.closeAll()
	return nil
}

// Get returns the snapshot at path.
func (t *Tree) Get(ctx context.Context, path string) (snap Snapshot, err error) {
	ctx, span := startSpan(ctx, "docstore.Get", path)
	defer func() { endSpan(span, err) }()

	ref, err := ParsePath(path)
	if err != nil {
		return Snapshot{}, err
	}
	return t.read(ctx, ref)
}

func (t *Tree) read(ctx context.Context, ref Ref) (Snapshot, error) {
	doc, version, err := t.backend.Load(ctx, ref.Root)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", ref.Root, err)
	}
	snap := Snapshot{Path: ref.String(), Version: version}
	if version == 0 {
		return snap, nil
	}
	value, ok := lookup(doc, ref.Rest)
	snap.Value = Clone(value)
	snap.Exists = ok
	return snap, nil
}

// CompareAndSet writes next at path when the root version equals version.
func (t *Tree) CompareAndSet(ctx context.Context, path string, version int64, next any) (ok bool, snap Snapshot, err error) {
	ctx, span := startSpan(ctx, "docstore.CompareAndSet", path)
	defer func() { endSpan(span, err) }()

	ref, err := ParsePath(path)
	if err != nil {
		return false, Snapshot{}, err
	}
	normalized, err := Normalize(next)
	if err != nil {
		return false, Snapshot{}, err
	}

	doc, current, err := t.backend.Load(ctx, ref.Root)
	if err != nil {
		return false, Snapshot{}, fmt.Errorf("load %s: %w", ref.Root, err)
	}
	if current != version {
		latest, err := t.read(ctx, ref)
		return false, latest, err
	}

	updated := assign(Clone(doc), ref.Rest, normalized)
	if current == 0 && updated == nil {
		return true, Snapshot{Path: ref.String()}, nil
	}

	var newVersion int64
	if updated == nil {
		err = t.backend.Remove(ctx, ref.Root, version)
	} else {
		newVersion, err = t.backend.Save(ctx, ref.Root, updated, version)
	}
	if errors.Is(err, ErrVersionConflict) {
		latest, readErr := t.read(ctx, ref)
		return false, latest, readErr
	}
	if err != nil {
		return false, Snapshot{}, fmt.Errorf("write %s: %w", ref.Root, err)
	}

	t.hub.notify(ref.Root)
	value, exists := lookup(updated, ref.Rest)
	return true, Snapshot{Path: ref.String(), Value: Clone(value), Exists: exists && newVersion > 0, Version: newVersion}, nil
}

// Merge shallow-merges fields at path.
func (t *Tree) Merge(ctx context.Context, path string, fields map[string]any) (err error) {
	ctx, span := startSpan(ctx, "docstore.Merge", path)
	defer func() { endSpan(span, err) }()
	return MergeVia(ctx, t, path, t.maxAttempts, fields)
}

// Transaction runs fn with optimistic retries.
func (t *Tree) Transaction(ctx context.Context, path string, fn UpdateFunc) (result TxnResult, err error) {
	ctx, span := startSpan(ctx, "docstore.Transaction", path)
	defer func() {
		span.SetAttributes(attribute.Bool("docstore.committed", result.Committed))
		endSpan(span, err)
	}()
	return RunTransaction(ctx, t, path, t.maxAttempts, fn)
}

// Delete removes the value at path. Deleting a missing path is a no-op.
func (t *Tree) Delete(ctx context.Context, path string) (err error) {
	ctx, span := startSpan(ctx, "docstore.Delete", path)
	defer func() { endSpan(span, err) }()
	return DeleteVia(ctx, t, path, t.maxAttempts)
}

// Subscribe registers fn for changes at path.
func (t *Tree) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	ref, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: listener is required", path)
	}
	return t.hub.add(ctx, ref, fn), nil
}

func startSpan(ctx context.Context, name, path string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attribute.String("docstore.path", path)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
