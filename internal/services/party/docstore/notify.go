package docstore

import (
	"context"
	"log"
	"reflect"
	"sync"
)

// hub fans change notifications out to subscribers. Each subscriber owns a
// goroutine that re-reads its path after a kick, so slow listeners coalesce
// bursts into the latest value instead of blocking writers.
type hub struct {
	tree *Tree

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ref    Ref
	fn     func(Snapshot)
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	hub    *hub
}

func newHub(tree *Tree) *hub {
	return &hub{tree: tree, subs: make(map[string]map[*subscriber]struct{})}
}

func (h *hub) add(ctx context.Context, ref Ref, fn func(Snapshot)) *subscriber {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		ref:    ref,
		fn:     fn,
		kick:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
		hub:    h,
	}
	h.mu.Lock()
	set, ok := h.subs[ref.Root]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[ref.Root] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	sub.kick <- struct{}{}
	go sub.run(ctx)
	return sub
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.ref.Root]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.ref.Root)
	}
}

func (h *hub) notify(root string) {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs[root]))
	for sub := range h.subs[root] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.kick <- struct{}{}:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*subscriber
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range all {
		_ = sub.Close()
	}
}

func (s *subscriber) run(ctx context.Context) {
	defer close(s.done)
	defer s.hub.remove(s)

	var (
		delivered bool
		last      Snapshot
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}
		snap, err := s.hub.tree.read(ctx, s.ref)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("docstore: subscription read path=%s: %v", s.ref.String(), err)
			continue
		}
		if delivered && snap.Exists == last.Exists && reflect.DeepEqual(snap.Value, last.Value) {
			continue
		}
		delivered = true
		last = snap
		s.fn(snap)
	}
}

// Close stops delivery. A callback that is already running completes.
func (s *subscriber) Close() error {
	s.once.Do(func() {
		s.cancel()
	})
	return nil
}
