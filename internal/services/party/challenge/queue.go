package challenge

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// MinSize is the depth EnsureFilled restores.
	MinSize = 6
	// InitialSize is how many challenges Initialize prefetches.
	InitialSize = 6
)

// Queue is a local FIFO of prefetched challenges. Refills started while one
// is already running join it instead of fetching again.
type Queue struct {
	fetcher Fetcher
	fill    singleflight.Group

	mu    sync.Mutex
	items []Challenge
}

// NewQueue builds an empty queue.
func NewQueue(fetcher Fetcher) *Queue {
	return &Queue{fetcher: fetcher}
}

// Initialize prefetches InitialSize challenges concurrently.
func (q *Queue) Initialize(ctx context.Context) error {
	return q.fetchN(ctx, InitialSize)
}

// ConsumeOne pops the head of the queue.
func (q *Queue) ConsumeOne() (Challenge, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Challenge{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// Len returns the queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// EnsureFilled tops the queue back up to MinSize.
func (q *Queue) EnsureFilled(ctx context.Context) error {
	_, err, _ := q.fill.Do("fill", func() (any, error) {
		missing := MinSize - q.Len()
		if missing <= 0 {
			return nil, nil
		}
		return nil, q.fetchN(ctx, missing)
	})
	return err
}

// fetchN runs n fetches in parallel and keeps every success, even when some
// fetches fail.
func (q *Queue) fetchN(ctx context.Context, n int) error {
	results := make([]*Challenge, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			ch, err := q.fetcher.Fetch(gctx)
			if err != nil {
				return err
			}
			results[i] = &ch
			return nil
		})
	}
	err := g.Wait()

	q.mu.Lock()
	for _, ch := range results {
		if ch != nil {
			q.items = append(q.items, *ch)
		}
	}
	q.mu.Unlock()
	return err
}
