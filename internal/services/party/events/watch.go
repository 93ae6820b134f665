package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// sessionWatch keeps the latest copy of a session document for the loop.
type sessionWatch struct {
	sub     docstore.Subscription
	changed chan struct{}

	mu      sync.Mutex
	session domain.Session
	exists  bool
	ready   bool
}

func watchSession(ctx context.Context, store docstore.Store, code string) (*sessionWatch, error) {
	w := &sessionWatch{changed: make(chan struct{}, 1)}
	sub, err := store.Subscribe(ctx, domain.SessionPath(code), func(snap docstore.Snapshot) {
		session, ok, err := domain.DecodeSession(snap)
		if err != nil {
			log.Printf("events: decode session=%s: %v", code, err)
			return
		}
		w.mu.Lock()
		w.session, w.exists, w.ready = session, ok, true
		w.mu.Unlock()
		select {
		case w.changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	w.sub = sub
	return w, nil
}

func (w *sessionWatch) close() {
	_ = w.sub.Close()
}

func (w *sessionWatch) latest() (domain.Session, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session, w.exists, w.ready
}

// ended reports whether the session is gone or no longer in progress.
func (w *sessionWatch) ended() bool {
	session, exists, ready := w.latest()
	return ready && (!exists || session.Status != domain.StatusInProgress)
}

// sleep waits for d, returning early with errSessionEnded when the session
// ends or with ctx's error.
func (w *sessionWatch) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		if w.ended() {
			return errSessionEnded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.changed:
		case <-timer.C:
			if w.ended() {
				return errSessionEnded
			}
			return nil
		}
	}
}

// until blocks until cond holds for the latest session.
func (w *sessionWatch) until(ctx context.Context, cond func(domain.Session) bool) (domain.Session, error) {
	for {
		session, _, ready := w.latest()
		if w.ended() {
			return domain.Session{}, errSessionEnded
		}
		if ready && cond(session) {
			return session, nil
		}
		select {
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		case <-w.changed:
		}
	}
}
