package client

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/docstore/memory"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

const code = "VIEW"

type fakeScheduler struct {
	mu      sync.Mutex
	starts  int
	stops   int
	running bool
}

func (s *fakeScheduler) Start(_ context.Context, h domain.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.running = true
	return nil
}

func (s *fakeScheduler) Stop(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.running = false
}

func (s *fakeScheduler) Running(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// exit ends the loop without a Stop call, as a loop that hit a store error
// would.
func (s *fakeScheduler) exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *fakeScheduler) counts() (int, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops, s.running
}

func seed(t *testing.T, store docstore.Store, status domain.Status) {
	t.Helper()
	fields, err := docstore.Fields(domain.Session{
		Code:    code,
		Status:  status,
		HostUID: "host",
		Players: map[string]domain.Player{
			"host": {UID: "host", DisplayName: "Host", IsHost: true, JoinedAt: 1},
			"p1":   {UID: "p1", DisplayName: "P1", Role: "scout", SessionScore: 4, JoinedAt: 2},
		},
		TurnState: &domain.TurnState{CurrentPlayerUID: "p1", TurnNumber: 2},
	})
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	if err := store.Merge(context.Background(), domain.SessionPath(code), fields); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func setStatus(t *testing.T, store docstore.Store, status domain.Status) {
	t.Helper()
	if err := store.Merge(context.Background(), domain.SessionPath(code), map[string]any{"status": string(status)}); err != nil {
		t.Fatalf("set status: %v", err)
	}
}

func TestReduce(t *testing.T) {
	session := domain.Session{
		Code:    code,
		Status:  domain.StatusInProgress,
		HostUID: "host",
		Players: map[string]domain.Player{
			"host": {UID: "host", JoinedAt: 1},
			"p1":   {UID: "p1", Role: "scout", SessionScore: 4, JoinedAt: 2},
		},
		TurnState:    &domain.TurnState{CurrentPlayerUID: "p1", TurnNumber: 2},
		CurrentEvent: &domain.PublishedEvent{GameEvent: domain.GameEvent{ID: "e1"}},
	}
	view := Reduce(domain.Handle{Code: code, UID: "p1"}, session, true)
	if view.IsHost || !view.IsMyTurn || view.MyRole != "scout" || view.MyScore != 4 {
		t.Fatalf("view = %+v", view)
	}
	if len(view.Players) != 2 || view.Players[0].UID != "host" {
		t.Fatalf("players = %+v", view.Players)
	}
	if !view.PendingEvent || view.TurnNumber != 2 {
		t.Fatalf("view = %+v", view)
	}

	hostView := Reduce(domain.Handle{Code: code, UID: "host"}, session, true)
	if !hostView.IsHost || hostView.IsMyTurn {
		t.Fatalf("host view = %+v", hostView)
	}
	if gone := Reduce(domain.Handle{Code: code, UID: "p1"}, domain.Session{}, false); gone.Exists {
		t.Fatalf("missing view = %+v", gone)
	}
}

func TestHostRunsSchedulerWhileInProgress(t *testing.T) {
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store, domain.StatusWaiting)
	sched := &fakeScheduler{}

	c, err := Open(context.Background(), store, domain.Handle{Code: code, UID: "host"}, sched)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	view := <-c.Views()
	if !view.Exists || view.Status != domain.StatusWaiting || !view.IsHost {
		t.Fatalf("first view = %+v", view)
	}
	if starts, _, _ := sched.counts(); starts != 0 {
		t.Fatalf("starts = %d before the session began", starts)
	}

	setStatus(t, store, domain.StatusInProgress)
	waitFor(t, "scheduler start", func() bool {
		starts, _, running := sched.counts()
		return starts == 1 && running
	})

	setStatus(t, store, domain.StatusFinished)
	waitFor(t, "scheduler stop", func() bool {
		_, stops, running := sched.counts()
		return stops == 1 && !running
	})
	waitFor(t, "finished view", func() bool {
		v, ok := c.Current()
		return ok && v.Status == domain.StatusFinished
	})
}

func TestGuestNeverRunsScheduler(t *testing.T) {
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store, domain.StatusInProgress)
	sched := &fakeScheduler{}

	c, err := Open(context.Background(), store, domain.Handle{Code: code, UID: "p1"}, sched)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	view := <-c.Views()
	if !view.IsMyTurn || view.MyRole != "scout" {
		t.Fatalf("view = %+v", view)
	}
	if starts, _, _ := sched.counts(); starts != 0 {
		t.Fatalf("guest started the scheduler")
	}
}

func TestDeletedSessionNoticeOnce(t *testing.T) {
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store, domain.StatusInProgress)
	sched := &fakeScheduler{}

	c, err := Open(context.Background(), store, domain.Handle{Code: code, UID: "host"}, sched)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	waitFor(t, "scheduler start", func() bool {
		starts, _, _ := sched.counts()
		return starts == 1
	})

	if err := store.Delete(context.Background(), domain.SessionPath(code)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	select {
	case notice := <-c.Notices():
		if notice.Code != apperrors.CodeNotFound {
			t.Fatalf("notice = %+v", notice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notice after deletion")
	}
	if _, stops, _ := sched.counts(); stops != 1 {
		t.Fatalf("stops = %d, want 1", stops)
	}

	seed(t, store, domain.StatusWaiting)
	if err := store.Delete(context.Background(), domain.SessionPath(code)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, "deleted view", func() bool {
		v, ok := c.Current()
		return ok && !v.Exists
	})
	select {
	case notice := <-c.Notices():
		t.Fatalf("second notice %+v", notice)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHostRestartsSchedulerAfterLoopExits(t *testing.T) {
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store, domain.StatusInProgress)
	sched := &fakeScheduler{}

	c, err := Open(context.Background(), store, domain.Handle{Code: code, UID: "host"}, sched)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	waitFor(t, "scheduler start", func() bool {
		starts, _, running := sched.counts()
		return starts == 1 && running
	})

	sched.exit()
	if err := store.Merge(context.Background(), domain.PlayerPath(code, "p1"), map[string]any{"sessionScore": 5}); err != nil {
		t.Fatalf("update score: %v", err)
	}
	waitFor(t, "scheduler restart", func() bool {
		starts, _, running := sched.counts()
		return starts == 2 && running
	})
	if _, stops, _ := sched.counts(); stops != 0 {
		t.Fatalf("stops = %d, want 0", stops)
	}
}

func TestCloseStopsScheduler(t *testing.T) {
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store, domain.StatusInProgress)
	sched := &fakeScheduler{}

	c, err := Open(context.Background(), store, domain.Handle{Code: code, UID: "host"}, sched)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, "scheduler start", func() bool {
		_, _, running := sched.counts()
		return running
	})
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, running := sched.counts(); running {
		t.Fatal("scheduler still running after close")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenValidatesHandle(t *testing.T) {
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	if _, err := Open(context.Background(), store, domain.Handle{Code: code}, nil); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}
