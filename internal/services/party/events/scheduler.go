// Package events runs the host-side random event loop of a session and the
// acknowledgement gesture other devices use to confirm an event.
package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/platform/id"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

const (
	DefaultMinInterval = 60 * time.Second
	DefaultMaxInterval = 120 * time.Second
	// DefaultOverrunPenalty is used when the catalog has no detrimental
	// event to fire for an overrun turn.
	DefaultOverrunPenalty = 5
)

// ErrAlreadyRunning is returned by Start when the session already has a loop.
var ErrAlreadyRunning = errors.New("event loop already running")

var errSessionEnded = errors.New("session ended")

// Ledger applies score changes.
type Ledger interface {
	Credit(ctx context.Context, code, uid string, delta int64) (int64, error)
}

// OverrunSource hands out pending turn overruns.
type OverrunSource interface {
	TakeOverrun(ctx context.Context, code string) (*domain.Overrun, error)
}

// PlayerSelector asks the host which player an action event targets.
type PlayerSelector interface {
	SelectPlayer(ctx context.Context, session domain.Session, event domain.PublishedEvent) (string, error)
}

// Config wires a Scheduler.
type Config struct {
	Store    docstore.Store
	Ledger   Ledger
	Overruns OverrunSource
	Selector PlayerSelector
	Catalog  []domain.GameEvent

	MinInterval time.Duration
	MaxInterval time.Duration

	// Rand seeds every per-session pool; defaults to a time-seeded source.
	Rand *rand.Rand
	Now  func() time.Time
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs at most one event loop per session code.
type Scheduler struct {
	store    docstore.Store
	ledger   Ledger
	overruns OverrunSource
	selector PlayerSelector
	catalog  []domain.GameEvent
	minDelay time.Duration
	maxDelay time.Duration
	now      func() time.Time

	seedMu sync.Mutex
	seed   *rand.Rand

	mu    sync.Mutex
	loops map[string]*loop
}

// NewScheduler validates cfg and builds a scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if len(cfg.Catalog) == 0 {
		return nil, fmt.Errorf("event catalog is empty")
	}
	for _, event := range cfg.Catalog {
		if err := event.Validate(); err != nil {
			return nil, err
		}
	}
	s := &Scheduler{
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		overruns: cfg.Overruns,
		selector: cfg.Selector,
		catalog:  append([]domain.GameEvent(nil), cfg.Catalog...),
		minDelay: cfg.MinInterval,
		maxDelay: cfg.MaxInterval,
		now:      cfg.Now,
		seed:     cfg.Rand,
		loops:    make(map[string]*loop),
	}
	if s.minDelay <= 0 {
		s.minDelay = DefaultMinInterval
	}
	if s.maxDelay <= 0 {
		s.maxDelay = DefaultMaxInterval
	}
	if s.maxDelay < s.minDelay {
		s.maxDelay = s.minDelay
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.seed == nil {
		s.seed = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s, nil
}

func (s *Scheduler) newPool() *Pool {
	s.seedMu.Lock()
	src := rand.NewSource(s.seed.Int63())
	s.seedMu.Unlock()
	return NewPool(s.catalog, rand.New(src))
}

// Start launches the loop for h's session. Only the host may start it, the
// session must be in progress, and a second Start for the same code fails
// with ErrAlreadyRunning. The loop ends with ctx, Stop, or the session
// leaving in_progress.
func (s *Scheduler) Start(ctx context.Context, h domain.Handle) error {
	snap, err := s.store.Get(ctx, domain.SessionPath(h.Code))
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	session, ok, err := domain.DecodeSession(snap)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeNotFound, "session not found", map[string]string{"Session": h.Code})
	}
	if !session.IsHost(h.UID) {
		return apperrors.New(apperrors.CodePermissionDenied, "only the host runs the event loop")
	}
	if session.Status != domain.StatusInProgress {
		return apperrors.New(apperrors.CodeInvalidStatusTransition, "session is not in progress")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.loops[h.Code]; running {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[h.Code] = l
	go s.run(loopCtx, h, l)
	return nil
}

// Stop cancels the loop for code and waits for it to exit.
func (s *Scheduler) Stop(code string) {
	s.mu.Lock()
	l := s.loops[code]
	s.mu.Unlock()
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// Running reports whether a loop is active for code.
func (s *Scheduler) Running(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[code]
	return ok
}

// Close stops every loop.
func (s *Scheduler) Close() {
	s.mu.Lock()
	codes := make([]string, 0, len(s.loops))
	for code := range s.loops {
		codes = append(codes, code)
	}
	s.mu.Unlock()
	for _, code := range codes {
		s.Stop(code)
	}
}

func (s *Scheduler) run(ctx context.Context, h domain.Handle, l *loop) {
	defer func() {
		s.mu.Lock()
		if s.loops[h.Code] == l {
			delete(s.loops, h.Code)
		}
		s.mu.Unlock()
		close(l.done)
	}()
	defer l.cancel()

	watch, err := watchSession(ctx, s.store, h.Code)
	if err != nil {
		log.Printf("events: watch session=%s: %v", h.Code, err)
		return
	}
	defer watch.close()

	pool := s.newPool()
	log.Printf("events: loop started session=%s", h.Code)
	for {
		delay := time.Duration(pool.duration(int64(s.minDelay), int64(s.maxDelay)))
		if err := watch.sleep(ctx, delay); err != nil {
			log.Printf("events: loop stopped session=%s: %v", h.Code, err)
			return
		}
		err := s.tick(ctx, h.Code, pool, watch)
		switch {
		case err == nil:
		case errors.Is(err, errSessionEnded), ctx.Err() != nil:
			log.Printf("events: loop stopped session=%s", h.Code)
			return
		default:
			log.Printf("events: tick session=%s: %v", h.Code, err)
		}
	}
}

// tick publishes one event, waits for it to be acknowledged and applies it.
func (s *Scheduler) tick(ctx context.Context, code string, pool *Pool, watch *sessionWatch) error {
	event, err := s.nextEvent(ctx, code, pool)
	if err != nil {
		return err
	}
	instance, err := id.NewID()
	if err != nil {
		return fmt.Errorf("event instance id: %w", err)
	}
	published := domain.PublishedEvent{GameEvent: event, Instance: instance, PublishedAt: domain.Millis(s.now())}
	if err := s.publish(ctx, code, published); err != nil {
		return err
	}
	log.Printf("events: published session=%s event=%s kind=%s magnitude=%d", code, event.ID, event.Kind, event.Magnitude)

	seen := false
	session, err := watch.until(ctx, func(session domain.Session) bool {
		current := session.CurrentEvent
		if current != nil && sameEvent(*current, published) {
			seen = true
			return current.Acknowledged
		}
		return seen
	})
	if err != nil {
		return err
	}
	if session.CurrentEvent == nil || !sameEvent(*session.CurrentEvent, published) {
		return fmt.Errorf("event %s was replaced before acknowledgement", event.ID)
	}

	claimed, err := s.claimApplication(ctx, code, published)
	if err != nil || !claimed {
		return err
	}
	targets, minScore, err := s.apply(ctx, code, published)
	if recordErr := s.recordTargets(ctx, code, published, targets, minScore); recordErr != nil {
		log.Printf("events: record targets session=%s event=%s: %v", code, event.ID, recordErr)
	}
	return err
}

// publish sets currentEvent only while the session exists and is in
// progress, so a session deleted under the loop is never recreated.
func (s *Scheduler) publish(ctx context.Context, code string, published domain.PublishedEvent) error {
	path := domain.SessionPath(code)
	value, err := docstore.Normalize(published)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", published.ID, err)
	}
	result, err := s.store.Transaction(ctx, path, func(current any, exists bool) (any, bool) {
		session, ok, err := domain.DecodeSession(docstore.Snapshot{Path: path, Value: current, Exists: exists})
		if err != nil || !ok || session.Status != domain.StatusInProgress {
			return nil, false
		}
		doc, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		doc["currentEvent"] = value
		return doc, true
	})
	if err != nil {
		return fmt.Errorf("publish event %s: %w", published.ID, err)
	}
	if !result.Committed {
		return errSessionEnded
	}
	return nil
}

func (s *Scheduler) nextEvent(ctx context.Context, code string, pool *Pool) (domain.GameEvent, error) {
	if s.overruns != nil {
		overrun, err := s.overruns.TakeOverrun(ctx, code)
		if err != nil {
			return domain.GameEvent{}, err
		}
		if overrun != nil {
			log.Printf("events: turn overrun session=%s turn=%d player=%s duration_ms=%d", code, overrun.TurnNumber, overrun.PlayerUID, overrun.DurationMs)
			return s.overrunEvent(pool), nil
		}
	}
	event, ok := pool.Draw()
	if !ok {
		return domain.GameEvent{}, fmt.Errorf("event catalog is empty")
	}
	return event, nil
}

func (s *Scheduler) overrunEvent(pool *Pool) domain.GameEvent {
	var detrimental []domain.GameEvent
	for _, event := range s.catalog {
		if event.Kind == domain.KindDetrimental {
			detrimental = append(detrimental, event)
		}
	}
	if len(detrimental) == 0 {
		return domain.GameEvent{
			ID:          "turn-overrun",
			Kind:        domain.KindDetrimental,
			Magnitude:   DefaultOverrunPenalty,
			Description: "The turn ran too long.",
		}
	}
	return pool.pick(detrimental)
}

func sameEvent(a, b domain.PublishedEvent) bool {
	return a.Instance == b.Instance
}

// claimApplication marks the event applied before its effect runs, so a
// restarted host never applies it twice.
func (s *Scheduler) claimApplication(ctx context.Context, code string, published domain.PublishedEvent) (bool, error) {
	result, err := s.store.Transaction(ctx, domain.CurrentEventPath(code), func(current any, exists bool) (any, bool) {
		var stored domain.PublishedEvent
		if !exists || docstore.Decode(current, &stored) != nil || !sameEvent(stored, published) || stored.Applied {
			return nil, false
		}
		stored.Applied = true
		return stored, true
	})
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", published.ID, err)
	}
	return result.Committed, nil
}

func (s *Scheduler) recordTargets(ctx context.Context, code string, published domain.PublishedEvent, targets []string, minScore *int64) error {
	if len(targets) == 0 && minScore == nil {
		return nil
	}
	_, err := s.store.Transaction(ctx, domain.CurrentEventPath(code), func(current any, exists bool) (any, bool) {
		var stored domain.PublishedEvent
		if !exists || docstore.Decode(current, &stored) != nil || !sameEvent(stored, published) {
			return nil, false
		}
		stored.Targets = targets
		stored.MinScore = minScore
		return stored, true
	})
	return err
}

// apply runs the score effect of an acknowledged event against the current
// players and returns who was affected.
func (s *Scheduler) apply(ctx context.Context, code string, event domain.PublishedEvent) ([]string, *int64, error) {
	snap, err := s.store.Get(ctx, domain.SessionPath(code))
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	session, ok, err := domain.DecodeSession(snap)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errSessionEnded
	}
	players := session.OrderedPlayers()

	var (
		targets  []string
		delta    int64
		minScore *int64
	)
	switch event.Kind {
	case domain.KindBeneficial:
		delta = event.Magnitude
		targets = uids(players)
	case domain.KindDetrimental:
		delta = -event.Magnitude
		targets = uids(players)
	case domain.KindAction:
		if event.Magnitude == 0 {
			return nil, nil, nil
		}
		if s.selector == nil {
			return nil, nil, fmt.Errorf("action event %s: no player selector", event.ID)
		}
		uid, err := s.selector.SelectPlayer(ctx, session, event)
		if err != nil {
			return nil, nil, fmt.Errorf("select player for %s: %w", event.ID, err)
		}
		if _, ok := session.Players[uid]; !ok {
			return nil, nil, fmt.Errorf("select player for %s: %q is not in the session", event.ID, uid)
		}
		delta = event.Magnitude
		targets = []string{uid}
	case domain.KindSpecial:
		if len(players) == 0 {
			return nil, nil, nil
		}
		lowest := players[0].SessionScore
		for _, player := range players[1:] {
			if player.SessionScore < lowest {
				lowest = player.SessionScore
			}
		}
		for _, player := range players {
			if player.SessionScore == lowest {
				targets = append(targets, player.UID)
			}
		}
		minScore = &lowest
		delta = event.Magnitude
	default:
		return nil, nil, fmt.Errorf("event %s: unknown kind %q", event.ID, event.Kind)
	}
	if delta == 0 {
		return targets, minScore, nil
	}

	var errs []error
	applied := targets[:0:0]
	for _, uid := range targets {
		if _, err := s.ledger.Credit(ctx, code, uid, delta); err != nil {
			if apperrors.IsCode(err, apperrors.CodeNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("credit %s: %w", uid, err))
			continue
		}
		applied = append(applied, uid)
	}
	return applied, minScore, errors.Join(errs...)
}

func uids(players []domain.Player) []string {
	out := make([]string, 0, len(players))
	for _, player := range players {
		out = append(out, player.UID)
	}
	return out
}
