// Package lifecycle creates, joins, starts, finishes and deletes sessions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/platform/timeouts"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// DefaultMaxCodeAttempts bounds how many random codes Create tries.
const DefaultMaxCodeAttempts = 20

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// SlotSeeder seeds role slots for a new session.
type SlotSeeder interface {
	InitSlots(ctx context.Context, code string) error
}

// TurnKeeper is the part of the turn coordinator lifecycle drives.
type TurnKeeper interface {
	Initialize(ctx context.Context, code string) (domain.TurnState, error)
	OnPlayerLeave(ctx context.Context, code, uid string) error
}

// Config wires a Service.
type Config struct {
	Store docstore.Store
	Roles SlotSeeder
	Turns TurnKeeper

	MaxCodeAttempts int
	JoinTimeout     time.Duration
	Rand            *rand.Rand
	Now             func() time.Time
}

// Service drives the session status machine.
type Service struct {
	store           docstore.Store
	roles           SlotSeeder
	turns           TurnKeeper
	maxCodeAttempts int
	joinTimeout     time.Duration
	now             func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService builds a lifecycle service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Turns == nil {
		return nil, fmt.Errorf("turn keeper is required")
	}
	s := &Service{
		store:           cfg.Store,
		roles:           cfg.Roles,
		turns:           cfg.Turns,
		maxCodeAttempts: cfg.MaxCodeAttempts,
		joinTimeout:     cfg.JoinTimeout,
		now:             cfg.Now,
		rng:             cfg.Rand,
	}
	if s.maxCodeAttempts <= 0 {
		s.maxCodeAttempts = DefaultMaxCodeAttempts
	}
	if s.joinTimeout <= 0 {
		s.joinTimeout = timeouts.JoinSession
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s, nil
}

func (s *Service) randomCode() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	var b strings.Builder
	for i := 0; i < domain.CodeLength; i++ {
		b.WriteByte(codeAlphabet[s.rng.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// Get loads a session.
func (s *Service) Get(ctx context.Context, code string) (domain.Session, error) {
	snap, err := s.store.Get(ctx, domain.SessionPath(code))
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	session, ok, err := domain.DecodeSession(snap)
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, apperrors.WithMetadata(apperrors.CodeNotFound, "session not found", map[string]string{"Session": code})
	}
	return session, nil
}

// Create opens a waiting session hosted by hostUID under a fresh join code.
func (s *Service) Create(ctx context.Context, hostUID, hostName string) (domain.Handle, error) {
	hostUID = strings.TrimSpace(hostUID)
	if hostUID == "" {
		return domain.Handle{}, apperrors.New(apperrors.CodeInvalidArgument, "host uid is required")
	}
	name := NormalizeDisplayName(hostName)
	if name == "" {
		return domain.Handle{}, apperrors.New(apperrors.CodeInvalidArgument, "display name is required")
	}

	now := domain.Millis(s.now())
	for attempt := 0; attempt < s.maxCodeAttempts; attempt++ {
		code := s.randomCode()
		session := domain.Session{
			Code:      code,
			Status:    domain.StatusWaiting,
			HostUID:   hostUID,
			CreatedAt: now,
			Players: map[string]domain.Player{
				hostUID: {UID: hostUID, DisplayName: name, IsHost: true, JoinedAt: now},
			},
		}
		result, err := s.store.Transaction(ctx, domain.SessionPath(code), func(_ any, exists bool) (any, bool) {
			return session, !exists
		})
		if err != nil {
			return domain.Handle{}, fmt.Errorf("create session: %w", err)
		}
		if !result.Committed {
			continue
		}
		if s.roles != nil {
			if err := s.roles.InitSlots(ctx, code); err != nil {
				return domain.Handle{}, err
			}
		}
		log.Printf("lifecycle: session created code=%s host=%s", code, hostUID)
		return domain.Handle{Code: code, UID: hostUID, DisplayName: name}, nil
	}
	return domain.Handle{}, apperrors.New(apperrors.CodeSessionCodeExhausted, "could not find a free session code")
}

// Join adds uid to the session, or refreshes their name when they are
// already in it. The whole call is bounded by the join timeout.
func (s *Service) Join(ctx context.Context, code, uid, displayName string) (domain.Handle, error) {
	code = domain.NormalizeCode(code)
	if !domain.ValidCode(code) {
		return domain.Handle{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "session code must be four letters", map[string]string{"Session": code})
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.Handle{}, apperrors.New(apperrors.CodeInvalidArgument, "uid is required")
	}
	name := NormalizeDisplayName(displayName)
	if name == "" {
		return domain.Handle{}, apperrors.New(apperrors.CodeInvalidArgument, "display name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.joinTimeout)
	defer cancel()

	var rejected error
	now := domain.Millis(s.now())
	_, err := s.store.Transaction(ctx, domain.SessionPath(code), func(current any, exists bool) (any, bool) {
		rejected = nil
		session, ok, err := domain.DecodeSession(docstore.Snapshot{Path: domain.SessionPath(code), Value: current, Exists: exists})
		switch {
		case err != nil:
			rejected = err
			return nil, false
		case !ok:
			rejected = apperrors.WithMetadata(apperrors.CodeNotFound, "session not found", map[string]string{"Session": code})
			return nil, false
		case session.Status == domain.StatusFinished:
			rejected = apperrors.New(apperrors.CodeInvalidStatusTransition, "session has finished")
			return nil, false
		}
		doc, _ := current.(map[string]any)
		players, _ := doc["players"].(map[string]any)
		if players == nil {
			players = map[string]any{}
		}
		if existing, ok := players[uid].(map[string]any); ok {
			existing["displayName"] = name
		} else {
			players[uid] = domain.Player{UID: uid, DisplayName: name, IsHost: session.IsHost(uid), JoinedAt: now}
		}
		doc["players"] = players
		return doc, true
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Handle{}, apperrors.Wrap(apperrors.CodeStoreTimeout, "joining the session timed out", err)
		}
		return domain.Handle{}, fmt.Errorf("join session: %w", err)
	}
	if rejected != nil {
		return domain.Handle{}, rejected
	}
	return domain.Handle{Code: code, UID: uid, DisplayName: name}, nil
}

// Leave removes the acting player. The host cannot leave; it finishes or
// deletes the session instead.
func (s *Service) Leave(ctx context.Context, h domain.Handle) error {
	session, err := s.Get(ctx, h.Code)
	if err != nil {
		return err
	}
	if session.IsHost(h.UID) && session.Status != domain.StatusFinished {
		return apperrors.New(apperrors.CodeInvalidArgument, "the host cannot leave an open session")
	}
	return s.turns.OnPlayerLeave(ctx, h.Code, h.UID)
}

func (s *Service) requireHost(ctx context.Context, h domain.Handle) (domain.Session, error) {
	session, err := s.Get(ctx, h.Code)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.IsHost(h.UID) {
		return domain.Session{}, apperrors.WithMetadata(apperrors.CodePermissionDenied, "only the host can do this", map[string]string{"UID": h.UID})
	}
	return session, nil
}

// Start moves a waiting session to in_progress after giving the first turn
// to the earliest joined player.
func (s *Service) Start(ctx context.Context, h domain.Handle) error {
	session, err := s.requireHost(ctx, h)
	if err != nil {
		return err
	}
	if !session.Status.CanTransition(domain.StatusInProgress) {
		return apperrors.WithMetadata(apperrors.CodeInvalidStatusTransition, "session cannot start", map[string]string{"Status": string(session.Status)})
	}
	if _, err := s.turns.Initialize(ctx, h.Code); err != nil {
		return err
	}
	if err := s.transition(ctx, h.Code, domain.StatusInProgress, nil); err != nil {
		return err
	}
	log.Printf("lifecycle: session started code=%s", h.Code)
	return nil
}

// Finish closes the session and freezes the final ranking. Durable totals
// are credited as scores change, so nothing else is flushed here.
func (s *Service) Finish(ctx context.Context, h domain.Handle) (domain.Results, error) {
	if _, err := s.requireHost(ctx, h); err != nil {
		return domain.Results{}, err
	}
	var results domain.Results
	err := s.transition(ctx, h.Code, domain.StatusFinished, func(session domain.Session, doc map[string]any) {
		results = domain.Results{
			FinishedAt: domain.Millis(s.now()),
			Ranking:    domain.Rank(session.OrderedPlayers()),
		}
		doc["results"] = results
	})
	if err != nil {
		return domain.Results{}, err
	}
	log.Printf("lifecycle: session finished code=%s players=%d", h.Code, len(results.Ranking))
	return results, nil
}

// transition moves the session status forward atomically, letting mutate
// add fields to the same write.
func (s *Service) transition(ctx context.Context, code string, next domain.Status, mutate func(domain.Session, map[string]any)) error {
	var rejected error
	_, err := s.store.Transaction(ctx, domain.SessionPath(code), func(current any, exists bool) (any, bool) {
		rejected = nil
		session, ok, err := domain.DecodeSession(docstore.Snapshot{Path: domain.SessionPath(code), Value: current, Exists: exists})
		if err != nil {
			rejected = err
			return nil, false
		}
		if !ok {
			rejected = apperrors.WithMetadata(apperrors.CodeNotFound, "session not found", map[string]string{"Session": code})
			return nil, false
		}
		if !session.Status.CanTransition(next) {
			rejected = apperrors.WithMetadata(apperrors.CodeInvalidStatusTransition, "status can only move forward", map[string]string{
				"From": string(session.Status),
				"To":   string(next),
			})
			return nil, false
		}
		doc, _ := current.(map[string]any)
		doc["status"] = string(next)
		if mutate != nil {
			mutate(session, doc)
		}
		return doc, true
	})
	if err != nil {
		return fmt.Errorf("set status %s: %w", next, err)
	}
	return rejected
}

// Delete removes the session document. Only the host may delete it.
func (s *Service) Delete(ctx context.Context, h domain.Handle) error {
	if _, err := s.requireHost(ctx, h); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, domain.SessionPath(h.Code)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	log.Printf("lifecycle: session deleted code=%s", h.Code)
	return nil
}
