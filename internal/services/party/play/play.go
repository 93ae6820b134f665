// Package play runs the per-turn challenge flow: scan a card, answer it and
// credit the points.
package play

import (
	"context"
	"fmt"
	"log"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/challenge"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/domain"
	"github.com/louisbranch/questparty/internal/services/party/scan"
	"github.com/louisbranch/questparty/internal/services/party/validator"
)

// OfflineFeedback is recorded for verdicts given by the group.
const OfflineFeedback = "Judged by the group."

// Turns is the part of the turn coordinator the flow drives.
type Turns interface {
	SetActiveChallenge(ctx context.Context, h domain.Handle, ch domain.ActiveChallenge) (domain.TurnState, error)
	RecordOutcome(ctx context.Context, code string, outcome domain.RecordedOutcome) error
}

// Ledger credits points.
type Ledger interface {
	Credit(ctx context.Context, code, uid string, delta int64) (int64, error)
}

// Catalog resolves scanned challenge ids.
type Catalog interface {
	Lookup(id string) (challenge.Challenge, bool)
}

// Config wires a Service. Queue supplies the prompt for offline cards and
// may be nil when the device keeps no queue.
type Config struct {
	Store     docstore.Store
	Turns     Turns
	Ledger    Ledger
	Catalog   Catalog
	Validator validator.Validator
	Queue     *challenge.Queue
	Now       func() time.Time
}

// Service runs the challenge flow for one device.
type Service struct {
	store     docstore.Store
	turns     Turns
	ledger    Ledger
	catalog   Catalog
	validator validator.Validator
	queue     *challenge.Queue
	now       func() time.Time
}

// NewService builds a play service. The validator is wrapped so a broken
// validator degrades to an incorrect verdict.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("store is required")
	case cfg.Turns == nil:
		return nil, fmt.Errorf("turns is required")
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	case cfg.Catalog == nil:
		return nil, fmt.Errorf("catalog is required")
	}
	s := &Service{
		store:     cfg.Store,
		turns:     cfg.Turns,
		ledger:    cfg.Ledger,
		catalog:   cfg.Catalog,
		validator: validator.WithFallback(cfg.Validator, 0),
		queue:     cfg.Queue,
		now:       cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// StartFromScan makes the scanned card the active challenge of the turn.
func (s *Service) StartFromScan(ctx context.Context, h domain.Handle, raw string) (domain.ActiveChallenge, error) {
	payload, err := scan.Parse(raw)
	if err != nil {
		return domain.ActiveChallenge{}, err
	}
	var ch challenge.Challenge
	if payload.Offline {
		ch, err = s.nextOffline(ctx)
		if err != nil {
			return domain.ActiveChallenge{}, err
		}
	} else {
		found, ok := s.catalog.Lookup(payload.ChallengeID)
		if !ok {
			return domain.ActiveChallenge{}, apperrors.WithMetadata(apperrors.CodeNotFound, "unknown challenge card", map[string]string{"Challenge": payload.ChallengeID})
		}
		ch = found
	}
	state, err := s.turns.SetActiveChallenge(ctx, h, ch.Active(s.now()))
	if err != nil {
		return domain.ActiveChallenge{}, err
	}
	return *state.ActiveChallenge, nil
}

// nextOffline takes the head of the queue as the prompt for an offline card
// and starts a background refill.
func (s *Service) nextOffline(ctx context.Context) (challenge.Challenge, error) {
	if s.queue == nil {
		return challenge.Challenge{}, apperrors.New(apperrors.CodeNotFound, "no offline challenges available")
	}
	ch, ok := s.queue.ConsumeOne()
	if !ok {
		if err := s.queue.EnsureFilled(ctx); err != nil {
			return challenge.Challenge{}, fmt.Errorf("refill challenge queue: %w", err)
		}
		if ch, ok = s.queue.ConsumeOne(); !ok {
			return challenge.Challenge{}, apperrors.New(apperrors.CodeNotFound, "no offline challenges available")
		}
	}
	go func() {
		if err := s.queue.EnsureFilled(context.WithoutCancel(ctx)); err != nil {
			log.Printf("play: refill challenge queue: %v", err)
		}
	}()
	ch.Offline = true
	return ch, nil
}

func (s *Service) activeTurn(ctx context.Context, code string) (domain.Session, domain.TurnState, error) {
	snap, err := s.store.Get(ctx, domain.SessionPath(code))
	if err != nil {
		return domain.Session{}, domain.TurnState{}, fmt.Errorf("load session: %w", err)
	}
	session, ok, err := domain.DecodeSession(snap)
	if err != nil {
		return domain.Session{}, domain.TurnState{}, err
	}
	if !ok {
		return domain.Session{}, domain.TurnState{}, apperrors.WithMetadata(apperrors.CodeNotFound, "session not found", map[string]string{"Session": code})
	}
	if session.Status != domain.StatusInProgress || session.TurnState == nil {
		return domain.Session{}, domain.TurnState{}, apperrors.New(apperrors.CodeInvalidStatusTransition, "session is not in progress")
	}
	if session.TurnState.ActiveChallenge == nil {
		return domain.Session{}, domain.TurnState{}, apperrors.New(apperrors.CodeInvalidArgument, "no active challenge")
	}
	return session, *session.TurnState, nil
}

// SubmitAnswer validates the current player's answer and credits the
// challenge points when it is correct.
func (s *Service) SubmitAnswer(ctx context.Context, h domain.Handle, answer string) (domain.RecordedOutcome, error) {
	if err := h.Validate(); err != nil {
		return domain.RecordedOutcome{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid session handle", err)
	}
	session, turn, err := s.activeTurn(ctx, h.Code)
	if err != nil {
		return domain.RecordedOutcome{}, err
	}
	if turn.CurrentPlayerUID != h.UID {
		return domain.RecordedOutcome{}, apperrors.New(apperrors.CodePermissionDenied, "it is not your turn")
	}
	if turn.ActiveChallenge.Offline {
		return domain.RecordedOutcome{}, apperrors.New(apperrors.CodeInvalidArgument, "offline challenges are judged by the group")
	}
	outcome, err := s.validator.Evaluate(ctx, turn.ActiveChallenge.Criteria, answer, session.Players[h.UID].Role)
	if err != nil {
		return domain.RecordedOutcome{}, err
	}
	return s.settle(ctx, h.Code, turn, outcome)
}

// JudgeOffline records the group's verdict on an offline card. Only the
// host may enter it.
func (s *Service) JudgeOffline(ctx context.Context, h domain.Handle, correct bool) (domain.RecordedOutcome, error) {
	session, turn, err := s.activeTurn(ctx, h.Code)
	if err != nil {
		return domain.RecordedOutcome{}, err
	}
	if !session.IsHost(h.UID) {
		return domain.RecordedOutcome{}, apperrors.New(apperrors.CodePermissionDenied, "only the host can judge offline challenges")
	}
	if !turn.ActiveChallenge.Offline {
		return domain.RecordedOutcome{}, apperrors.New(apperrors.CodeInvalidArgument, "challenge is not an offline card")
	}
	return s.settle(ctx, h.Code, turn, domain.ChallengeOutcome{IsCorrect: correct, Feedback: OfflineFeedback})
}

// settle records the outcome before crediting so a challenge pays out at
// most once.
func (s *Service) settle(ctx context.Context, code string, turn domain.TurnState, outcome domain.ChallengeOutcome) (domain.RecordedOutcome, error) {
	recorded := domain.RecordedOutcome{
		ChallengeOutcome: outcome,
		ChallengeID:      turn.ActiveChallenge.ID,
		PlayerUID:        turn.CurrentPlayerUID,
		TurnNumber:       turn.TurnNumber,
	}
	if outcome.IsCorrect {
		recorded.Awarded = turn.ActiveChallenge.Points
	}
	if err := s.turns.RecordOutcome(ctx, code, recorded); err != nil {
		return domain.RecordedOutcome{}, err
	}
	if recorded.Awarded != 0 {
		if _, err := s.ledger.Credit(ctx, code, recorded.PlayerUID, recorded.Awarded); err != nil {
			return recorded, fmt.Errorf("credit challenge points: %w", err)
		}
	}
	return recorded, nil
}
