// Package turns rotates turns between session players.
package turns

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// OverrunThreshold is the turn length past which the next scheduler tick
// fires a detrimental event.
const OverrunThreshold = 5 * time.Minute

// RoleReleaser frees the role of a departing player.
type RoleReleaser interface {
	Release(ctx context.Context, code, uid, roleName string) error
}

// Coordinator owns the turnState subtree of a session.
type Coordinator struct {
	store docstore.Store
	roles RoleReleaser
	now   func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator builds a coordinator. roles may be nil when the session has
// no role catalog.
func NewCoordinator(store docstore.Store, roles RoleReleaser, opts ...Option) *Coordinator {
	c := &Coordinator{store: store, roles: roles, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Coordinator) loadSession(ctx context.Context, code string) (domain.Session, error) {
	snap, err := c.store.Get(ctx, domain.SessionPath(code))
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

func decodeTurn(current any, exists bool) (domain.TurnState, bool) {
	if !exists {
		return domain.TurnState{}, false
	}
	var state domain.TurnState
	if err := docstore.Decode(current, &state); err != nil {
		log.Printf("turns: decode turn state: %v", err)
		return domain.TurnState{}, false
	}
	return state, true
}

// Current returns the turn state of a session.
func (c *Coordinator) Current(ctx context.Context, code string) (domain.TurnState, bool, error) {
	snap, err := c.store.Get(ctx, domain.TurnStatePath(code))
	if err != nil {
		return domain.TurnState{}, false, fmt.Errorf("load turn state: %w", err)
	}
	state, ok := decodeTurn(snap.Value, snap.Exists)
	return state, ok, nil
}

// Initialize gives the first turn to the earliest joined player. An already
// initialized turn state is returned unchanged.
func (c *Coordinator) Initialize(ctx context.Context, code string) (domain.TurnState, error) {
	session, err := c.loadSession(ctx, code)
	if err != nil {
		return domain.TurnState{}, err
	}
	players := session.OrderedPlayers()
	if len(players) == 0 {
		return domain.TurnState{}, apperrors.New(apperrors.CodeInvalidArgument, "session has no players")
	}
	fresh := domain.TurnState{
		CurrentPlayerUID: players[0].UID,
		TurnNumber:       1,
		TurnStartedAt:    domain.Millis(c.now()),
	}
	result, err := c.store.Transaction(ctx, domain.TurnStatePath(code), func(current any, exists bool) (any, bool) {
		if state, ok := decodeTurn(current, exists); ok && state.TurnNumber >= 1 {
			return nil, false
		}
		return fresh, true
	})
	if err != nil {
		return domain.TurnState{}, fmt.Errorf("initialize turn state: %w", err)
	}
	state, _ := decodeTurn(result.Value, true)
	return state, nil
}

// nextIndex is the rotation rule shared by EndTurn and OnPlayerLeave.
func nextIndex(players []domain.Player, currentUID string) int {
	idx := domain.PlayerIndex(players, currentUID)
	if idx < 0 {
		return 0
	}
	return (idx + 1) % len(players)
}

// EndTurn passes the turn to the next player in join order. Only the current
// player or the host may end a turn. The write only lands if the turn number
// is still the one read and the next player is still in the session, so a
// racing second call or a concurrent leave fails with TURN_CONFLICT instead of
// skipping a player or handing the turn to someone who left.
func (c *Coordinator) EndTurn(ctx context.Context, h domain.Handle) (domain.TurnState, error) {
	session, err := c.loadSession(ctx, h.Code)
	if err != nil {
		return domain.TurnState{}, err
	}
	if session.Status != domain.StatusInProgress || session.TurnState == nil {
		return domain.TurnState{}, apperrors.New(apperrors.CodeInvalidStatusTransition, "session is not in progress")
	}
	state := *session.TurnState
	if h.UID != state.CurrentPlayerUID && !session.IsHost(h.UID) {
		return domain.TurnState{}, apperrors.WithMetadata(apperrors.CodePermissionDenied, "only the current player or the host can end the turn", map[string]string{"UID": h.UID})
	}

	players := session.OrderedPlayers()
	if len(players) == 0 {
		return state, nil
	}
	target := players[nextIndex(players, state.CurrentPlayerUID)].UID
	expected := state.TurnNumber
	now := domain.Millis(c.now())

	path := domain.SessionPath(h.Code)
	result, err := c.store.Transaction(ctx, path, func(current any, exists bool) (any, bool) {
		latest, ok, err := domain.DecodeSession(docstore.Snapshot{Path: path, Value: current, Exists: exists})
		if err != nil || !ok || latest.TurnState == nil || latest.TurnState.TurnNumber != expected {
			return nil, false
		}
		if _, stillJoined := latest.Players[target]; !stillJoined {
			return nil, false
		}
		doc, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		stored := *latest.TurnState
		duration := now - stored.TurnStartedAt
		if stored.TurnDurations == nil {
			stored.TurnDurations = map[string]int64{}
		}
		stored.TurnDurations[domain.DurationKey(expected)] = duration
		if duration > OverrunThreshold.Milliseconds() {
			stored.Overrun = &domain.Overrun{TurnNumber: expected, PlayerUID: stored.CurrentPlayerUID, DurationMs: duration}
		}
		stored.TurnNumber = expected + 1
		stored.TurnStartedAt = now
		stored.ActiveChallenge = nil
		stored.CurrentPlayerUID = target
		value, err := docstore.Normalize(stored)
		if err != nil {
			log.Printf("turns: encode turn state session=%s: %v", h.Code, err)
			return nil, false
		}
		doc["turnState"] = value
		return doc, true
	})
	if err != nil {
		return domain.TurnState{}, fmt.Errorf("end turn: %w", err)
	}
	if !result.Committed {
		return domain.TurnState{}, apperrors.WithMetadata(apperrors.CodeTurnConflict, "turn already advanced", map[string]string{
			"Session":    h.Code,
			"TurnNumber": strconv.FormatInt(expected, 10),
		})
	}
	committed, _, err := domain.DecodeSession(docstore.Snapshot{Path: path, Value: result.Value, Exists: true})
	if err != nil {
		return domain.TurnState{}, fmt.Errorf("end turn: %w", err)
	}
	if committed.TurnState == nil {
		return domain.TurnState{}, fmt.Errorf("end turn: committed session has no turn state")
	}
	return *committed.TurnState, nil
}

// OnPlayerLeave removes uid from the session, frees their role and, when it
// was their turn, hands the turn to the player who took their position in
// join order.
func (c *Coordinator) OnPlayerLeave(ctx context.Context, code, uid string) error {
	session, err := c.loadSession(ctx, code)
	if err != nil {
		return err
	}
	player, ok := session.Players[uid]
	if !ok {
		return nil
	}
	before := session.OrderedPlayers()
	leftIndex := domain.PlayerIndex(before, uid)
	remaining := append(append([]domain.Player{}, before[:leftIndex]...), before[leftIndex+1:]...)

	if err := c.store.Delete(ctx, domain.PlayerPath(code, uid)); err != nil {
		return fmt.Errorf("remove player: %w", err)
	}
	if player.Role != "" && c.roles != nil {
		if err := c.roles.Release(ctx, code, uid, player.Role); err != nil {
			log.Printf("turns: release role=%s session=%s uid=%s: %v", player.Role, code, uid, err)
		}
	}
	if len(remaining) == 0 {
		return nil
	}

	target := remaining[leftIndex%len(remaining)].UID
	now := domain.Millis(c.now())
	_, err = c.store.Transaction(ctx, domain.TurnStatePath(code), func(current any, exists bool) (any, bool) {
		stored, ok := decodeTurn(current, exists)
		if !ok || stored.CurrentPlayerUID != uid {
			return nil, false
		}
		if stored.TurnDurations == nil {
			stored.TurnDurations = map[string]int64{}
		}
		stored.TurnDurations[domain.DurationKey(stored.TurnNumber)] = now - stored.TurnStartedAt
		stored.TurnNumber++
		stored.TurnStartedAt = now
		stored.ActiveChallenge = nil
		stored.CurrentPlayerUID = target
		return stored, true
	})
	if err != nil {
		return fmt.Errorf("reassign turn: %w", err)
	}
	return nil
}

// SetActiveChallenge records the challenge the current player is answering.
func (c *Coordinator) SetActiveChallenge(ctx context.Context, h domain.Handle, challenge domain.ActiveChallenge) (domain.TurnState, error) {
	session, err := c.loadSession(ctx, h.Code)
	if err != nil {
		return domain.TurnState{}, err
	}
	if session.Status != domain.StatusInProgress || session.TurnState == nil {
		return domain.TurnState{}, apperrors.New(apperrors.CodeInvalidStatusTransition, "session is not in progress")
	}
	if session.TurnState.CurrentPlayerUID != h.UID && !session.IsHost(h.UID) {
		return domain.TurnState{}, apperrors.New(apperrors.CodePermissionDenied, "it is not your turn")
	}
	expected := session.TurnState.TurnNumber
	challenge.StartedAt = domain.Millis(c.now())

	result, err := c.store.Transaction(ctx, domain.TurnStatePath(h.Code), func(current any, exists bool) (any, bool) {
		stored, ok := decodeTurn(current, exists)
		if !ok || stored.TurnNumber != expected {
			return nil, false
		}
		stored.ActiveChallenge = &challenge
		return stored, true
	})
	if err != nil {
		return domain.TurnState{}, fmt.Errorf("set active challenge: %w", err)
	}
	if !result.Committed {
		return domain.TurnState{}, apperrors.New(apperrors.CodeTurnConflict, "turn changed while starting the challenge")
	}
	next, _ := decodeTurn(result.Value, true)
	return next, nil
}

// RecordOutcome stores the verdict for the active challenge of turnNumber
// and clears the active challenge. Only one outcome can settle a given
// active challenge.
func (c *Coordinator) RecordOutcome(ctx context.Context, code string, outcome domain.RecordedOutcome) error {
	result, err := c.store.Transaction(ctx, domain.TurnStatePath(code), func(current any, exists bool) (any, bool) {
		stored, ok := decodeTurn(current, exists)
		if !ok || stored.TurnNumber != outcome.TurnNumber {
			return nil, false
		}
		if stored.ActiveChallenge == nil || stored.ActiveChallenge.ID != outcome.ChallengeID {
			return nil, false
		}
		stored.LastOutcome = &outcome
		stored.ActiveChallenge = nil
		return stored, true
	})
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if !result.Committed {
		return apperrors.New(apperrors.CodeTurnConflict, "turn changed before the outcome was recorded")
	}
	return nil
}

// TakeOverrun clears and returns a pending overrun flag, if any.
func (c *Coordinator) TakeOverrun(ctx context.Context, code string) (*domain.Overrun, error) {
	var taken *domain.Overrun
	_, err := c.store.Transaction(ctx, domain.TurnStatePath(code), func(current any, exists bool) (any, bool) {
		taken = nil
		stored, ok := decodeTurn(current, exists)
		if !ok || stored.Overrun == nil {
			return nil, false
		}
		taken = stored.Overrun
		stored.Overrun = nil
		return stored, true
	})
	if err != nil {
		return nil, fmt.Errorf("take overrun: %w", err)
	}
	return taken, nil
}
