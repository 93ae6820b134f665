package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// DefaultCatalog is the built-in event set.
func DefaultCatalog() []domain.GameEvent {
	return []domain.GameEvent{
		{ID: "tailwind", Kind: domain.KindBeneficial, Magnitude: 3, Description: "A tailwind carries the party. Everyone gains 3 points."},
		{ID: "treasure", Kind: domain.KindBeneficial, Magnitude: 5, Description: "The party finds a chest. Everyone gains 5 points."},
		{ID: "storm", Kind: domain.KindDetrimental, Magnitude: 3, Description: "A storm rolls in. Everyone loses 3 points."},
		{ID: "turn-overrun", Kind: domain.KindDetrimental, Magnitude: DefaultOverrunPenalty, Description: "Someone took too long. Everyone loses 5 points."},
		{ID: "spotlight", Kind: domain.KindAction, Magnitude: 4, Description: "The host picks a player who gains 4 points."},
		{ID: "pickpocket", Kind: domain.KindAction, Magnitude: -4, Description: "The host picks a player who loses 4 points."},
		{ID: "underdog", Kind: domain.KindSpecial, Magnitude: 6, Description: "The players in last place gain 6 points."},
	}
}

// LoadCatalog decodes and validates a JSON array of events.
func LoadCatalog(r io.Reader) ([]domain.GameEvent, error) {
	var catalog []domain.GameEvent
	if err := json.NewDecoder(r).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decode event catalog: %w", err)
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("event catalog is empty")
	}
	seen := make(map[string]bool, len(catalog))
	for _, event := range catalog {
		if err := event.Validate(); err != nil {
			return nil, err
		}
		if seen[event.ID] {
			return nil, fmt.Errorf("duplicate event id %q", event.ID)
		}
		seen[event.ID] = true
	}
	return catalog, nil
}

// RandomSelector targets action events at a random player.
type RandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector builds a selector; a nil rng is time-seeded.
func NewRandomSelector(rng *rand.Rand) *RandomSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomSelector{rng: rng}
}

// SelectPlayer picks one of the session's players.
func (s *RandomSelector) SelectPlayer(_ context.Context, session domain.Session, _ domain.PublishedEvent) (string, error) {
	players := session.OrderedPlayers()
	if len(players) == 0 {
		return "", apperrors.New(apperrors.CodeNotFound, "session has no players")
	}
	s.mu.Lock()
	i := s.rng.Intn(len(players))
	s.mu.Unlock()
	return players[i].UID, nil
}
