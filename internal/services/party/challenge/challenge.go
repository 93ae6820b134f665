// Package challenge holds the challenge catalog and the per-device queue of
// prefetched challenges.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// Challenge is a card the current player answers.
type Challenge struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	Criteria string `json:"criteria"`
	Points   int64  `json:"points"`
	Offline  bool   `json:"offline,omitempty"`
}

// Active converts the challenge into the turn's active challenge.
func (c Challenge) Active(now time.Time) domain.ActiveChallenge {
	return domain.ActiveChallenge{
		ID:        c.ID,
		Prompt:    c.Prompt,
		Criteria:  c.Criteria,
		Points:    c.Points,
		Offline:   c.Offline,
		StartedAt: domain.Millis(now),
	}
}

// Fetcher produces one challenge per call.
type Fetcher interface {
	Fetch(ctx context.Context) (Challenge, error)
}

// Catalog indexes challenges by id.
type Catalog struct {
	byID  map[string]Challenge
	order []string
}

// NewCatalog validates and indexes challenges.
func NewCatalog(challenges []Challenge) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Challenge, len(challenges))}
	for _, ch := range challenges {
		ch.ID = strings.TrimSpace(ch.ID)
		if ch.ID == "" {
			return nil, fmt.Errorf("challenge id is required")
		}
		if _, dup := c.byID[ch.ID]; dup {
			return nil, fmt.Errorf("duplicate challenge id %q", ch.ID)
		}
		if !ch.Offline && strings.TrimSpace(ch.Criteria) == "" {
			return nil, fmt.Errorf("challenge %q needs criteria", ch.ID)
		}
		if ch.Points < 0 {
			return nil, fmt.Errorf("challenge %q has negative points", ch.ID)
		}
		c.byID[ch.ID] = ch
		c.order = append(c.order, ch.ID)
	}
	return c, nil
}

// LoadCatalog decodes a JSON array of challenges.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var challenges []Challenge
	if err := json.NewDecoder(r).Decode(&challenges); err != nil {
		return nil, fmt.Errorf("decode challenge catalog: %w", err)
	}
	return NewCatalog(challenges)
}

// Lookup finds a challenge by id.
func (c *Catalog) Lookup(id string) (Challenge, bool) {
	ch, ok := c.byID[id]
	return ch, ok
}

// Len returns the number of challenges.
func (c *Catalog) Len() int {
	return len(c.order)
}

// RandomFetcher serves random catalog entries.
type RandomFetcher struct {
	catalog *Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomFetcher builds a fetcher over catalog.
func NewRandomFetcher(catalog *Catalog, rng *rand.Rand) *RandomFetcher {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomFetcher{catalog: catalog, rng: rng}
}

// Fetch picks a random challenge.
func (f *RandomFetcher) Fetch(ctx context.Context) (Challenge, error) {
	if err := ctx.Err(); err != nil {
		return Challenge{}, err
	}
	if f.catalog == nil || f.catalog.Len() == 0 {
		return Challenge{}, apperrors.New(apperrors.CodeNotFound, "challenge catalog is empty")
	}
	f.mu.Lock()
	id := f.catalog.order[f.rng.Intn(len(f.catalog.order))]
	f.mu.Unlock()
	return f.catalog.byID[id], nil
}
