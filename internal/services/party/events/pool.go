package events

import (
	"math/rand"
	"sync"

	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// Pool draws events without repeats until every catalog entry has been
// shown, then starts over from the full catalog.
type Pool struct {
	mu        sync.Mutex
	catalog   []domain.GameEvent
	remaining []domain.GameEvent
	rng       *rand.Rand
}

// NewPool builds a pool over catalog using rng for every draw.
func NewPool(catalog []domain.GameEvent, rng *rand.Rand) *Pool {
	return &Pool{
		catalog: append([]domain.GameEvent(nil), catalog...),
		rng:     rng,
	}
}

// Draw removes and returns a uniformly random event. ok is false only when
// the catalog is empty.
func (p *Pool) Draw() (domain.GameEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.catalog) == 0 {
		return domain.GameEvent{}, false
	}
	if len(p.remaining) == 0 {
		p.remaining = append(p.remaining[:0], p.catalog...)
	}
	i := p.rng.Intn(len(p.remaining))
	event := p.remaining[i]
	last := len(p.remaining) - 1
	p.remaining[i] = p.remaining[last]
	p.remaining = p.remaining[:last]
	return event, true
}

// Remaining reports how many events are left before the next refill.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remaining)
}

// duration returns a random value in [lo, hi].
func (p *Pool) duration(lo, hi int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hi <= lo {
		return lo
	}
	return lo + p.rng.Int63n(hi-lo+1)
}

// pick returns a random element of events.
func (p *Pool) pick(events []domain.GameEvent) domain.GameEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return events[p.rng.Intn(len(events))]
}
