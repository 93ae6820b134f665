// Package scan parses challenge card QR payloads and debounces repeated
// reads of the same card.
package scan

import (
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
)

// OfflineSentinel marks a card whose answer is judged by the group.
const OfflineSentinel = "OFFLINE"

// URIPrefix is the optional prefix printed on challenge cards.
const URIPrefix = "questparty://challenge/"

// DefaultWindow is how long an identical payload is ignored after a scan.
const DefaultWindow = 3 * time.Second

const maxIDLength = 64

// Payload is a parsed scan.
type Payload struct {
	ChallengeID string
	Offline     bool
}

// Parse reads a raw scanned string.
func Parse(raw string) (Payload, error) {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, URIPrefix)
	if strings.EqualFold(value, OfflineSentinel) {
		return Payload{Offline: true}, nil
	}
	if value == "" || len(value) > maxIDLength {
		return Payload{}, apperrors.New(apperrors.CodeInvalidArgument, "scanned code is not a challenge card")
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return Payload{}, apperrors.New(apperrors.CodeInvalidArgument, "scanned code is not a challenge card")
		}
	}
	return Payload{ChallengeID: value}, nil
}

// Debouncer lets one lookup through per physical scan. Cameras report the
// same code many times per second.
type Debouncer struct {
	window time.Duration

	mu       sync.Mutex
	last     string
	lastAt   time.Time
	inFlight bool
}

// NewDebouncer builds a debouncer; window <= 0 uses DefaultWindow.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{window: window}
}

// Accept reports whether payload should be looked up. A true result holds
// the in-flight slot until Done is called.
func (d *Debouncer) Accept(payload string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight {
		return false
	}
	if payload == d.last && now.Sub(d.lastAt) < d.window {
		return false
	}
	d.last = payload
	d.lastAt = now
	d.inFlight = true
	return true
}

// Done releases the in-flight slot.
func (d *Debouncer) Done() {
	d.mu.Lock()
	d.inFlight = false
	d.mu.Unlock()
}
