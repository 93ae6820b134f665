// Package ledger applies score deltas through store transactions so that
// concurrent updates from several devices all count.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// DefaultMaxRetries bounds how many times a contended delta is re-run
// before TRANSACTION_CONTENTION reaches the caller.
const DefaultMaxRetries = 5

var errPlayerMissing = errors.New("player missing")

// Ledger applies integer deltas to score fields.
type Ledger struct {
	store      docstore.Store
	maxRetries uint
	newBackOff func() backoff.BackOff
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n uint) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// WithBackOff overrides the retry schedule.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(l *Ledger) {
		if factory != nil {
			l.newBackOff = factory
		}
	}
}

// New builds a ledger over store.
func New(store docstore.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		maxRetries: DefaultMaxRetries,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// ApplyDelta adds delta to the integer at path, treating an absent value as
// zero, and returns the committed value. Totals are not floored.
func (l *Ledger) ApplyDelta(ctx context.Context, path string, delta int64) (int64, error) {
	return l.run(ctx, path, func(current any, _ bool) (any, bool) {
		return docstore.Int64(current) + delta, true
	}, func(value any) int64 {
		return docstore.Int64(value)
	})
}

// ApplySessionDelta adds delta to a player's session score. It fails with
// NOT_FOUND when the player has left, rather than recreating them.
func (l *Ledger) ApplySessionDelta(ctx context.Context, code, uid string, delta int64) (int64, error) {
	score, err := l.run(ctx, domain.PlayerPath(code, uid), func(current any, exists bool) (any, bool) {
		player, ok := current.(map[string]any)
		if !exists || !ok {
			return nil, false
		}
		player["sessionScore"] = docstore.Int64(player["sessionScore"]) + delta
		return player, true
	}, func(value any) int64 {
		player, _ := value.(map[string]any)
		return docstore.Int64(player["sessionScore"])
	})
	if errors.Is(err, errPlayerMissing) {
		return 0, apperrors.WithMetadata(apperrors.CodeNotFound, "player is not in the session", map[string]string{"Session": code, "UID": uid})
	}
	return score, err
}

// ApplyTotalDelta adds delta to a user's durable total.
func (l *Ledger) ApplyTotalDelta(ctx context.Context, uid string, delta int64) (int64, error) {
	return l.ApplyDelta(ctx, domain.TotalScorePath(uid), delta)
}

// Credit applies delta to the session score and then to the durable total.
// The two writes are independent; a failure on the second leaves the first
// in place.
func (l *Ledger) Credit(ctx context.Context, code, uid string, delta int64) (int64, error) {
	if delta == 0 {
		return 0, nil
	}
	score, err := l.ApplySessionDelta(ctx, code, uid, delta)
	if err != nil {
		return 0, err
	}
	if _, err := l.ApplyTotalDelta(ctx, uid, delta); err != nil {
		return score, fmt.Errorf("apply total delta: %w", err)
	}
	return score, nil
}

func (l *Ledger) run(ctx context.Context, path string, fn docstore.UpdateFunc, read func(any) int64) (int64, error) {
	operation := func() (int64, error) {
		result, err := l.store.Transaction(ctx, path, fn)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeTransactionContention) {
				return 0, err
			}
			return 0, backoff.Permanent(err)
		}
		if !result.Committed {
			return 0, backoff.Permanent(errPlayerMissing)
		}
		return read(result.Value), nil
	}
	value, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(l.newBackOff()),
		backoff.WithMaxTries(l.maxRetries),
	)
	if err != nil {
		return 0, fmt.Errorf("apply delta at %s: %w", path, err)
	}
	return value, nil
}
