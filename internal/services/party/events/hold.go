package events

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// MinHold is how long the confirm gesture must be held before an event is
// acknowledged.
const MinHold = 1500 * time.Millisecond

// HoldGesture is a press-and-hold interaction.
type HoldGesture struct {
	PressedAt  time.Time
	ReleasedAt time.Time
}

// Duration returns how long the gesture was held.
func (g HoldGesture) Duration() time.Duration {
	if g.PressedAt.IsZero() || g.ReleasedAt.Before(g.PressedAt) {
		return 0
	}
	return g.ReleasedAt.Sub(g.PressedAt)
}

// Acknowledge confirms the published event instance on behalf of the acting
// player. Acknowledging twice is a no-op.
func Acknowledge(ctx context.Context, store docstore.Store, h domain.Handle, instance string, hold HoldGesture) error {
	if hold.Duration() < MinHold {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "hold to confirm", map[string]string{"MinHold": MinHold.String()})
	}
	var missing bool
	_, err := store.Transaction(ctx, domain.CurrentEventPath(h.Code), func(current any, exists bool) (any, bool) {
		missing = false
		var event domain.PublishedEvent
		if !exists || docstore.Decode(current, &event) != nil || event.Instance != instance {
			missing = true
			return nil, false
		}
		if event.Acknowledged {
			return nil, false
		}
		event.Acknowledged = true
		event.AcknowledgedBy = h.UID
		event.AcknowledgedAt = domain.Millis(hold.ReleasedAt)
		return event, true
	})
	if err != nil {
		return err
	}
	if missing {
		return apperrors.WithMetadata(apperrors.CodeNotFound, "event is no longer shown", map[string]string{"Instance": instance})
	}
	return nil
}
