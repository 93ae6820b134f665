package domain

import "fmt"

// EventKind selects how an event changes scores.
type EventKind string

const (
	// KindBeneficial adds the magnitude to every player.
	KindBeneficial EventKind = "beneficial"
	// KindDetrimental subtracts the magnitude from every player.
	KindDetrimental EventKind = "detrimental"
	// KindAction applies the magnitude to one selected player.
	KindAction EventKind = "action"
	// KindSpecial applies the magnitude to every player tied at the lowest
	// session score.
	KindSpecial EventKind = "special"
)

// GameEvent is a catalog entry.
type GameEvent struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	Magnitude   int64     `json:"magnitude"`
	Description string    `json:"description"`
}

// Validate checks a catalog entry.
func (e GameEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	switch e.Kind {
	case KindBeneficial, KindDetrimental, KindAction, KindSpecial:
		return nil
	default:
		return fmt.Errorf("event %s: unknown kind %q", e.ID, e.Kind)
	}
}

// PublishedEvent is the event currently shown to the session. Instance
// identifies one publication of a catalog event. Targets lists the players
// whose score changed; MinScore is the lowest session score observed when a
// special event was applied.
type PublishedEvent struct {
	GameEvent
	Instance       string   `json:"instance"`
	PublishedAt    int64    `json:"publishedAt"`
	Acknowledged   bool     `json:"acknowledged"`
	AcknowledgedBy string   `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt int64    `json:"acknowledgedAt,omitempty"`
	Applied        bool     `json:"applied"`
	Targets        []string `json:"targets,omitempty"`
	MinScore       *int64   `json:"minScore,omitempty"`
}
