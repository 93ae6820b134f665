package client

import "github.com/louisbranch/questparty/internal/services/party/domain"

// View is what one device renders from the session document.
type View struct {
	Code   string
	Exists bool
	Status domain.Status

	IsHost   bool
	IsMyTurn bool
	MyRole   string
	MyScore  int64

	Players          []domain.Player
	Roles            map[string]domain.RoleSlot
	CurrentPlayerUID string
	TurnNumber       int64
	ActiveChallenge  *domain.ActiveChallenge
	LastOutcome      *domain.RecordedOutcome

	CurrentEvent *domain.PublishedEvent
	// PendingEvent is set while the current event waits for an
	// acknowledgement.
	PendingEvent bool

	Results *domain.Results
}

// Reduce derives the view of h from a session document.
func Reduce(h domain.Handle, session domain.Session, exists bool) View {
	view := View{Code: h.Code, Exists: exists}
	if !exists {
		return view
	}
	view.Status = session.Status
	view.IsHost = session.IsHost(h.UID)
	view.Players = session.OrderedPlayers()
	view.Roles = session.Roles
	if me, ok := session.Players[h.UID]; ok {
		view.MyRole = me.Role
		view.MyScore = me.SessionScore
	}
	if turn := session.TurnState; turn != nil {
		view.CurrentPlayerUID = turn.CurrentPlayerUID
		view.TurnNumber = turn.TurnNumber
		view.IsMyTurn = session.Status == domain.StatusInProgress && turn.CurrentPlayerUID == h.UID
		view.ActiveChallenge = turn.ActiveChallenge
		view.LastOutcome = turn.LastOutcome
	}
	if event := session.CurrentEvent; event != nil {
		view.CurrentEvent = event
		view.PendingEvent = !event.Acknowledged && session.Status == domain.StatusInProgress
	}
	view.Results = session.Results
	return view
}
