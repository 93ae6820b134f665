// Package domain defines the shared session document and the paths used to
// address it in the document store.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/questparty/internal/services/party/docstore"
)

// CodeLength is the number of letters in a session join code.
const CodeLength = 4

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusFinished:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next goes strictly forward.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusInProgress || next == StatusFinished
	case StatusInProgress:
		return next == StatusFinished
	default:
		return false
	}
}

// Session is the shared session document stored at sessions/{code}.
type Session struct {
	Code         string              `json:"code"`
	Status       Status              `json:"status"`
	HostUID      string              `json:"hostUid"`
	CreatedAt    int64               `json:"createdAt"`
	Players      map[string]Player   `json:"players,omitempty"`
	Roles        map[string]RoleSlot `json:"roles,omitempty"`
	TurnState    *TurnState          `json:"turnState,omitempty"`
	CurrentEvent *PublishedEvent     `json:"currentEvent,omitempty"`
	Results      *Results            `json:"results,omitempty"`
}

// Player is one participant of a session.
type Player struct {
	UID          string `json:"uid"`
	DisplayName  string `json:"displayName"`
	IsHost       bool   `json:"isHost"`
	Role         string `json:"role,omitempty"`
	SessionScore int64  `json:"sessionScore"`
	JoinedAt     int64  `json:"joinedAt"`
}

// Handle identifies the acting device in a session. It is passed explicitly
// to every service call.
type Handle struct {
	Code        string
	UID         string
	DisplayName string
}

// Validate checks that the handle names a session and a user.
func (h Handle) Validate() error {
	if !ValidCode(h.Code) {
		return fmt.Errorf("invalid session code %q", h.Code)
	}
	if strings.TrimSpace(h.UID) == "" {
		return fmt.Errorf("uid is required")
	}
	return nil
}

// IsHost reports whether uid is the session host.
func (s Session) IsHost(uid string) bool {
	return uid != "" && uid == s.HostUID
}

// OrderedPlayers returns players in stable join order: JoinedAt, then UID.
func (s Session) OrderedPlayers() []Player {
	players := make([]Player, 0, len(s.Players))
	for _, player := range s.Players {
		players = append(players, player)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt != players[j].JoinedAt {
			return players[i].JoinedAt < players[j].JoinedAt
		}
		return players[i].UID < players[j].UID
	})
	return players
}

// PlayerIndex returns the position of uid in join order, or -1.
func PlayerIndex(players []Player, uid string) int {
	for i, player := range players {
		if player.UID == uid {
			return i
		}
	}
	return -1
}

// DecodeSession reads a session from a snapshot of its root path.
func DecodeSession(snap docstore.Snapshot) (Session, bool, error) {
	if !snap.Exists {
		return Session{}, false, nil
	}
	var session Session
	if err := docstore.Decode(snap.Value, &session); err != nil {
		return Session{}, false, fmt.Errorf("decode session %s: %w", snap.Path, err)
	}
	for uid, player := range session.Players {
		if player.UID == "" {
			player.UID = uid
			session.Players[uid] = player
		}
	}
	return session, true, nil
}

// ValidCode reports whether code is CodeLength uppercase letters A–Z.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// NormalizeCode upper-cases and trims a user-entered join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Millis converts t to the millisecond timestamps stored in documents.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
