package domain

import "strconv"

// TurnState tracks whose turn it is. Overrun is set when a turn ran past
// the overrun threshold and is cleared by the event scheduler once it has
// reacted.
type TurnState struct {
	CurrentPlayerUID string           `json:"currentPlayerUid"`
	TurnNumber       int64            `json:"turnNumber"`
	TurnStartedAt    int64            `json:"turnStartedAt"`
	TurnDurations    map[string]int64 `json:"turnDurations,omitempty"`
	ActiveChallenge  *ActiveChallenge `json:"activeChallenge,omitempty"`
	Overrun          *Overrun         `json:"overrun,omitempty"`
	LastOutcome      *RecordedOutcome `json:"lastOutcome,omitempty"`
}

// DurationKey is the turnDurations key for a turn number.
func DurationKey(turnNumber int64) string {
	return strconv.FormatInt(turnNumber, 10)
}

// ActiveChallenge is the challenge the current player is answering.
type ActiveChallenge struct {
	ID        string `json:"id"`
	Prompt    string `json:"prompt,omitempty"`
	Criteria  string `json:"criteria,omitempty"`
	Points    int64  `json:"points"`
	Offline   bool   `json:"offline,omitempty"`
	StartedAt int64  `json:"startedAt"`
}

// Overrun records a turn that took too long.
type Overrun struct {
	TurnNumber int64  `json:"turnNumber"`
	PlayerUID  string `json:"playerUid"`
	DurationMs int64  `json:"durationMs"`
}

// ChallengeOutcome is the validator verdict for one answer.
type ChallengeOutcome struct {
	IsCorrect bool   `json:"isCorrect"`
	Feedback  string `json:"feedback"`
}

// RecordedOutcome is the last verdict shown to every device.
type RecordedOutcome struct {
	ChallengeOutcome
	ChallengeID string `json:"challengeId"`
	PlayerUID   string `json:"playerUid"`
	TurnNumber  int64  `json:"turnNumber"`
	Awarded     int64  `json:"awarded"`
}
