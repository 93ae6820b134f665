package domain

import "sort"

// Results is the frozen final ranking written when a session finishes.
type Results struct {
	FinishedAt int64       `json:"finishedAt"`
	Ranking    []RankEntry `json:"ranking"`
}

// RankEntry is one row of the final ranking.
type RankEntry struct {
	Rank         int    `json:"rank"`
	UID          string `json:"uid"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role,omitempty"`
	SessionScore int64  `json:"sessionScore"`
}

// Rank orders players by session score, highest first. Ties share a rank and
// keep join order.
func Rank(players []Player) []RankEntry {
	ordered := make([]Player, len(players))
	copy(ordered, players)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SessionScore > ordered[j].SessionScore
	})
	ranking := make([]RankEntry, 0, len(ordered))
	for i, player := range ordered {
		rank := i + 1
		if i > 0 && player.SessionScore == ordered[i-1].SessionScore {
			rank = ranking[i-1].Rank
		}
		ranking = append(ranking, RankEntry{
			Rank:         rank,
			UID:          player.UID,
			DisplayName:  player.DisplayName,
			Role:         player.Role,
			SessionScore: player.SessionScore,
		})
	}
	return ranking
}
