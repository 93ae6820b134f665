package domain

import "github.com/louisbranch/questparty/internal/services/party/docstore"

const (
	sessionsCollection = "sessions"
	usersCollection    = "users"
)

func SessionPath(code string) string {
	return docstore.Join(sessionsCollection, code)
}

func StatusPath(code string) string {
	return docstore.Join(sessionsCollection, code, "status")
}

func PlayersPath(code string) string {
	return docstore.Join(sessionsCollection, code, "players")
}

func PlayerPath(code, uid string) string {
	return docstore.Join(sessionsCollection, code, "players", uid)
}

func RolesPath(code string) string {
	return docstore.Join(sessionsCollection, code, "roles")
}

func RolePath(code, role string) string {
	return docstore.Join(sessionsCollection, code, "roles", role)
}

func SessionScorePath(code, uid string) string {
	return docstore.Join(sessionsCollection, code, "players", uid, "sessionScore")
}

func TurnStatePath(code string) string {
	return docstore.Join(sessionsCollection, code, "turnState")
}

func CurrentEventPath(code string) string {
	return docstore.Join(sessionsCollection, code, "currentEvent")
}

// TotalScorePath addresses a user's durable cross-session total.
func TotalScorePath(uid string) string {
	return docstore.Join(usersCollection, uid, "totalScore")
}

func PlayerRolePath(code, uid string) string {
	return docstore.Join(sessionsCollection, code, "players", uid, "role")
}
