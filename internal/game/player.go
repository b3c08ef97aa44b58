package game

import "time"

// Player is a participant in one game. One Player exists per (game, user).
type Player struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Team     Team      `json:"team"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Position is the freshest GPS fix reported by a player. Accuracy is the
// device-reported error radius in meters; Reported is server receive time.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Reported  time.Time `json:"reported"`
}

// PlayerStats accumulates per-player achievement counters for the results
// aggregator. Captures counts code and position captures; Disarms counts
// successful bomb deactivations; Explosions counts armed bombs that ran out.
type PlayerStats struct {
	Captures   int `json:"captures"`
	Disarms    int `json:"disarms"`
	Explosions int `json:"explosions"`
}
