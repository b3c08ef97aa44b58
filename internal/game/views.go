package game

import "time"

// UserRef identifies the game owner in snapshots.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// View is the full game snapshot pushed on gameState/gameUpdate. Clients
// replace their local mirror with it wholesale; the server value always
// wins over any client-side prediction.
type View struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Status            Status             `json:"status"`
	Owner             UserRef            `json:"owner"`
	Players           []Player           `json:"players"`
	ActiveConnections int                `json:"activeConnections"`
	TeamCount         int                `json:"teamCount"`
	TotalTime         int                `json:"totalTime"`
	PlayedTime        int                `json:"playedTime"`
	RemainingTime     int                `json:"remainingTime"`
	Unlimited         bool               `json:"unlimited"`
	ControlPoints     []ControlPointView `json:"controlPoints"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// GameTimeView is the 1 Hz gameTime push and the getGameTime reply.
type GameTimeView struct {
	Status        Status `json:"status"`
	TotalTime     int    `json:"totalTime"`
	PlayedTime    int    `json:"playedTime"`
	RemainingTime int    `json:"remainingTime"`
	Unlimited     bool   `json:"unlimited"`
}

// PlayerPositionView is one entry of the player-position fan-out.
type PlayerPositionView struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Team      Team      `json:"team"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Reported  time.Time `json:"reported"`
}

// Snapshot renders the full authoritative game state.
func (g *Game) Snapshot() View {
	players := make([]Player, 0, len(g.players))
	for _, p := range g.players {
		players = append(players, *p)
	}
	points := make([]ControlPointView, 0, len(g.points))
	for _, cp := range g.points {
		points = append(points, cp.View())
	}
	gt := g.GameTime()
	return View{
		ID:                g.id,
		Name:              g.name,
		Status:            g.status,
		Owner:             UserRef{ID: g.ownerID, Username: g.ownerName},
		Players:           players,
		ActiveConnections: g.activeConnections,
		TeamCount:         g.teamCount,
		TotalTime:         gt.TotalTime,
		PlayedTime:        gt.PlayedTime,
		RemainingTime:     gt.RemainingTime,
		Unlimited:         gt.Unlimited,
		ControlPoints:     points,
		CreatedAt:         g.createdAt,
	}
}

// GameTime returns the countdown view.
func (g *Game) GameTime() GameTimeView {
	v := GameTimeView{
		Status:     g.status,
		TotalTime:  g.totalTime,
		PlayedTime: g.playedTime,
		Unlimited:  g.totalTime == 0,
	}
	if g.totalTime > 0 {
		v.RemainingTime = g.totalTime - g.playedTime
		if v.RemainingTime < 0 {
			v.RemainingTime = 0
		}
	}
	return v
}

// ControlPointTimes returns the batch hold-time view (getControlPointTimes).
func (g *Game) ControlPointTimes() []ControlPointTime {
	out := make([]ControlPointTime, 0, len(g.points))
	for _, cp := range g.points {
		out = append(out, cp.timeView())
	}
	return out
}

// ActiveBombTimers returns all currently armed bombs (getActiveBombTimers).
func (g *Game) ActiveBombTimers() []BombTimerView {
	out := make([]BombTimerView, 0)
	for _, cp := range g.points {
		if cp.Bomb != nil && cp.Bomb.Active {
			out = append(out, BombTimerView{
				ControlPointID: cp.ID,
				IsActive:       true,
				RemainingTime:  cp.Bomb.Remaining,
				ActivatedBy:    cp.Bomb.ActivatedBy,
			})
		}
	}
	return out
}

// PlayerPositions returns the latest known fix for every player that has
// reported one (requestPlayerPositions).
func (g *Game) PlayerPositions() []PlayerPositionView {
	out := make([]PlayerPositionView, 0, len(g.location))
	for _, p := range g.players {
		pos, ok := g.location[p.UserID]
		if !ok {
			continue
		}
		out = append(out, PlayerPositionView{
			UserID:    p.UserID,
			Username:  p.Username,
			Team:      p.Team,
			Latitude:  pos.Latitude,
			Longitude: pos.Longitude,
			Accuracy:  pos.Accuracy,
			Reported:  pos.Reported,
		})
	}
	return out
}

// Players returns a copy of the player list.
func (g *Game) Players() []Player {
	out := make([]Player, 0, len(g.players))
	for _, p := range g.players {
		out = append(out, *p)
	}
	return out
}

// ControlPoint returns a point's view by id.
func (g *Game) ControlPoint(cpID string) (ControlPointView, bool) {
	cp, ok := g.byPoint[cpID]
	if !ok {
		return ControlPointView{}, false
	}
	return cp.View(), true
}
