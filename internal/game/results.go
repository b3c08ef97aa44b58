package game

import (
	"sort"
	"time"
)

// Results is the read-only summary computed once at the moment a game
// finishes. Repeated reads return the same frozen data.
type Results struct {
	GameID          string               `json:"gameId"`
	Name            string               `json:"name"`
	StartedAt       time.Time            `json:"startedAt"`
	FinishedAt      time.Time            `json:"finishedAt"`
	DurationSeconds int                  `json:"durationSeconds"`
	Teams           []TeamResult         `json:"teams"`
	ControlPoints   []ControlPointResult `json:"controlPoints"`
	Players         []PlayerResult       `json:"players"`
	Timeline        []TimelineEvent      `json:"timeline"`
}

// TeamResult aggregates one team across all control points.
type TeamResult struct {
	Team           Team `json:"team"`
	HoldSeconds    int  `json:"holdSeconds"`
	Captures       int  `json:"captures"`
	PositionPoints int  `json:"positionPoints"`
}

// ControlPointResult is the per-point breakdown.
type ControlPointResult struct {
	ControlPointID string           `json:"controlPointId"`
	Name           string           `json:"name"`
	Type           ControlPointType `json:"type"`
	FinalOwner     Team             `json:"finalOwner"`
	Teams          []TeamHold       `json:"teams"`
}

// TeamHold is one team's record on one control point.
type TeamHold struct {
	Team           Team `json:"team"`
	HoldSeconds    int  `json:"holdSeconds"`
	Captures       int  `json:"captures"`
	PositionPoints int  `json:"positionPoints"`
}

// PlayerResult carries per-player achievement counters.
type PlayerResult struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Team       Team   `json:"team"`
	Captures   int    `json:"captures"`
	Disarms    int    `json:"disarms"`
	Explosions int    `json:"explosions"`
}

// Results returns the frozen summary, or ErrNotFinished before the game
// has reached the finished state.
func (g *Game) Results() (*Results, error) {
	if g.status != StatusFinished || g.results == nil {
		return nil, ErrNotFinished
	}
	return g.results, nil
}

// computeResults builds the summary from the engine's accumulated state.
// Output ordering is deterministic: teams in playable order, control
// points in creation order, players in join order.
func (g *Game) computeResults() *Results {
	res := &Results{
		GameID:          g.id,
		Name:            g.name,
		StartedAt:       g.startedAt,
		FinishedAt:      g.finishedAt,
		DurationSeconds: g.playedTime,
	}

	totals := make(map[Team]*TeamResult)
	for _, t := range PlayableTeams(g.teamCount) {
		totals[t] = &TeamResult{Team: t}
	}

	for _, cp := range g.points {
		cpr := ControlPointResult{
			ControlPointID: cp.ID,
			Name:           cp.Name,
			Type:           cp.Type,
			FinalOwner:     cp.OwnedBy,
		}
		for _, t := range PlayableTeams(g.teamCount) {
			th := TeamHold{
				Team:           t,
				HoldSeconds:    cp.teamHold[t],
				Captures:       cp.captures[t],
				PositionPoints: cp.positionPoints[t],
			}
			if th.HoldSeconds == 0 && th.Captures == 0 && th.PositionPoints == 0 {
				continue
			}
			cpr.Teams = append(cpr.Teams, th)
			if tot, ok := totals[t]; ok {
				tot.HoldSeconds += th.HoldSeconds
				tot.Captures += th.Captures
				tot.PositionPoints += th.PositionPoints
			}
		}
		res.ControlPoints = append(res.ControlPoints, cpr)
	}

	for _, t := range PlayableTeams(g.teamCount) {
		res.Teams = append(res.Teams, *totals[t])
	}

	players := make([]PlayerResult, 0, len(g.players))
	for _, p := range g.players {
		st := g.stats[p.UserID]
		if st == nil {
			st = &PlayerStats{}
		}
		players = append(players, PlayerResult{
			UserID:     p.UserID,
			Username:   p.Username,
			Team:       p.Team,
			Captures:   st.Captures,
			Disarms:    st.Disarms,
			Explosions: st.Explosions,
		})
	}
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Captures > players[j].Captures
	})
	res.Players = players

	res.Timeline = make([]TimelineEvent, len(g.timeline))
	copy(res.Timeline, g.timeline)
	return res
}
