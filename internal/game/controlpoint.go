package game

import (
	"fmt"
	"strings"
)

// ControlPointType distinguishes ordinary control points from the single
// per-game site.
type ControlPointType string

const (
	TypeControlPoint ControlPointType = "control_point"
	TypeSite         ControlPointType = "site"
)

// ControlPoint is a contestable map location. Ownership and the hold timer
// advance only while the game is running; the three challenge kinds are
// independently toggleable.
type ControlPoint struct {
	ID        string
	Name      string
	Type      ControlPointType
	Latitude  float64
	Longitude float64

	// Ownership. HoldTime is the current occupancy episode in seconds;
	// it resets to zero whenever OwnedBy changes. Per-team lifetime
	// totals live in teamHold for the results aggregator.
	OwnedBy  Team
	HoldTime int

	HasPositionChallenge bool
	MinDistance          float64 // meters
	MinAccuracy          float64 // meters, GPS accuracy must be <= this

	HasCodeChallenge bool
	Code             string

	HasBombChallenge bool
	BombSeconds      int
	ArmedCode        string
	DisarmedCode     string

	Bomb *BombTimer
	// armedByUserID remembers who armed the current bomb so the
	// explosion stat lands on the right player.
	armedByUserID string

	teamHold       map[Team]int
	captures       map[Team]int
	positionPoints map[Team]int
}

// ControlPointParams carries the client-supplied fields for create/update.
type ControlPointParams struct {
	Name      string           `json:"name"`
	Type      ControlPointType `json:"type"`
	Latitude  float64          `json:"latitude"`
	Longitude float64          `json:"longitude"`
}

func newControlPoint(id string, p ControlPointParams) *ControlPoint {
	if p.Type == "" {
		p.Type = TypeControlPoint
	}
	return &ControlPoint{
		ID:             id,
		Name:           p.Name,
		Type:           p.Type,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		OwnedBy:        TeamNone,
		teamHold:       make(map[Team]int),
		captures:       make(map[Team]int),
		positionPoints: make(map[Team]int),
	}
}

// setOwner transfers ownership. The hold timer is per-occupancy-episode,
// so it restarts at zero; capture counters only advance for real teams.
func (cp *ControlPoint) setOwner(team Team) {
	if cp.OwnedBy == team {
		return
	}
	cp.OwnedBy = team
	cp.HoldTime = 0
	if team != TeamNone {
		cp.captures[team]++
	}
}

// reset clears all runtime state (ownership, timers, bomb, position points)
// while keeping the configured challenges. Used by restartGame.
func (cp *ControlPoint) reset() {
	cp.OwnedBy = TeamNone
	cp.HoldTime = 0
	cp.Bomb = nil
	cp.armedByUserID = ""
	cp.teamHold = make(map[Team]int)
	cp.captures = make(map[Team]int)
	cp.positionPoints = make(map[Team]int)
}

// ControlPointView is the client-facing shape of a control point. Both
// ownedByTeam and currentTeam are emitted with the same value: the four
// legacy frontends read one or the other.
type ControlPointView struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Type                 ControlPointType `json:"type"`
	Latitude             float64          `json:"latitude"`
	Longitude            float64          `json:"longitude"`
	OwnedByTeam          Team             `json:"ownedByTeam"`
	CurrentTeam          Team             `json:"currentTeam"`
	CurrentHoldTime      int              `json:"currentHoldTime"`
	DisplayTime          string           `json:"displayTime"`
	HasPositionChallenge bool             `json:"hasPositionChallenge"`
	MinDistance          float64          `json:"minDistance,omitempty"`
	MinAccuracy          float64          `json:"minAccuracy,omitempty"`
	HasCodeChallenge     bool             `json:"hasCodeChallenge"`
	HasBombChallenge     bool             `json:"hasBombChallenge"`
	BombTime             int              `json:"bombTime,omitempty"`
	BombTimer            *BombTimerView   `json:"bombTimer,omitempty"`
	TeamPoints           map[Team]int     `json:"teamPoints,omitempty"`
}

// View renders the control point for broadcasting. Challenge codes are
// never included; they only travel server-bound.
func (cp *ControlPoint) View() ControlPointView {
	v := ControlPointView{
		ID:                   cp.ID,
		Name:                 cp.Name,
		Type:                 cp.Type,
		Latitude:             cp.Latitude,
		Longitude:            cp.Longitude,
		OwnedByTeam:          cp.OwnedBy,
		CurrentTeam:          cp.OwnedBy,
		CurrentHoldTime:      cp.HoldTime,
		DisplayTime:          FormatClock(cp.HoldTime),
		HasPositionChallenge: cp.HasPositionChallenge,
		MinDistance:          cp.MinDistance,
		MinAccuracy:          cp.MinAccuracy,
		HasCodeChallenge:     cp.HasCodeChallenge,
		HasBombChallenge:     cp.HasBombChallenge,
		BombTime:             cp.BombSeconds,
	}
	if cp.Bomb != nil {
		v.BombTimer = &BombTimerView{
			ControlPointID: cp.ID,
			IsActive:       cp.Bomb.Active,
			RemainingTime:  cp.Bomb.Remaining,
			ActivatedBy:    cp.Bomb.ActivatedBy,
		}
	}
	if cp.HasPositionChallenge && len(cp.positionPoints) > 0 {
		v.TeamPoints = make(map[Team]int, len(cp.positionPoints))
		for t, pts := range cp.positionPoints {
			v.TeamPoints[t] = pts
		}
	}
	return v
}

// ControlPointTime is the per-point hold timer push
// (controlPointTimeUpdate and the controlPointTimes batch).
type ControlPointTime struct {
	ControlPointID  string `json:"controlPointId"`
	CurrentTeam     Team   `json:"currentTeam"`
	CurrentHoldTime int    `json:"currentHoldTime"`
	DisplayTime     string `json:"displayTime"`
}

func (cp *ControlPoint) timeView() ControlPointTime {
	return ControlPointTime{
		ControlPointID:  cp.ID,
		CurrentTeam:     cp.OwnedBy,
		CurrentHoldTime: cp.HoldTime,
		DisplayTime:     FormatClock(cp.HoldTime),
	}
}

// FormatClock renders seconds as HH:MM:SS for the displayTime fields.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

func normalizeCode(code string) string {
	return strings.TrimSpace(code)
}
