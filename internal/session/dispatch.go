package session

import (
	"encoding/json"
	"fmt"

	"github.com/seyacat/milsim-sub000/internal/game"
)

// ErrUnknownAction is returned for action strings not in the contract.
var ErrUnknownAction = fmt.Errorf("unknown action")

// Action payloads. Fields mirror the client wire shapes.

type controlPointRef struct {
	ControlPointID string `json:"controlPointId"`
}

type createControlPointPayload struct {
	Name      string                `json:"name"`
	Type      game.ControlPointType `json:"type"`
	Latitude  float64               `json:"latitude"`
	Longitude float64               `json:"longitude"`
}

type updateControlPointPayload struct {
	ControlPointID string                `json:"controlPointId"`
	Name           string                `json:"name"`
	Type           game.ControlPointType `json:"type"`
	Latitude       float64               `json:"latitude"`
	Longitude      float64               `json:"longitude"`
}

type movePayload struct {
	ControlPointID string  `json:"controlPointId"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

type assignTeamPayload struct {
	ControlPointID string    `json:"controlPointId"`
	Team           game.Team `json:"team"`
}

type positionChallengePayload struct {
	ControlPointID string  `json:"controlPointId"`
	MinDistance    float64 `json:"minDistance"`
	MinAccuracy    float64 `json:"minAccuracy"`
}

type codeChallengePayload struct {
	ControlPointID string `json:"controlPointId"`
	Code           string `json:"code"`
}

type bombChallengePayload struct {
	ControlPointID string `json:"controlPointId"`
	BombTime       int    `json:"bombTime"`
	ArmedCode      string `json:"armedCode"`
	DisarmedCode   string `json:"disarmedCode"`
}

type bombCodePayload struct {
	ControlPointID string `json:"controlPointId"`
	Code           string `json:"code"`
}

type playerTeamPayload struct {
	UserID string    `json:"userId"`
	Team   game.Team `json:"team"`
}

type teamCountPayload struct {
	TeamCount int `json:"teamCount"`
}

type positionPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

type addTimePayload struct {
	Seconds int `json:"seconds"`
}

type gameTimePayload struct {
	TotalTime int `json:"totalTime"`
}

// Dispatch validates and applies one command against a game. Every
// state-changing action either broadcasts exactly once to the whole room
// (sender included) or returns an error the caller surfaces as
// gameActionError; query actions return a reply only the sender sees.
func (r *Registry) Dispatch(gameID, userID, action string, data json.RawMessage) (*Event, error) {
	sess, err := r.get(gameID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	g := sess.g
	now := r.clock.Now()

	switch action {

	// Lifecycle ----------------------------------------------------------
	case ActionStartGame:
		if err := g.Start(userID, now); err != nil {
			return nil, err
		}
		sess.startTickingLocked()
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "gameStarted", Game: g.Snapshot()})
		return nil, nil

	case ActionPauseGame:
		if err := g.Pause(userID); err != nil {
			return nil, err
		}
		sess.stopTickingLocked()
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "gamePaused", Game: g.Snapshot()})
		return nil, nil

	case ActionResumeGame:
		if err := g.Resume(userID); err != nil {
			return nil, err
		}
		sess.startTickingLocked()
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "gameResumed", Game: g.Snapshot()})
		return nil, nil

	case ActionEndGame:
		if err := g.End(userID, now); err != nil {
			return nil, err
		}
		sess.stopTickingLocked()
		sess.persistResultsLocked()
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "gameFinished", Game: g.Snapshot()})
		return nil, nil

	case ActionRestartGame:
		if _, err := g.Restart(userID); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "gameRestarted", Game: g.Snapshot()})
		return nil, nil

	// Control point CRUD -------------------------------------------------
	case ActionCreateControlPoint:
		var p createControlPointPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		params := game.ControlPointParams{Name: p.Name, Type: p.Type, Latitude: p.Latitude, Longitude: p.Longitude}
		if _, err := g.CreateControlPoint(userID, params, r.cfg.MaxControlPoints); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "controlPointCreated", Game: g.Snapshot()})
		return nil, nil

	case ActionUpdateControlPoint:
		var p updateControlPointPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		params := game.ControlPointParams{Name: p.Name, Type: p.Type, Latitude: p.Latitude, Longitude: p.Longitude}
		if _, err := g.UpdateControlPoint(userID, p.ControlPointID, params); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "controlPointUpdated", Game: g.Snapshot()})
		return nil, nil

	case ActionDeleteControlPoint:
		var p controlPointRef
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if err := g.DeleteControlPoint(userID, p.ControlPointID); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "controlPointDeleted", Game: g.Snapshot()})
		return nil, nil

	case ActionUpdateControlPointPosition:
		var p movePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if _, err := g.MoveControlPoint(userID, p.ControlPointID, p.Latitude, p.Longitude); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "controlPointMoved", Game: g.Snapshot()})
		return nil, nil

	case ActionAssignControlPointTeam:
		var p assignTeamPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if _, err := g.AssignControlPointTeam(userID, p.ControlPointID, p.Team); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "controlPointTeamAssigned", Game: g.Snapshot()})
		return nil, nil

	// Challenge configuration --------------------------------------------
	case ActionTogglePositionChallenge:
		var p controlPointRef
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if _, err := g.TogglePositionChallenge(userID, p.ControlPointID); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "challengeUpdated", Game: g.Snapshot()})
		return nil, nil

	case ActionUpdatePositionChallenge:
		var p positionChallengePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if _, err := g.UpdatePositionChallenge(userID, p.ControlPointID, p.MinDistance, p.MinAccuracy); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "challengeUpdated", Game: g.Snapshot()})
		return nil, nil

	case ActionToggleCodeChallenge:
		var p controlPointRef
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if _, err := g.ToggleCodeChallenge(userID, p.ControlPointID); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "challengeUpdated", Game: g.Snapshot()})
		return nil, nil

	case ActionUpdateCodeChallenge:
		var p codeChallengePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if _, err := g.UpdateCodeChallenge(userID, p.ControlPointID, p.Code); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "challengeUpdated", Game: g.Snapshot()})
		return nil, nil

	case ActionToggleBombChallenge:
		var p controlPointRef
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if _, err := g.ToggleBombChallenge(userID, p.ControlPointID); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "challengeUpdated", Game: g.Snapshot()})
		return nil, nil

	case ActionUpdateBombChallenge:
		var p bombChallengePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if _, err := g.UpdateBombChallenge(userID, p.ControlPointID, p.BombTime, p.ArmedCode, p.DisarmedCode); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "challengeUpdated", Game: g.Snapshot()})
		return nil, nil

	// Challenges ---------------------------------------------------------
	case ActionSubmitCode:
		var p codeChallengePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if _, err := g.SubmitCode(userID, p.ControlPointID, p.Code); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "controlPointCaptured", Game: g.Snapshot()})
		return nil, nil

	case ActionActivateBomb, ActionActivateBombAsOwner:
		var p bombCodePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		cp, err := g.ArmBomb(userID, p.ControlPointID, p.Code, action == ActionActivateBombAsOwner, now)
		if err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvBombTimeUpdate, game.BombTimerView{
			ControlPointID: cp.ID,
			IsActive:       true,
			RemainingTime:  cp.Bomb.Remaining,
			ActivatedBy:    cp.Bomb.ActivatedBy,
		})
		return nil, nil

	case ActionDeactivateBomb, ActionDeactivateBombAsOwner:
		var p bombCodePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		cp, err := g.DisarmBomb(userID, p.ControlPointID, p.Code, action == ActionDeactivateBombAsOwner)
		if err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvBombTimeUpdate, game.BombTimerView{
			ControlPointID: cp.ID,
			IsActive:       false,
			RemainingTime:  0,
		})
		return nil, nil

	// Players ------------------------------------------------------------
	case ActionUpdatePlayerTeam:
		var p playerTeamPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		target := p.UserID
		if target == "" {
			target = userID
		}
		pl, err := g.SetPlayerTeam(userID, target, p.Team)
		if err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvPlayerTeamUpdated, *pl)
		return nil, nil

	case ActionUpdateTeamCount:
		var p teamCountPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if err := g.SetTeamCount(userID, p.TeamCount); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "teamCountUpdated", Game: g.Snapshot()})
		return nil, nil

	case ActionPositionUpdate:
		var p positionPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		pl, err := g.ReportPosition(userID, p.Latitude, p.Longitude, p.Accuracy, now)
		if err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvPositionUpdate, game.PlayerPositionView{
			UserID:    pl.UserID,
			Username:  pl.Username,
			Team:      pl.Team,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Accuracy:  p.Accuracy,
			Reported:  now,
		})
		return nil, nil

	// Game time ----------------------------------------------------------
	case ActionAddTime:
		var p addTimePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if err := g.AddTime(userID, p.Seconds); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameTime, g.GameTime())
		return nil, nil

	case ActionUpdateGameTime:
		var p gameTimePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if err := g.SetTotalTime(userID, p.TotalTime); err != nil {
			return nil, err
		}
		r.broadcast(gameID, EvGameTime, g.GameTime())
		return nil, nil

	// Reconciliation queries. Members only: position fixes and timer
	// state must not leak to anyone who merely knows the game id.
	case ActionRequestPlayerPositions, ActionGetActiveBombTimers,
		ActionGetControlPointTimes, ActionGetGameTime:
		if !g.IsMember(userID) {
			return nil, game.ErrNotPlayer
		}
		switch action {
		case ActionRequestPlayerPositions:
			return &Event{Name: EvPlayerPositionsResponse, Data: g.PlayerPositions()}, nil
		case ActionGetActiveBombTimers:
			return &Event{Name: EvActiveBombTimers, Data: g.ActiveBombTimers()}, nil
		case ActionGetControlPointTimes:
			return &Event{Name: EvControlPointTimes, Data: g.ControlPointTimes()}, nil
		default:
			return &Event{Name: EvGameTime, Data: g.GameTime()}, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", game.ErrInvalidArgument)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", game.ErrInvalidArgument, err)
	}
	return nil
}
