package session

// Server-push event names. These are the wire contract consumed by the
// existing frontends; high-frequency data gets a dedicated name instead of
// the generic command envelope.
const (
	EvGameUpdate              = "gameUpdate"
	EvGameState               = "gameState"
	EvControlPointTimeUpdate  = "controlPointTimeUpdate"
	EvControlPointTimes       = "controlPointTimes"
	EvBombTimeUpdate          = "bombTimeUpdate"
	EvActiveBombTimers        = "activeBombTimers"
	EvPlayerTeamUpdated       = "playerTeamUpdated"
	EvPositionChallengeUpdate = "positionChallengeUpdate"
	EvPositionUpdate          = "positionUpdate"
	EvPlayerPositionsResponse = "playerPositionsResponse"
	EvGameTime                = "gameTime"
	EvGameActionError         = "gameActionError"
)

// Client command action names, dispatched from the gameAction envelope.
const (
	ActionStartGame   = "startGame"
	ActionPauseGame   = "pauseGame"
	ActionResumeGame  = "resumeGame"
	ActionEndGame     = "endGame"
	ActionRestartGame = "restartGame"

	ActionCreateControlPoint         = "createControlPoint"
	ActionUpdateControlPoint         = "updateControlPoint"
	ActionDeleteControlPoint         = "deleteControlPoint"
	ActionUpdateControlPointPosition = "updateControlPointPosition"
	ActionAssignControlPointTeam     = "assignControlPointTeam"

	ActionTogglePositionChallenge = "togglePositionChallenge"
	ActionUpdatePositionChallenge = "updatePositionChallenge"
	ActionToggleCodeChallenge     = "toggleCodeChallenge"
	ActionUpdateCodeChallenge     = "updateCodeChallenge"
	ActionToggleBombChallenge     = "toggleBombChallenge"
	ActionUpdateBombChallenge     = "updateBombChallenge"

	ActionActivateBomb          = "activateBomb"
	ActionActivateBombAsOwner   = "activateBombAsOwner"
	ActionDeactivateBomb        = "deactivateBomb"
	ActionDeactivateBombAsOwner = "deactivateBombAsOwner"
	ActionSubmitCode            = "submitCode"

	ActionUpdatePlayerTeam = "updatePlayerTeam"
	ActionUpdateTeamCount  = "updateTeamCount"
	ActionPositionUpdate   = "positionUpdate"
	ActionAddTime          = "addTime"
	ActionUpdateGameTime   = "updateGameTime"

	ActionRequestPlayerPositions = "requestPlayerPositions"
	ActionGetActiveBombTimers    = "getActiveBombTimers"
	ActionGetControlPointTimes   = "getControlPointTimes"
	ActionGetGameTime            = "getGameTime"
)

// knownActions is the full dispatch contract. Consumers that need bounded
// values, such as metric labels, check membership here instead of trusting
// client-supplied strings.
var knownActions = map[string]bool{
	ActionStartGame:   true,
	ActionPauseGame:   true,
	ActionResumeGame:  true,
	ActionEndGame:     true,
	ActionRestartGame: true,

	ActionCreateControlPoint:         true,
	ActionUpdateControlPoint:         true,
	ActionDeleteControlPoint:         true,
	ActionUpdateControlPointPosition: true,
	ActionAssignControlPointTeam:     true,

	ActionTogglePositionChallenge: true,
	ActionUpdatePositionChallenge: true,
	ActionToggleCodeChallenge:     true,
	ActionUpdateCodeChallenge:     true,
	ActionToggleBombChallenge:     true,
	ActionUpdateBombChallenge:     true,

	ActionActivateBomb:          true,
	ActionActivateBombAsOwner:   true,
	ActionDeactivateBomb:        true,
	ActionDeactivateBombAsOwner: true,
	ActionSubmitCode:            true,

	ActionUpdatePlayerTeam: true,
	ActionUpdateTeamCount:  true,
	ActionPositionUpdate:   true,
	ActionAddTime:          true,
	ActionUpdateGameTime:   true,

	ActionRequestPlayerPositions: true,
	ActionGetActiveBombTimers:    true,
	ActionGetControlPointTimes:   true,
	ActionGetGameTime:            true,
}

// KnownAction reports whether name is part of the dispatch contract.
func KnownAction(name string) bool { return knownActions[name] }

// Event is one named payload bound for a single client (query replies).
type Event struct {
	Name string
	Data any
}

// Broadcaster fans an event out to every socket joined to a game room.
// Implemented by the WebSocket hub; tests install a recorder.
type Broadcaster interface {
	Broadcast(gameID, event string, data any)
}

// GameUpdatePayload is the gameUpdate envelope: a full snapshot plus a
// change tag so clients can tell what happened.
type GameUpdatePayload struct {
	Type string `json:"type"`
	Game any    `json:"game"`
}
