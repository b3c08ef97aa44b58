package game

import "errors"

// Command errors. The protocol layer maps these onto gameActionError
// frames (WebSocket) and HTTP status codes (REST); no state mutates when
// a command returns an error.
var (
	ErrInvalidTransition   = errors.New("action not allowed in current game status")
	ErrNotOwner            = errors.New("only the game owner may perform this action")
	ErrNotPlayer           = errors.New("user is not a player in this game")
	ErrGameFull            = errors.New("game player limit reached")
	ErrUnknownControlPoint = errors.New("control point not found")
	ErrDuplicateSite       = errors.New("game already has a site control point")
	ErrChallengeDisabled   = errors.New("challenge is not enabled on this control point")
	ErrBadCode             = errors.New("incorrect code")
	ErrBombInactive        = errors.New("bomb is not armed")
	ErrBombActive          = errors.New("bomb is already armed")
	ErrInvalidTeam         = errors.New("team not valid for this game's team count")
	ErrInvalidTeamCount    = errors.New("team count must be between 2 and 4")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFinished         = errors.New("game is not finished")
	ErrControlPointLimit   = errors.New("control point limit reached")
)
