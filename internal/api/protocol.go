package api

import "encoding/json"

// Client-sent event names. Everything mutating travels inside the uniform
// gameAction envelope; joinGame/leaveGame manage room membership.
const (
	clientJoinGame   = "joinGame"
	clientLeaveGame  = "leaveGame"
	clientGameAction = "gameAction"
)

// Frame is the single wire shape in both directions: a named event with
// an event-specific payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// gameActionEnvelope is the uniform client command wrapper; the server
// dispatches on the action string.
type gameActionEnvelope struct {
	GameID string          `json:"gameId"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type joinGamePayload struct {
	GameID string `json:"gameId"`
}

// GameActionError is sent only to the offending client when a command is
// rejected; the original action is echoed so the client can clear any
// pending UI state.
type GameActionError struct {
	Action string `json:"action"`
	Error  string `json:"error"`
}

// encodeFrame marshals a server push.
func encodeFrame(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: payload})
}
