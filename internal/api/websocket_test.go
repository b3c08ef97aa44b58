package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/seyacat/milsim-sub000/internal/api"
	"github.com/seyacat/milsim-sub000/internal/config"
	"github.com/seyacat/milsim-sub000/internal/session"
	"github.com/seyacat/milsim-sub000/internal/store"
)

// newWSEnv builds a test server with the WebSocket hub mounted and its
// Run loop started.
func newWSEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.GameConfig{
		MaxGames:         10,
		MaxPlayers:       32,
		MaxControlPoints: 20,
		PositionStale:    15 * time.Second,
		TickInterval:     time.Second,
	}
	registry := session.NewRegistry(cfg, st, clockwork.NewFakeClock(), zerolog.Nop())
	t.Cleanup(registry.Close)

	tokens := api.NewTokenManager("test-secret", time.Hour)
	hub := api.NewHub(registry, tokens, api.NewOriginChecker(nil), zerolog.Nop())
	registry.SetBroadcaster(hub)
	go hub.Run()

	router := api.NewRouter(api.RouterConfig{
		Registry: registry,
		Store:    st,
		Tokens:   tokens,
		Hub:      hub,
		RateLimitConfig: &api.RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
		},
		DisableLogging: true,
		Logger:         zerolog.Nop(),
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, st: st, registry: registry, tokens: tokens}
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// dialWS opens a socket through the test server's /ws endpoint.
func dialWS(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame, _ := json.Marshal(wsFrame{Event: event, Data: payload})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// waitForFrame reads frames until one matches the event name, discarding
// unrelated pushes such as connection counters.
func waitForFrame(t *testing.T, conn *websocket.Conn, event string) wsFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		var f wsFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		if f.Event == event {
			return f
		}
	}
}

type gameUpdateFrame struct {
	Type string `json:"type"`
	Game struct {
		Status string `json:"status"`
	} `json:"game"`
}

// waitForGameUpdate skips gameUpdate pushes with other change tags, such
// as the connection counter fired on room join.
func waitForGameUpdate(t *testing.T, conn *websocket.Conn, wantType string) gameUpdateFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := waitForFrame(t, conn, "gameUpdate")
		var update gameUpdateFrame
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			t.Fatalf("decode gameUpdate: %v", err)
		}
		if update.Type == wantType {
			return update
		}
	}
	t.Fatalf("no gameUpdate with type %q arrived", wantType)
	return gameUpdateFrame{}
}

// TestWebSocketRequiresToken rejects upgrades without a valid token.
func TestWebSocketRequiresToken(t *testing.T) {
	env := newWSEnv(t)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: response %+v, want 401", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	if err == nil {
		t.Fatal("dial with garbage token succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial with garbage token: response %+v, want 401", resp)
	}
}

// TestWebSocketJoinGame joins a room and receives the full snapshot.
func TestWebSocketJoinGame(t *testing.T) {
	env := newWSEnv(t)
	token, _ := env.registerUser(t, "commander")
	g := env.createGame(t, token, "night ops")

	conn := dialWS(t, env, token)
	sendFrame(t, conn, "joinGame", map[string]string{"gameId": g.ID})

	frame := waitForFrame(t, conn, "gameState")
	var state gameReply
	if err := json.Unmarshal(frame.Data, &state); err != nil {
		t.Fatalf("decode gameState: %v", err)
	}
	if state.ID != g.ID {
		t.Errorf("gameState id = %q, want %q", state.ID, g.ID)
	}
	if state.Status != "stopped" {
		t.Errorf("gameState status = %q, want stopped", state.Status)
	}
}

// TestWebSocketJoinRequiresMembership keeps strangers out of the room.
func TestWebSocketJoinRequiresMembership(t *testing.T) {
	env := newWSEnv(t)
	ownerToken, _ := env.registerUser(t, "commander")
	strangerToken, _ := env.registerUser(t, "stranger")
	g := env.createGame(t, ownerToken, "patrol")

	conn := dialWS(t, env, strangerToken)
	sendFrame(t, conn, "joinGame", map[string]string{"gameId": g.ID})

	frame := waitForFrame(t, conn, "gameActionError")
	var gaErr struct {
		Action string `json:"action"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(frame.Data, &gaErr); err != nil {
		t.Fatalf("decode gameActionError: %v", err)
	}
	if gaErr.Error == "" {
		t.Error("gameActionError has empty message")
	}
}

// TestWebSocketGameActionBroadcast dispatches a lifecycle command over
// the socket and checks both members see the tagged update.
func TestWebSocketGameActionBroadcast(t *testing.T) {
	env := newWSEnv(t)
	ownerToken, _ := env.registerUser(t, "commander")
	playerToken, _ := env.registerUser(t, "grunt")

	g := env.createGame(t, ownerToken, "skirmish")
	resp := env.request(t, http.MethodPost, "/api/games/"+g.ID+"/join", playerToken, nil)
	resp.Body.Close()

	ownerConn := dialWS(t, env, ownerToken)
	playerConn := dialWS(t, env, playerToken)

	sendFrame(t, ownerConn, "joinGame", map[string]string{"gameId": g.ID})
	waitForFrame(t, ownerConn, "gameState")
	sendFrame(t, playerConn, "joinGame", map[string]string{"gameId": g.ID})
	waitForFrame(t, playerConn, "gameState")

	sendFrame(t, ownerConn, "gameAction", map[string]any{
		"gameId": g.ID,
		"action": "startGame",
	})

	for _, conn := range []*websocket.Conn{ownerConn, playerConn} {
		update := waitForGameUpdate(t, conn, "gameStarted")
		if update.Game.Status != "running" {
			t.Errorf("update status = %q, want running", update.Game.Status)
		}
	}
}

// TestWebSocketGameActionError sends an invalid command and checks the
// error goes only to the sender.
func TestWebSocketGameActionError(t *testing.T) {
	env := newWSEnv(t)
	token, _ := env.registerUser(t, "commander")
	g := env.createGame(t, token, "range day")

	conn := dialWS(t, env, token)
	sendFrame(t, conn, "joinGame", map[string]string{"gameId": g.ID})
	waitForFrame(t, conn, "gameState")

	// Pausing a stopped game is an invalid transition.
	sendFrame(t, conn, "gameAction", map[string]any{
		"gameId": g.ID,
		"action": "pauseGame",
	})

	frame := waitForFrame(t, conn, "gameActionError")
	var gaErr struct {
		Action string `json:"action"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(frame.Data, &gaErr); err != nil {
		t.Fatalf("decode gameActionError: %v", err)
	}
	if gaErr.Action != "pauseGame" {
		t.Errorf("error echoes action %q, want pauseGame", gaErr.Action)
	}
}

// TestWebSocketQueryReply checks query actions answer the sender only.
func TestWebSocketQueryReply(t *testing.T) {
	env := newWSEnv(t)
	token, _ := env.registerUser(t, "commander")
	g := env.createGame(t, token, "recon")

	conn := dialWS(t, env, token)
	sendFrame(t, conn, "joinGame", map[string]string{"gameId": g.ID})
	waitForFrame(t, conn, "gameState")

	sendFrame(t, conn, "gameAction", map[string]any{
		"gameId": g.ID,
		"action": "getGameTime",
	})

	frame := waitForFrame(t, conn, "gameTime")
	var gt struct {
		Status    string `json:"status"`
		Unlimited bool   `json:"unlimited"`
	}
	if err := json.Unmarshal(frame.Data, &gt); err != nil {
		t.Fatalf("decode gameTime: %v", err)
	}
	if gt.Status != "stopped" {
		t.Errorf("gameTime status = %q, want stopped", gt.Status)
	}
	if !gt.Unlimited {
		t.Error("fresh game should report unlimited time")
	}
}
