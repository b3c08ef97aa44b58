package session

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/seyacat/milsim-sub000/internal/config"
	"github.com/seyacat/milsim-sub000/internal/game"
	"github.com/seyacat/milsim-sub000/internal/store"
)

// recorder captures broadcasts so tests can assert on the fan-out without
// a WebSocket hub.
type recordedEvent struct {
	GameID string
	Name   string
	Data   any
}

type recorder struct {
	ch chan recordedEvent
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan recordedEvent, 1024)}
}

func (r *recorder) Broadcast(gameID, event string, data any) {
	select {
	case r.ch <- recordedEvent{GameID: gameID, Name: event, Data: data}:
	default:
	}
}

// waitFor blocks until an event with the given name arrives, skipping
// others, or fails the test after two seconds.
func (r *recorder) waitFor(t *testing.T, name string) recordedEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q broadcast", name)
			return recordedEvent{}
		}
	}
}

// drain discards any queued events.
func (r *recorder) drain() {
	for {
		select {
		case <-r.ch:
		default:
			return
		}
	}
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		MaxGames:         10,
		MaxPlayers:       32,
		MaxControlPoints: 20,
		PositionStale:    15 * time.Second,
		TickInterval:     time.Second,
	}
}

func newTestRegistry(t *testing.T, st *store.Store) (*Registry, *recorder, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	reg := NewRegistry(testGameConfig(), st, fc, zerolog.Nop())
	rec := newRecorder()
	reg.SetBroadcaster(rec)
	t.Cleanup(reg.Close)
	return reg, rec, fc
}

func mustCreate(t *testing.T, reg *Registry, name string) game.View {
	t.Helper()
	view, err := reg.CreateGame("owner-1", "commander", game.Settings{Name: name})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return view
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestCreateGameAndLimit(t *testing.T) {
	fc := clockwork.NewFakeClock()
	cfg := testGameConfig()
	cfg.MaxGames = 2
	reg := NewRegistry(cfg, nil, fc, zerolog.Nop())
	t.Cleanup(reg.Close)

	mustCreate(t, reg, "one")
	mustCreate(t, reg, "two")
	if _, err := reg.CreateGame("owner-1", "commander", game.Settings{Name: "three"}); !errors.Is(err, ErrGameLimit) {
		t.Errorf("create past limit: got %v, want ErrGameLimit", err)
	}
	if got := len(reg.List()); got != 2 {
		t.Errorf("list = %d games, want 2", got)
	}
}

func TestJoinLeaveBroadcasts(t *testing.T) {
	reg, rec, _ := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")

	if _, err := reg.Join(view.ID, "user-2", "grunt"); err != nil {
		t.Fatalf("join: %v", err)
	}
	ev := rec.waitFor(t, EvGameUpdate)
	if ev.Data.(GameUpdatePayload).Type != "playerJoined" {
		t.Errorf("join broadcast type = %s, want playerJoined", ev.Data.(GameUpdatePayload).Type)
	}

	member, err := reg.IsMember(view.ID, "user-2")
	if err != nil || !member {
		t.Errorf("IsMember = %v, %v, want true", member, err)
	}
	// The owner is always a member.
	if member, _ := reg.IsMember(view.ID, "owner-1"); !member {
		t.Error("owner should be a member")
	}
	if member, _ := reg.IsMember(view.ID, "stranger"); member {
		t.Error("stranger should not be a member")
	}

	if err := reg.Leave(view.ID, "user-2"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	ev = rec.waitFor(t, EvGameUpdate)
	if ev.Data.(GameUpdatePayload).Type != "playerLeft" {
		t.Errorf("leave broadcast type = %s, want playerLeft", ev.Data.(GameUpdatePayload).Type)
	}

	if _, err := reg.Join("missing", "user-2", "grunt"); !errors.Is(err, ErrGameNotFound) {
		t.Errorf("join unknown game: got %v, want ErrGameNotFound", err)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")

	if _, err := reg.Dispatch(view.ID, "owner-1", "selfDestruct", nil); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("unknown action: got %v, want ErrUnknownAction", err)
	}
	if _, err := reg.Dispatch("missing", "owner-1", ActionStartGame, nil); !errors.Is(err, ErrGameNotFound) {
		t.Errorf("unknown game: got %v, want ErrGameNotFound", err)
	}
}

// TestLifecycleDispatchBroadcastTags verifies every lifecycle action
// broadcasts a gameUpdate with its change tag.
func TestLifecycleDispatchBroadcastTags(t *testing.T) {
	reg, rec, _ := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")

	steps := []struct {
		action string
		tag    string
	}{
		{ActionStartGame, "gameStarted"},
		{ActionPauseGame, "gamePaused"},
		{ActionResumeGame, "gameResumed"},
		{ActionEndGame, "gameFinished"},
		{ActionRestartGame, "gameRestarted"},
	}
	for _, s := range steps {
		rec.drain()
		if _, err := reg.Dispatch(view.ID, "owner-1", s.action, nil); err != nil {
			t.Fatalf("%s: %v", s.action, err)
		}
		ev := rec.waitFor(t, EvGameUpdate)
		if got := ev.Data.(GameUpdatePayload).Type; got != s.tag {
			t.Errorf("%s broadcast type = %s, want %s", s.action, got, s.tag)
		}
	}
}

// TestTickingLoopBroadcasts drives the fake clock and verifies the 1 Hz
// fan-out: batched hold times and the countdown push.
func TestTickingLoopBroadcasts(t *testing.T) {
	reg, rec, fc := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")

	if _, err := reg.Dispatch(view.ID, "owner-1", ActionCreateControlPoint,
		raw(t, map[string]any{"name": "alpha"})); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionStartGame, nil); err != nil {
		t.Fatal(err)
	}
	rec.drain()

	fc.BlockUntil(1)
	fc.Advance(time.Second)

	ev := rec.waitFor(t, EvControlPointTimeUpdate)
	if _, ok := ev.Data.(game.ControlPointTime); !ok {
		t.Fatalf("hold time payload = %T, want game.ControlPointTime", ev.Data)
	}
	gt := rec.waitFor(t, EvGameTime)
	if got := gt.Data.(game.GameTimeView).PlayedTime; got != 1 {
		t.Errorf("playedTime after one tick = %d, want 1", got)
	}

	// Paused: advancing the clock produces nothing.
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionPauseGame, nil); err != nil {
		t.Fatal(err)
	}
	rec.drain()
	fc.Advance(5 * time.Second)
	select {
	case ev := <-rec.ch:
		t.Fatalf("broadcast while paused: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestAutoFinishPersistsResults verifies the countdown finishes the game
// from inside the tick loop and archives the results.
func TestAutoFinishPersistsResults(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	reg, rec, fc := newTestRegistry(t, st)
	view, err := reg.CreateGame("owner-1", "commander", game.Settings{Name: "ops", TotalTime: 2})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Dispatch(view.ID, "owner-1", ActionStartGame, nil); err != nil {
		t.Fatal(err)
	}
	rec.drain()

	fc.BlockUntil(1)
	fc.Advance(time.Second)
	rec.waitFor(t, EvGameTime)
	fc.BlockUntil(1)
	fc.Advance(time.Second)

	for {
		ev := rec.waitFor(t, EvGameUpdate)
		if ev.Data.(GameUpdatePayload).Type == "gameFinished" {
			break
		}
	}

	res, err := reg.Results(view.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if res.DurationSeconds != 2 {
		t.Errorf("duration = %d, want 2", res.DurationSeconds)
	}

	recs, err := st.Instances(view.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("archived instances = %d, want 1", len(recs))
	}
	if recs[0].Duration != 2 {
		t.Errorf("archived duration = %d, want 2", recs[0].Duration)
	}
}

// TestEndGamePersistsOnce verifies a manual end archives exactly one
// instance and a later restart does not duplicate it.
func TestEndGamePersistsOnce(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	reg, _, _ := newTestRegistry(t, st)
	view := mustCreate(t, reg, "ops")

	if _, err := reg.Dispatch(view.ID, "owner-1", ActionStartGame, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionEndGame, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionRestartGame, nil); err != nil {
		t.Fatal(err)
	}

	recs, err := st.Instances(view.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("archived instances = %d, want 1", len(recs))
	}
}

// TestQueryActionsReplyToSenderOnly verifies reconciliation queries return
// a reply instead of broadcasting.
func TestQueryActionsReplyToSenderOnly(t *testing.T) {
	reg, rec, _ := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")
	rec.drain()

	reply, err := reg.Dispatch(view.ID, "owner-1", ActionGetGameTime, nil)
	if err != nil {
		t.Fatalf("getGameTime: %v", err)
	}
	if reply == nil || reply.Name != EvGameTime {
		t.Fatalf("reply = %+v, want gameTime event", reply)
	}
	if reply.Data.(game.GameTimeView).Status != game.StatusStopped {
		t.Errorf("status = %s, want stopped", reply.Data.(game.GameTimeView).Status)
	}

	reply, err = reg.Dispatch(view.ID, "owner-1", ActionGetControlPointTimes, nil)
	if err != nil || reply.Name != EvControlPointTimes {
		t.Fatalf("getControlPointTimes reply = %+v, err %v", reply, err)
	}
	reply, err = reg.Dispatch(view.ID, "owner-1", ActionGetActiveBombTimers, nil)
	if err != nil || reply.Name != EvActiveBombTimers {
		t.Fatalf("getActiveBombTimers reply = %+v, err %v", reply, err)
	}

	select {
	case ev := <-rec.ch:
		t.Errorf("query action broadcast: %+v", ev)
	default:
	}
}

// TestQueryActionsRequireMembership verifies a user who is not on the
// roster cannot read positions or timer state out of a game.
func TestQueryActionsRequireMembership(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")
	if _, err := reg.Join(view.ID, "user-2", "grunt"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Dispatch(view.ID, "user-2", ActionPositionUpdate,
		raw(t, map[string]any{"latitude": 4.65, "longitude": -74.05, "accuracy": 5})); err != nil {
		t.Fatalf("updatePlayerPosition: %v", err)
	}

	queries := []string{
		ActionRequestPlayerPositions,
		ActionGetActiveBombTimers,
		ActionGetControlPointTimes,
		ActionGetGameTime,
	}
	for _, q := range queries {
		if _, err := reg.Dispatch(view.ID, "stranger", q, nil); !errors.Is(err, game.ErrNotPlayer) {
			t.Errorf("%s by non-member: err = %v, want ErrNotPlayer", q, err)
		}
	}

	// A joined player still gets the reply.
	reply, err := reg.Dispatch(view.ID, "user-2", ActionRequestPlayerPositions, nil)
	if err != nil || reply.Name != EvPlayerPositionsResponse {
		t.Fatalf("requestPlayerPositions by member: reply = %+v, err %v", reply, err)
	}
}

// TestPlayerActionsOverDispatch exercises the full command surface a field
// player uses: team selection, position reporting and a code capture.
func TestPlayerActionsOverDispatch(t *testing.T) {
	reg, rec, _ := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")
	if _, err := reg.Join(view.ID, "user-2", "grunt"); err != nil {
		t.Fatal(err)
	}

	// Pick a team.
	rec.drain()
	if _, err := reg.Dispatch(view.ID, "user-2", ActionUpdatePlayerTeam,
		raw(t, map[string]any{"team": "blue"})); err != nil {
		t.Fatalf("updatePlayerTeam: %v", err)
	}
	ev := rec.waitFor(t, EvPlayerTeamUpdated)
	if ev.Data.(game.Player).Team != game.TeamBlue {
		t.Errorf("team = %s, want blue", ev.Data.(game.Player).Team)
	}

	// Owner configures a code challenge.
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionCreateControlPoint,
		raw(t, map[string]any{"name": "alpha"})); err != nil {
		t.Fatal(err)
	}
	snap, err := reg.Snapshot(view.ID)
	if err != nil {
		t.Fatal(err)
	}
	cpID := snap.ControlPoints[0].ID
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionUpdateCodeChallenge,
		raw(t, map[string]any{"controlPointId": cpID, "code": "1234"})); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionToggleCodeChallenge,
		raw(t, map[string]any{"controlPointId": cpID})); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionStartGame, nil); err != nil {
		t.Fatal(err)
	}

	// Position report fans out.
	rec.drain()
	if _, err := reg.Dispatch(view.ID, "user-2", ActionPositionUpdate,
		raw(t, map[string]any{"latitude": 4.6, "longitude": -74.08, "accuracy": 5})); err != nil {
		t.Fatalf("positionUpdate: %v", err)
	}
	pos := rec.waitFor(t, EvPositionUpdate)
	if pos.Data.(game.PlayerPositionView).UserID != "user-2" {
		t.Errorf("position update for %s, want user-2", pos.Data.(game.PlayerPositionView).UserID)
	}

	// Wrong then right code.
	if _, err := reg.Dispatch(view.ID, "user-2", ActionSubmitCode,
		raw(t, map[string]any{"controlPointId": cpID, "code": "9999"})); !errors.Is(err, game.ErrBadCode) {
		t.Errorf("wrong code: got %v, want ErrBadCode", err)
	}
	rec.drain()
	if _, err := reg.Dispatch(view.ID, "user-2", ActionSubmitCode,
		raw(t, map[string]any{"controlPointId": cpID, "code": "1234"})); err != nil {
		t.Fatalf("submitCode: %v", err)
	}
	ev = rec.waitFor(t, EvGameUpdate)
	if ev.Data.(GameUpdatePayload).Type != "controlPointCaptured" {
		t.Errorf("capture broadcast type = %s, want controlPointCaptured", ev.Data.(GameUpdatePayload).Type)
	}
}

// TestBombDispatchBroadcasts verifies arm and disarm push bombTimeUpdate.
func TestBombDispatchBroadcasts(t *testing.T) {
	reg, rec, _ := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")

	if _, err := reg.Dispatch(view.ID, "owner-1", ActionCreateControlPoint,
		raw(t, map[string]any{"name": "site", "type": "site"})); err != nil {
		t.Fatal(err)
	}
	snap, _ := reg.Snapshot(view.ID)
	cpID := snap.ControlPoints[0].ID

	if _, err := reg.Dispatch(view.ID, "owner-1", ActionUpdateBombChallenge,
		raw(t, map[string]any{"controlPointId": cpID, "bombTime": 180, "armedCode": "7777", "disarmedCode": "0000"})); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionToggleBombChallenge,
		raw(t, map[string]any{"controlPointId": cpID})); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionStartGame, nil); err != nil {
		t.Fatal(err)
	}

	rec.drain()
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionActivateBombAsOwner,
		raw(t, map[string]any{"controlPointId": cpID})); err != nil {
		t.Fatalf("activateBombAsOwner: %v", err)
	}
	ev := rec.waitFor(t, EvBombTimeUpdate)
	bomb := ev.Data.(game.BombTimerView)
	if !bomb.IsActive || bomb.RemainingTime != 180 {
		t.Errorf("bomb broadcast = %+v, want active with 180s", bomb)
	}

	rec.drain()
	if _, err := reg.Dispatch(view.ID, "owner-1", ActionDeactivateBombAsOwner,
		raw(t, map[string]any{"controlPointId": cpID})); err != nil {
		t.Fatalf("deactivateBombAsOwner: %v", err)
	}
	ev = rec.waitFor(t, EvBombTimeUpdate)
	if ev.Data.(game.BombTimerView).IsActive {
		t.Error("disarm broadcast should be inactive")
	}
}

func TestDeleteGameGuards(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")

	if err := reg.DeleteGame(view.ID, "user-2"); !errors.Is(err, game.ErrNotOwner) {
		t.Errorf("delete by non-owner: got %v, want ErrNotOwner", err)
	}

	if _, err := reg.Dispatch(view.ID, "owner-1", ActionStartGame, nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.DeleteGame(view.ID, "owner-1"); !errors.Is(err, ErrGameActive) {
		t.Errorf("delete while running: got %v, want ErrGameActive", err)
	}

	if _, err := reg.Dispatch(view.ID, "owner-1", ActionEndGame, nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.DeleteGame(view.ID, "owner-1"); err != nil {
		t.Fatalf("delete finished game: %v", err)
	}
	if err := reg.DeleteGame(view.ID, "owner-1"); !errors.Is(err, ErrGameNotFound) {
		t.Errorf("double delete: got %v, want ErrGameNotFound", err)
	}
}

func TestConnectedBroadcasts(t *testing.T) {
	reg, rec, _ := newTestRegistry(t, nil)
	view := mustCreate(t, reg, "ops")
	rec.drain()

	reg.Connected(view.ID, +1)
	ev := rec.waitFor(t, EvGameUpdate)
	payload := ev.Data.(GameUpdatePayload)
	if payload.Type != "connections" {
		t.Errorf("broadcast type = %s, want connections", payload.Type)
	}
	if payload.Game.(game.View).ActiveConnections != 1 {
		t.Errorf("connections = %d, want 1", payload.Game.(game.View).ActiveConnections)
	}
}
