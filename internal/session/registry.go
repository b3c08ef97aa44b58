package session

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/seyacat/milsim-sub000/internal/config"
	"github.com/seyacat/milsim-sub000/internal/game"
	"github.com/seyacat/milsim-sub000/internal/store"
)

// ErrGameNotFound is returned for commands addressed to unknown game ids.
var ErrGameNotFound = fmt.Errorf("game not found")

// ErrGameLimit is returned when the registry is at capacity.
var ErrGameLimit = fmt.Errorf("maximum number of games reached")

// ErrGameActive is returned when deleting a game that is running or paused.
var ErrGameActive = fmt.Errorf("game must be stopped or finished first")

// Registry holds one session per active game id and is the single entry
// point for every mutating command, whether it arrived over WebSocket or
// REST. All mutation for one game is serialized by that session's mutex.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	clock clockwork.Clock
	st    *store.Store
	cfg   config.GameConfig
	log   zerolog.Logger

	bcMu sync.RWMutex
	bc   Broadcaster
}

// NewRegistry creates a registry. In production pass
// clockwork.NewRealClock(); tests drive timers with a fake clock.
func NewRegistry(cfg config.GameConfig, st *store.Store, clock clockwork.Clock, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		clock:    clock,
		st:       st,
		cfg:      cfg,
		log:      log.With().Str("service", "registry").Logger(),
	}
}

// SetBroadcaster installs the fan-out sink. The hub depends on the
// registry, so this is wired after construction.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.bcMu.Lock()
	r.bc = b
	r.bcMu.Unlock()
}

func (r *Registry) broadcast(gameID, event string, data any) {
	r.bcMu.RLock()
	b := r.bc
	r.bcMu.RUnlock()
	if b != nil {
		b.Broadcast(gameID, event, data)
	}
}

// CreateGame registers a new game owned by the given user.
func (r *Registry) CreateGame(ownerID, ownerName string, s game.Settings) (game.View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.MaxGames > 0 && len(r.sessions) >= r.cfg.MaxGames {
		return game.View{}, ErrGameLimit
	}
	g, err := game.New(ownerID, ownerName, s, r.clock.Now())
	if err != nil {
		return game.View{}, err
	}
	sess := newSession(r, g)
	r.sessions[g.ID()] = sess
	r.log.Info().Str("game_id", g.ID()).Str("owner", ownerName).Msg("game created")
	return g.Snapshot(), nil
}

// DeleteGame removes a stopped or finished game (owner only).
func (r *Registry) DeleteGame(gameID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[gameID]
	if !ok {
		return ErrGameNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.g.OwnerID() != userID {
		return game.ErrNotOwner
	}
	if st := sess.g.Status(); st == game.StatusRunning || st == game.StatusPaused {
		return ErrGameActive
	}
	sess.stopTickingLocked()
	delete(r.sessions, gameID)
	r.log.Info().Str("game_id", gameID).Msg("game deleted")
	return nil
}

// get returns the session for a game id.
func (r *Registry) get(gameID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	return sess, nil
}

// List returns snapshots of all registered games.
func (r *Registry) List() []game.View {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]game.View, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.g.Snapshot())
		s.mu.Unlock()
	}
	return out
}

// Snapshot returns one game's full state.
func (r *Registry) Snapshot(gameID string) (game.View, error) {
	sess, err := r.get(gameID)
	if err != nil {
		return game.View{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.g.Snapshot(), nil
}

// IsMember reports whether the user may join the game's room.
func (r *Registry) IsMember(gameID, userID string) (bool, error) {
	sess, err := r.get(gameID)
	if err != nil {
		return false, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.g.IsMember(userID), nil
}

// Join adds the user as a player and broadcasts the updated roster.
func (r *Registry) Join(gameID, userID, username string) (game.View, error) {
	sess, err := r.get(gameID)
	if err != nil {
		return game.View{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, err := sess.g.Join(userID, username, r.cfg.MaxPlayers, r.clock.Now()); err != nil {
		return game.View{}, err
	}
	view := sess.g.Snapshot()
	r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "playerJoined", Game: view})
	return view, nil
}

// Leave removes the user's player and broadcasts the updated roster.
func (r *Registry) Leave(gameID, userID string) error {
	sess, err := r.get(gameID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.g.Leave(userID); err != nil {
		return err
	}
	r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "playerLeft", Game: sess.g.Snapshot()})
	return nil
}

// Players returns the current roster.
func (r *Registry) Players(gameID string) ([]game.Player, error) {
	sess, err := r.get(gameID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.g.Players(), nil
}

// Results returns the frozen results of a finished game.
func (r *Registry) Results(gameID string) (*game.Results, error) {
	sess, err := r.get(gameID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.g.Results()
}

// Connected adjusts a game's joined-socket count and broadcasts it.
// The count is informational; it never gates lifecycle transitions.
func (r *Registry) Connected(gameID string, delta int) {
	sess, err := r.get(gameID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.g.SetConnections(delta)
	r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "connections", Game: sess.g.Snapshot()})
}

// Close stops every tick loop. Called on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		sess.mu.Lock()
		sess.stopTickingLocked()
		sess.mu.Unlock()
	}
}
