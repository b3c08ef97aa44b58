package session

import (
	"context"
	"sync"

	"github.com/seyacat/milsim-sub000/internal/game"
)

// Session pairs one Game aggregate with the mutex that serializes every
// command and tick for it, plus the lifecycle of its 1 Hz tick loop.
type Session struct {
	mu sync.Mutex
	g  *game.Game

	r      *Registry
	cancel context.CancelFunc
}

func newSession(r *Registry, g *game.Game) *Session {
	return &Session{r: r, g: g}
}

// startTickingLocked launches the tick loop. Caller holds s.mu.
func (s *Session) startTickingLocked() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// stopTickingLocked halts the tick loop. Caller holds s.mu. The loop
// re-reads the authoritative status under the lock on every tick, so even
// a tick already in flight when this is called applies nothing after a
// transition away from running.
func (s *Session) stopTickingLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) run(ctx context.Context) {
	ticker := s.r.clock.NewTicker(s.r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tickOnce()
		}
	}
}

// tickOnce advances the game one authoritative second and fans out the
// resulting deltas. Holding the session mutex for the whole step is what
// guarantees a tick can never interleave with a command.
func (s *Session) tickOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := s.g.Tick(s.r.clock.Now(), s.r.cfg.PositionStale)
	if !delta.Applied {
		return
	}
	gameID := s.g.ID()

	for _, ht := range delta.HoldTimes {
		s.r.broadcast(gameID, EvControlPointTimeUpdate, ht)
	}
	for _, bu := range delta.BombUpdates {
		s.r.broadcast(gameID, EvBombTimeUpdate, bu)
	}
	for _, pu := range delta.Positions {
		s.r.broadcast(gameID, EvPositionChallengeUpdate, pu)
	}
	if len(delta.Captures) > 0 {
		s.r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "controlPointCaptured", Game: s.g.Snapshot()})
	}
	s.r.broadcast(gameID, EvGameTime, delta.GameTime)

	if delta.Finished {
		s.stopTickingLocked()
		s.persistResultsLocked()
		s.r.broadcast(gameID, EvGameUpdate, GameUpdatePayload{Type: "gameFinished", Game: s.g.Snapshot()})
	}
}

// persistResultsLocked archives the frozen results. Caller holds s.mu and
// the game is finished.
func (s *Session) persistResultsLocked() {
	if s.r.st == nil {
		return
	}
	res, err := s.g.Results()
	if err != nil {
		return
	}
	if err := s.r.st.SaveResults(s.g.OwnerID(), res); err != nil {
		s.r.log.Error().Err(err).Str("game_id", s.g.ID()).Msg("failed to archive results")
	}
}
