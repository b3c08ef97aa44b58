package game

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seyacat/milsim-sub000/internal/geo"
)

// Settings carries the owner-supplied parameters at game creation.
type Settings struct {
	Name      string
	TeamCount int
	TotalTime int // seconds of running time; 0 means unlimited
}

// Game is the authoritative aggregate for one milsim session. It holds
// no goroutines, clocks or locks: the session layer serializes every
// call (commands and ticks) under one mutex and owns the 1 Hz schedule,
// so all methods here may assume exclusive access.
type Game struct {
	id        string
	name      string
	status    Status
	ownerID   string
	ownerName string

	teamCount  int
	totalTime  int
	playedTime int

	activeConnections int

	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	players  []*Player
	byUser   map[string]*Player
	points   []*ControlPoint
	byPoint  map[string]*ControlPoint
	location map[string]Position

	stats    map[string]*PlayerStats
	timeline []TimelineEvent
	results  *Results
}

// TimelineEvent is one entry in the bounded per-game event record.
// At is measured in cumulative running seconds, which keeps the record
// deterministic regardless of wall-clock pauses.
type TimelineEvent struct {
	At             int    `json:"at"`
	Type           string `json:"type"`
	ControlPointID string `json:"controlPointId,omitempty"`
	Team           Team   `json:"team,omitempty"`
	UserID         string `json:"userId,omitempty"`
	Username       string `json:"username,omitempty"`
}

const maxTimelineEvents = 1024

// New creates a game in the stopped state with the given owner.
func New(ownerID, ownerName string, s Settings, now time.Time) (*Game, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("%w: game name required", ErrInvalidArgument)
	}
	if s.TeamCount == 0 {
		s.TeamCount = MinTeamCount
	}
	if s.TeamCount < MinTeamCount || s.TeamCount > MaxTeamCount {
		return nil, ErrInvalidTeamCount
	}
	if s.TotalTime < 0 {
		return nil, fmt.Errorf("%w: totalTime must be >= 0", ErrInvalidArgument)
	}
	g := &Game{
		id:        uuid.NewString(),
		name:      s.Name,
		status:    StatusStopped,
		ownerID:   ownerID,
		ownerName: ownerName,
		teamCount: s.TeamCount,
		totalTime: s.TotalTime,
		createdAt: now,
		byUser:    make(map[string]*Player),
		byPoint:   make(map[string]*ControlPoint),
		location:  make(map[string]Position),
		stats:     make(map[string]*PlayerStats),
	}
	// The owner is on the roster from the start; clients render the owner
	// alongside every joined player.
	owner := &Player{
		ID:       uuid.NewString(),
		UserID:   ownerID,
		Username: ownerName,
		Team:     TeamNone,
		JoinedAt: now,
	}
	g.players = append(g.players, owner)
	g.byUser[ownerID] = owner
	g.stats[ownerID] = &PlayerStats{}
	return g, nil
}

func (g *Game) ID() string      { return g.id }
func (g *Game) Name() string    { return g.name }
func (g *Game) Status() Status  { return g.status }
func (g *Game) OwnerID() string { return g.ownerID }

// IsMember reports whether the user is the owner or a joined player.
func (g *Game) IsMember(userID string) bool {
	if userID == g.ownerID {
		return true
	}
	_, ok := g.byUser[userID]
	return ok
}

func (g *Game) requireOwner(userID string) error {
	if userID != g.ownerID {
		return ErrNotOwner
	}
	return nil
}

func (g *Game) record(ev TimelineEvent) {
	ev.At = g.playedTime
	if len(g.timeline) >= maxTimelineEvents {
		return
	}
	g.timeline = append(g.timeline, ev)
}

// ---------------------------------------------------------------------------
// Membership

// Join adds the user as a player. Joining twice is not an error: the
// existing player is returned so reconnecting clients stay idempotent.
func (g *Game) Join(userID, username string, maxPlayers int, now time.Time) (*Player, error) {
	if p, ok := g.byUser[userID]; ok {
		return p, nil
	}
	if maxPlayers > 0 && len(g.players) >= maxPlayers {
		return nil, ErrGameFull
	}
	p := &Player{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		Team:     TeamNone,
		JoinedAt: now,
	}
	g.players = append(g.players, p)
	g.byUser[userID] = p
	g.stats[userID] = &PlayerStats{}
	return p, nil
}

// Leave removes the user's player. Accumulated stats are kept so the
// results aggregator still reports on players who left early.
func (g *Game) Leave(userID string) error {
	p, ok := g.byUser[userID]
	if !ok {
		return ErrNotPlayer
	}
	delete(g.byUser, userID)
	delete(g.location, userID)
	for i, q := range g.players {
		if q == p {
			g.players = append(g.players[:i], g.players[i+1:]...)
			break
		}
	}
	return nil
}

// SetPlayerTeam assigns a team. The owner may assign anyone; a player may
// only reassign themselves.
func (g *Game) SetPlayerTeam(requesterID, targetUserID string, team Team) (*Player, error) {
	if requesterID != g.ownerID && requesterID != targetUserID {
		return nil, ErrNotOwner
	}
	p, ok := g.byUser[targetUserID]
	if !ok {
		return nil, ErrNotPlayer
	}
	if !team.Assignable(g.teamCount) {
		return nil, ErrInvalidTeam
	}
	p.Team = team
	return p, nil
}

// SetTeamCount changes how many teams are playable. Players left on a team
// that no longer exists drop back to none.
func (g *Game) SetTeamCount(requesterID string, n int) error {
	if err := g.requireOwner(requesterID); err != nil {
		return err
	}
	if n < MinTeamCount || n > MaxTeamCount {
		return ErrInvalidTeamCount
	}
	g.teamCount = n
	for _, p := range g.players {
		if !p.Team.Assignable(n) {
			p.Team = TeamNone
		}
	}
	return nil
}

// SetConnections adjusts the joined-socket counter. Informational only:
// it never gates a transition.
func (g *Game) SetConnections(delta int) int {
	g.activeConnections += delta
	if g.activeConnections < 0 {
		g.activeConnections = 0
	}
	return g.activeConnections
}

// ---------------------------------------------------------------------------
// Lifecycle

// Start begins the game (stopped -> running).
func (g *Game) Start(requesterID string, now time.Time) error {
	if err := g.requireOwner(requesterID); err != nil {
		return err
	}
	if g.status != StatusStopped {
		return fmt.Errorf("%w: startGame from %s", ErrInvalidTransition, g.status)
	}
	g.status = StatusRunning
	g.startedAt = now
	g.record(TimelineEvent{Type: "gameStarted"})
	return nil
}

// Pause freezes all timers (running -> paused).
func (g *Game) Pause(requesterID string) error {
	if err := g.requireOwner(requesterID); err != nil {
		return err
	}
	if g.status != StatusRunning {
		return fmt.Errorf("%w: pauseGame from %s", ErrInvalidTransition, g.status)
	}
	g.status = StatusPaused
	g.record(TimelineEvent{Type: "gamePaused"})
	return nil
}

// Resume continues a paused game (paused -> running).
func (g *Game) Resume(requesterID string) error {
	if err := g.requireOwner(requesterID); err != nil {
		return err
	}
	if g.status != StatusPaused {
		return fmt.Errorf("%w: resumeGame from %s", ErrInvalidTransition, g.status)
	}
	g.status = StatusRunning
	g.record(TimelineEvent{Type: "gameResumed"})
	return nil
}

// End finishes the game (running|paused -> finished) and freezes results.
func (g *Game) End(requesterID string, now time.Time) error {
	if err := g.requireOwner(requesterID); err != nil {
		return err
	}
	if g.status != StatusRunning && g.status != StatusPaused {
		return fmt.Errorf("%w: endGame from %s", ErrInvalidTransition, g.status)
	}
	g.finish(now)
	return nil
}

// Restart archives the finished results and resets the game to stopped:
// every control point loses its owner, timers, bomb and position points,
// and every player drops to team none. The archived results are returned
// so the caller can persist them as an instance.
func (g *Game) Restart(requesterID string) (*Results, error) {
	if err := g.requireOwner(requesterID); err != nil {
		return nil, err
	}
	if g.status != StatusFinished {
		return nil, fmt.Errorf("%w: restartGame from %s", ErrInvalidTransition, g.status)
	}
	archived := g.results

	g.status = StatusStopped
	g.playedTime = 0
	g.startedAt = time.Time{}
	g.finishedAt = time.Time{}
	g.results = nil
	g.timeline = nil
	for _, cp := range g.points {
		cp.reset()
	}
	for _, p := range g.players {
		p.Team = TeamNone
	}
	for id := range g.stats {
		g.stats[id] = &PlayerStats{}
	}
	return archived, nil
}

// AddTime extends the countdown. On an unlimited game it establishes one,
// counting from the time already played.
func (g *Game) AddTime(requesterID string, seconds int) error {
	if err := g.requireOwner(requesterID); err != nil {
		return err
	}
	if seconds <= 0 {
		return fmt.Errorf("%w: seconds must be > 0", ErrInvalidArgument)
	}
	if g.status == StatusFinished {
		return fmt.Errorf("%w: addTime from %s", ErrInvalidTransition, g.status)
	}
	if g.totalTime == 0 {
		g.totalTime = g.playedTime + seconds
	} else {
		g.totalTime += seconds
	}
	return nil
}

// SetTotalTime replaces the total game time (0 = unlimited). A limit below
// the time already played finishes the game on the next tick.
func (g *Game) SetTotalTime(requesterID string, seconds int) error {
	if err := g.requireOwner(requesterID); err != nil {
		return err
	}
	if seconds < 0 {
		return fmt.Errorf("%w: totalTime must be >= 0", ErrInvalidArgument)
	}
	if g.status == StatusFinished {
		return fmt.Errorf("%w: updateGameTime from %s", ErrInvalidTransition, g.status)
	}
	g.totalTime = seconds
	return nil
}

func (g *Game) finish(now time.Time) {
	g.status = StatusFinished
	g.finishedAt = now
	g.record(TimelineEvent{Type: "gameFinished"})
	g.results = g.computeResults()
}

// ---------------------------------------------------------------------------
// Control points

// CreateControlPoint adds a point (owner only). A second site-typed point
// is rejected without mutating anything.
func (g *Game) CreateControlPoint(requesterID string, p ControlPointParams, maxPoints int) (*ControlPoint, error) {
	if err := g.requireOwner(requesterID); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: control point name required", ErrInvalidArgument)
	}
	if p.Type != "" && p.Type != TypeControlPoint && p.Type != TypeSite {
		return nil, fmt.Errorf("%w: unknown control point type %q", ErrInvalidArgument, p.Type)
	}
	if maxPoints > 0 && len(g.points) >= maxPoints {
		return nil, ErrControlPointLimit
	}
	if p.Type == TypeSite && g.siteExists("") {
		return nil, ErrDuplicateSite
	}
	cp := newControlPoint(uuid.NewString(), p)
	g.points = append(g.points, cp)
	g.byPoint[cp.ID] = cp
	return cp, nil
}

// UpdateControlPoint updates name, type and coordinates (owner only).
func (g *Game) UpdateControlPoint(requesterID, cpID string, p ControlPointParams) (*ControlPoint, error) {
	if err := g.requireOwner(requesterID); err != nil {
		return nil, err
	}
	cp, ok := g.byPoint[cpID]
	if !ok {
		return nil, ErrUnknownControlPoint
	}
	if p.Type != "" && p.Type != TypeControlPoint && p.Type != TypeSite {
		return nil, fmt.Errorf("%w: unknown control point type %q", ErrInvalidArgument, p.Type)
	}
	if p.Type == TypeSite && g.siteExists(cpID) {
		return nil, ErrDuplicateSite
	}
	if p.Name != "" {
		cp.Name = p.Name
	}
	if p.Type != "" {
		cp.Type = p.Type
	}
	// Partial update: a rename-only request must not drag the point to
	// (0,0), the zero value of omitted coordinates.
	if p.Latitude != 0 || p.Longitude != 0 {
		cp.Latitude = p.Latitude
		cp.Longitude = p.Longitude
	}
	return cp, nil
}

// siteExists reports whether a site-typed point other than excludeID exists.
func (g *Game) siteExists(excludeID string) bool {
	for _, cp := range g.points {
		if cp.Type == TypeSite && cp.ID != excludeID {
			return true
		}
	}
	return false
}

// DeleteControlPoint removes a point (owner only).
func (g *Game) DeleteControlPoint(requesterID, cpID string) error {
	if err := g.requireOwner(requesterID); err != nil {
		return err
	}
	cp, ok := g.byPoint[cpID]
	if !ok {
		return ErrUnknownControlPoint
	}
	delete(g.byPoint, cpID)
	for i, q := range g.points {
		if q == cp {
			g.points = append(g.points[:i], g.points[i+1:]...)
			break
		}
	}
	return nil
}

// MoveControlPoint updates coordinates only (owner only, map drag).
func (g *Game) MoveControlPoint(requesterID, cpID string, lat, lon float64) (*ControlPoint, error) {
	if err := g.requireOwner(requesterID); err != nil {
		return nil, err
	}
	cp, ok := g.byPoint[cpID]
	if !ok {
		return nil, ErrUnknownControlPoint
	}
	cp.Latitude = lat
	cp.Longitude = lon
	return cp, nil
}

// AssignControlPointTeam manually hands a point to a team (owner only).
func (g *Game) AssignControlPointTeam(requesterID, cpID string, team Team) (*ControlPoint, error) {
	if err := g.requireOwner(requesterID); err != nil {
		return nil, err
	}
	cp, ok := g.byPoint[cpID]
	if !ok {
		return nil, ErrUnknownControlPoint
	}
	if !team.Assignable(g.teamCount) {
		return nil, ErrInvalidTeam
	}
	cp.setOwner(team)
	g.record(TimelineEvent{Type: "teamAssigned", ControlPointID: cp.ID, Team: team})
	return cp, nil
}

// ---------------------------------------------------------------------------
// Challenge configuration (owner only)

// TogglePositionChallenge flips the position challenge on or off.
func (g *Game) TogglePositionChallenge(requesterID, cpID string) (*ControlPoint, error) {
	cp, err := g.ownerPoint(requesterID, cpID)
	if err != nil {
		return nil, err
	}
	cp.HasPositionChallenge = !cp.HasPositionChallenge
	return cp, nil
}

// UpdatePositionChallenge sets the proximity envelope.
func (g *Game) UpdatePositionChallenge(requesterID, cpID string, minDistance, minAccuracy float64) (*ControlPoint, error) {
	cp, err := g.ownerPoint(requesterID, cpID)
	if err != nil {
		return nil, err
	}
	if minDistance <= 0 || minAccuracy <= 0 {
		return nil, fmt.Errorf("%w: minDistance and minAccuracy must be > 0", ErrInvalidArgument)
	}
	cp.MinDistance = minDistance
	cp.MinAccuracy = minAccuracy
	return cp, nil
}

// ToggleCodeChallenge flips the code challenge on or off.
func (g *Game) ToggleCodeChallenge(requesterID, cpID string) (*ControlPoint, error) {
	cp, err := g.ownerPoint(requesterID, cpID)
	if err != nil {
		return nil, err
	}
	cp.HasCodeChallenge = !cp.HasCodeChallenge
	return cp, nil
}

// UpdateCodeChallenge sets the capture code.
func (g *Game) UpdateCodeChallenge(requesterID, cpID, code string) (*ControlPoint, error) {
	cp, err := g.ownerPoint(requesterID, cpID)
	if err != nil {
		return nil, err
	}
	if normalizeCode(code) == "" {
		return nil, fmt.Errorf("%w: code required", ErrInvalidArgument)
	}
	cp.Code = normalizeCode(code)
	return cp, nil
}

// ToggleBombChallenge flips the bomb challenge. Disabling it defuses any
// armed bomb.
func (g *Game) ToggleBombChallenge(requesterID, cpID string) (*ControlPoint, error) {
	cp, err := g.ownerPoint(requesterID, cpID)
	if err != nil {
		return nil, err
	}
	cp.HasBombChallenge = !cp.HasBombChallenge
	if !cp.HasBombChallenge {
		cp.Bomb = nil
	}
	return cp, nil
}

// UpdateBombChallenge sets the countdown and the arm/disarm codes.
func (g *Game) UpdateBombChallenge(requesterID, cpID string, bombSeconds int, armedCode, disarmedCode string) (*ControlPoint, error) {
	cp, err := g.ownerPoint(requesterID, cpID)
	if err != nil {
		return nil, err
	}
	if bombSeconds <= 0 {
		return nil, fmt.Errorf("%w: bombTime must be > 0", ErrInvalidArgument)
	}
	if normalizeCode(armedCode) == "" || normalizeCode(disarmedCode) == "" {
		return nil, fmt.Errorf("%w: armedCode and disarmedCode required", ErrInvalidArgument)
	}
	cp.BombSeconds = bombSeconds
	cp.ArmedCode = normalizeCode(armedCode)
	cp.DisarmedCode = normalizeCode(disarmedCode)
	return cp, nil
}

func (g *Game) ownerPoint(requesterID, cpID string) (*ControlPoint, error) {
	if err := g.requireOwner(requesterID); err != nil {
		return nil, err
	}
	cp, ok := g.byPoint[cpID]
	if !ok {
		return nil, ErrUnknownControlPoint
	}
	return cp, nil
}

// ---------------------------------------------------------------------------
// Challenges

// SubmitCode attempts a code capture. On a match the submitting player's
// team takes ownership and the hold timer restarts from zero.
func (g *Game) SubmitCode(userID, cpID, code string) (*ControlPoint, error) {
	if g.status != StatusRunning {
		return nil, fmt.Errorf("%w: submitCode from %s", ErrInvalidTransition, g.status)
	}
	p, ok := g.byUser[userID]
	if !ok {
		return nil, ErrNotPlayer
	}
	if p.Team == TeamNone {
		return nil, fmt.Errorf("%w: join a team before capturing", ErrInvalidTeam)
	}
	cp, ok := g.byPoint[cpID]
	if !ok {
		return nil, ErrUnknownControlPoint
	}
	if !cp.HasCodeChallenge {
		return nil, ErrChallengeDisabled
	}
	if normalizeCode(code) != cp.Code {
		return nil, ErrBadCode
	}
	cp.setOwner(p.Team)
	g.stats[userID].Captures++
	g.record(TimelineEvent{Type: "controlPointCaptured", ControlPointID: cp.ID, Team: p.Team, UserID: userID, Username: p.Username})
	return cp, nil
}

// ArmBomb starts the bomb countdown. Non-owner callers must be joined
// players supplying the correct armedCode; the owner variant skips the
// code check.
func (g *Game) ArmBomb(userID, cpID, code string, asOwner bool, now time.Time) (*ControlPoint, error) {
	if g.status != StatusRunning {
		return nil, fmt.Errorf("%w: activateBomb from %s", ErrInvalidTransition, g.status)
	}
	cp, ok := g.byPoint[cpID]
	if !ok {
		return nil, ErrUnknownControlPoint
	}
	if !cp.HasBombChallenge || cp.BombSeconds <= 0 {
		return nil, ErrChallengeDisabled
	}
	if cp.Bomb != nil && cp.Bomb.Active {
		return nil, ErrBombActive
	}
	username := g.ownerName
	if asOwner {
		if err := g.requireOwner(userID); err != nil {
			return nil, err
		}
	} else {
		p, ok := g.byUser[userID]
		if !ok {
			return nil, ErrNotPlayer
		}
		if normalizeCode(code) != cp.ArmedCode {
			return nil, ErrBadCode
		}
		username = p.Username
	}
	cp.Bomb = &BombTimer{
		Active:      true,
		Remaining:   cp.BombSeconds,
		ActivatedBy: username,
		ActivatedAt: now,
	}
	cp.armedByUserID = userID
	g.record(TimelineEvent{Type: "bombArmed", ControlPointID: cp.ID, UserID: userID, Username: username})
	return cp, nil
}

// DisarmBomb stops an armed bomb. Non-owner callers must supply the
// disarmedCode; successful player disarms earn a stat.
func (g *Game) DisarmBomb(userID, cpID, code string, asOwner bool) (*ControlPoint, error) {
	if g.status != StatusRunning {
		return nil, fmt.Errorf("%w: deactivateBomb from %s", ErrInvalidTransition, g.status)
	}
	cp, ok := g.byPoint[cpID]
	if !ok {
		return nil, ErrUnknownControlPoint
	}
	if cp.Bomb == nil || !cp.Bomb.Active {
		return nil, ErrBombInactive
	}
	username := g.ownerName
	if asOwner {
		if err := g.requireOwner(userID); err != nil {
			return nil, err
		}
	} else {
		p, ok := g.byUser[userID]
		if !ok {
			return nil, ErrNotPlayer
		}
		if normalizeCode(code) != cp.DisarmedCode {
			return nil, ErrBadCode
		}
		username = p.Username
		g.stats[userID].Disarms++
	}
	cp.Bomb = nil
	cp.armedByUserID = ""
	g.record(TimelineEvent{Type: "bombDisarmed", ControlPointID: cp.ID, UserID: userID, Username: username})
	return cp, nil
}

// ReportPosition stores a player's GPS fix for position challenges and
// the owner's live map.
func (g *Game) ReportPosition(userID string, lat, lon, accuracy float64, now time.Time) (*Player, error) {
	p, ok := g.byUser[userID]
	if !ok {
		return nil, ErrNotPlayer
	}
	g.location[userID] = Position{Latitude: lat, Longitude: lon, Accuracy: accuracy, Reported: now}
	return p, nil
}

// ---------------------------------------------------------------------------
// Tick

// TickDelta is everything one authoritative second changed, for fan-out.
type TickDelta struct {
	Applied     bool
	HoldTimes   []ControlPointTime
	BombUpdates []BombTimerView
	Positions   []PositionChallengeUpdate
	Captures    []CaptureEvent
	GameTime    GameTimeView
	Finished    bool
}

// PositionChallengeUpdate carries a control point's per-team presence
// totals after an accrual tick.
type PositionChallengeUpdate struct {
	ControlPointID string       `json:"controlPointId"`
	TeamPoints     map[Team]int `json:"teamPoints"`
}

// CaptureEvent reports an ownership change produced by a tick (position
// challenge leadership).
type CaptureEvent struct {
	ControlPointID string `json:"controlPointId"`
	Team           Team   `json:"team"`
}

// Tick advances the game by exactly one authoritative second. It is a
// no-op unless the game is running; the caller reads the result under the
// same lock that serializes commands, so a tick can never race a pause.
func (g *Game) Tick(now time.Time, staleAfter time.Duration) TickDelta {
	var d TickDelta
	if g.status != StatusRunning {
		return d
	}
	d.Applied = true
	g.playedTime++

	// Hold timers: one second per owned point.
	for _, cp := range g.points {
		if cp.OwnedBy != TeamNone {
			cp.HoldTime++
			cp.teamHold[cp.OwnedBy]++
		}
		d.HoldTimes = append(d.HoldTimes, cp.timeView())
	}

	// Bomb countdowns.
	for _, cp := range g.points {
		if cp.Bomb == nil || !cp.Bomb.Active {
			continue
		}
		cp.Bomb.Remaining--
		if cp.Bomb.Remaining > 0 {
			d.BombUpdates = append(d.BombUpdates, BombTimerView{
				ControlPointID: cp.ID,
				IsActive:       true,
				RemainingTime:  cp.Bomb.Remaining,
				ActivatedBy:    cp.Bomb.ActivatedBy,
			})
			continue
		}
		// Reached zero: the bomb explodes, credited to the arming player.
		if st, ok := g.stats[cp.armedByUserID]; ok {
			st.Explosions++
		}
		g.record(TimelineEvent{Type: "bombExploded", ControlPointID: cp.ID, UserID: cp.armedByUserID, Username: cp.Bomb.ActivatedBy})
		d.BombUpdates = append(d.BombUpdates, BombTimerView{
			ControlPointID: cp.ID,
			IsActive:       false,
			RemainingTime:  0,
			ActivatedBy:    cp.Bomb.ActivatedBy,
			Exploded:       true,
		})
		cp.Bomb = nil
		cp.armedByUserID = ""
	}

	// Position challenge accrual: one point per qualifying player per
	// second. The team with the strictly highest total holds the point.
	for _, cp := range g.points {
		if !cp.HasPositionChallenge || cp.MinDistance <= 0 {
			continue
		}
		accrued := false
		for _, p := range g.players {
			if p.Team == TeamNone {
				continue
			}
			pos, ok := g.location[p.UserID]
			if !ok || now.Sub(pos.Reported) > staleAfter {
				continue
			}
			if cp.MinAccuracy > 0 && pos.Accuracy > cp.MinAccuracy {
				continue
			}
			if geo.Distance(pos.Latitude, pos.Longitude, cp.Latitude, cp.Longitude) > cp.MinDistance {
				continue
			}
			cp.positionPoints[p.Team]++
			accrued = true
		}
		if !accrued {
			continue
		}
		if leader, ok := positionLeader(cp.positionPoints); ok && leader != cp.OwnedBy {
			cp.setOwner(leader)
			g.record(TimelineEvent{Type: "controlPointCaptured", ControlPointID: cp.ID, Team: leader})
			d.Captures = append(d.Captures, CaptureEvent{ControlPointID: cp.ID, Team: leader})
		}
		pts := make(map[Team]int, len(cp.positionPoints))
		for t, v := range cp.positionPoints {
			pts[t] = v
		}
		d.Positions = append(d.Positions, PositionChallengeUpdate{ControlPointID: cp.ID, TeamPoints: pts})
	}

	// Countdown. Paused seconds never reach this point, so only running
	// time counts against the limit.
	if g.totalTime > 0 && g.playedTime >= g.totalTime {
		g.finish(now)
		d.Finished = true
	}
	d.GameTime = g.GameTime()
	return d
}

// positionLeader returns the team with the strictly highest total.
// A tie yields no leader, so ownership stays put.
func positionLeader(points map[Team]int) (Team, bool) {
	var leader Team
	best, tied := -1, false
	for t, v := range points {
		switch {
		case v > best:
			leader, best, tied = t, v, false
		case v == best:
			tied = true
		}
	}
	if best <= 0 || tied {
		return TeamNone, false
	}
	return leader, true
}
