package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/seyacat/milsim-sub000/internal/session"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed.
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP.
	MaxWSConnectionsPerIP = 10

	wsReadTimeout   = 60 * time.Second // Read deadline for client frames
	wsPingInterval  = 54 * time.Second // Must be less than wsReadTimeout
	wsWriteTimeout  = 10 * time.Second
	wsSendQueueSize = 256
)

// wsClient is one authenticated socket, possibly joined to a game room.
type wsClient struct {
	conn     *websocket.Conn
	ip       string
	userID   string
	username string
	gameID   string // room currently joined, "" if none
	send     chan []byte
}

// roomMessage is one frame bound for every member of a game room.
type roomMessage struct {
	gameID  string
	payload []byte
}

// Hub manages all WebSocket connections and game rooms, and implements
// session.Broadcaster so the registry can fan state deltas out to rooms.
type Hub struct {
	registry *session.Registry
	tokens   *TokenManager
	origins  *OriginChecker
	log      zerolog.Logger

	clients map[*wsClient]bool
	rooms   map[string]map[*wsClient]bool

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan roomMessage
	tasks      chan func()

	wsLimiter *WebSocketRateLimiter
	upgrader  websocket.Upgrader

	// total is maintained with atomics because the connect-time limit
	// check runs on HTTP handler goroutines, not the Run loop.
	total atomic.Int64
}

// NewHub creates a hub. Run must be started before HandleWebSocket is
// reachable.
func NewHub(registry *session.Registry, tokens *TokenManager, origins *OriginChecker, log zerolog.Logger) *Hub {
	h := &Hub{
		registry:   registry,
		tokens:     tokens,
		origins:    origins,
		log:        log.With().Str("service", "ws").Logger(),
		clients:    make(map[*wsClient]bool),
		rooms:      make(map[string]map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan roomMessage, 256),
		tasks:      make(chan func()),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			h.log.Warn().Str("origin", origin).Msg("websocket connection rejected by origin check")
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run serializes all membership and fan-out through one goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.total.Store(int64(len(h.clients)))
			h.log.Info().Str("ip", c.ip).Str("user", c.username).Int("total", len(h.clients)).Msg("client connected")
			UpdateWSConnections(len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			h.leaveRoom(c)
			h.wsLimiter.Release(c.ip)
			delete(h.clients, c)
			h.total.Store(int64(len(h.clients)))
			close(c.send)
			h.log.Info().Str("user", c.username).Int("total", len(h.clients)).Msg("client disconnected")
			UpdateWSConnections(len(h.clients))

		case msg := <-h.broadcast:
			for c := range h.rooms[msg.gameID] {
				select {
				case c.send <- msg.payload:
				default:
					// Slow consumer: drop the frame rather than block
					// every other room member. The client resyncs from
					// the next authoritative push.
				}
			}
			IncrementWSMessages()

		case fn := <-h.tasks:
			fn()
		}
	}
}

// Broadcast implements session.Broadcaster.
func (h *Hub) Broadcast(gameID, event string, data any) {
	payload, err := encodeFrame(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode broadcast")
		return
	}
	select {
	case h.broadcast <- roomMessage{gameID: gameID, payload: payload}:
	default:
		// Channel full, skip (backpressure)
	}
}

// joinRoom moves the client into a game room. Only the Run goroutine
// touches the membership maps; readPump reaches it through withRun.
func (h *Hub) joinRoom(c *wsClient, gameID string) {
	if c.gameID == gameID {
		return
	}
	h.leaveRoom(c)
	room := h.rooms[gameID]
	if room == nil {
		room = make(map[*wsClient]bool)
		h.rooms[gameID] = room
	}
	room[c] = true
	c.gameID = gameID
	h.registry.Connected(gameID, +1)
}

func (h *Hub) leaveRoom(c *wsClient) {
	if c.gameID == "" {
		return
	}
	if room, ok := h.rooms[c.gameID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.gameID)
		}
	}
	h.registry.Connected(c.gameID, -1)
	c.gameID = ""
}

// HandleWebSocket authenticates, applies connection limits and upgrades.
// The token is passed at connect time as a query parameter because
// browsers cannot set headers on WebSocket dials.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	claims, err := h.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		RecordConnectionRejected("auth")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if h.total.Load() >= MaxWSConnectionsTotal {
		h.log.Warn().Int64("total", h.total.Load()).Msg("websocket connection rejected: total limit")
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		h.log.Warn().Str("ip", ip).Int("connections", h.wsLimiter.GetConnectionCount(ip)).Msg("websocket connection rejected: per-IP limit")
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		h.wsLimiter.Release(ip)
		return
	}

	c := &wsClient{
		conn:     conn,
		ip:       ip,
		userID:   claims.Subject,
		username: claims.Username,
		send:     make(chan []byte, wsSendQueueSize),
	}
	h.register <- c

	go c.writePump()
	go h.readPump(c)
}

// readPump handles client frames until the socket drops.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(16 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendError(c, "", "malformed frame")
			continue
		}

		switch frame.Event {
		case clientJoinGame:
			var p joinGamePayload
			if err := json.Unmarshal(frame.Data, &p); err != nil || p.GameID == "" {
				h.sendError(c, clientJoinGame, "gameId required")
				continue
			}
			h.handleJoin(c, p.GameID)

		case clientLeaveGame:
			h.withRun(func() { h.leaveRoom(c) })

		case clientGameAction:
			var env gameActionEnvelope
			if err := json.Unmarshal(frame.Data, &env); err != nil || env.Action == "" {
				h.sendError(c, "", "malformed gameAction envelope")
				continue
			}
			gameID := env.GameID
			if gameID == "" {
				gameID = c.gameID
			}
			reply, err := h.registry.Dispatch(gameID, c.userID, env.Action, env.Data)
			RecordAction(metricActionLabel(env.Action), err)
			if err != nil {
				h.sendError(c, env.Action, err.Error())
				continue
			}
			if reply != nil {
				h.sendTo(c, reply.Name, reply.Data)
			}

		default:
			h.sendError(c, frame.Event, "unknown event")
		}
	}
}

// handleJoin validates room membership against the registry and replies
// with the authoritative snapshot so reconnecting clients can discard any
// stale local mirror.
func (h *Hub) handleJoin(c *wsClient, gameID string) {
	member, err := h.registry.IsMember(gameID, c.userID)
	if err != nil {
		h.sendError(c, clientJoinGame, "game not found")
		return
	}
	if !member {
		h.sendError(c, clientJoinGame, "join the game before connecting to its room")
		return
	}
	h.withRun(func() { h.joinRoom(c, gameID) })
	view, err := h.registry.Snapshot(gameID)
	if err != nil {
		return
	}
	h.sendTo(c, session.EvGameState, view)
}

// withRun executes a room-membership mutation on the Run goroutine and
// waits for it to apply.
func (h *Hub) withRun(fn func()) {
	done := make(chan struct{})
	h.tasks <- func() {
		fn()
		close(done)
	}
	<-done
}

func (h *Hub) sendTo(c *wsClient, event string, data any) {
	payload, err := encodeFrame(event, data)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (h *Hub) sendError(c *wsClient, action, msg string) {
	h.sendTo(c, session.EvGameActionError, GameActionError{Action: action, Error: msg})
}

// writePump flushes queued frames and keeps the connection alive with
// pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
