package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/seyacat/milsim-sub000/internal/game"
	"github.com/seyacat/milsim-sub000/internal/session"
	"github.com/seyacat/milsim-sub000/internal/store"
)

// Handler methods for routerHandlers.
// These are used by both the standalone router (for testing) and the full Server.

type routerHandlers struct {
	registry *session.Registry
	store    *store.Store
	tokens   *TokenManager
	log      zerolog.Logger
}

// --- auth ---

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (h *routerHandlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.Username) < 3 || len(req.Password) < 6 {
		writeError(w, "username must be at least 3 characters and password at least 6", http.StatusBadRequest)
		return
	}

	u, err := h.store.CreateUser(req.Username, req.Password)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, "username already taken", http.StatusConflict)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("register failed")
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.issueToken(w, u, http.StatusCreated)
}

func (h *routerHandlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}

	u, err := h.store.Authenticate(req.Username, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("login failed")
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.issueToken(w, u, http.StatusOK)
}

func (h *routerHandlers) issueToken(w http.ResponseWriter, u *store.User, code int) {
	token, err := h.tokens.Issue(u.ID, u.Username)
	if err != nil {
		h.log.Error().Err(err).Msg("token issue failed")
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Authorization", "Bearer "+token)
	writeJSONStatus(w, code, authResponse{Token: token, UserID: u.ID, Username: u.Username})
}

// --- games ---

type createGameRequest struct {
	Name      string `json:"name"`
	TeamCount int    `json:"teamCount"`
	TotalTime int    `json:"totalTime"`
}

func (h *routerHandlers) handleListGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.registry.List())
}

func (h *routerHandlers) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	view, err := h.registry.CreateGame(userID, username, game.Settings{
		Name:      req.Name,
		TeamCount: req.TeamCount,
		TotalTime: req.TotalTime,
	})
	if err != nil {
		writeGameError(w, err)
		return
	}
	UpdateGamesActive(len(h.registry.List()))

	writeJSONStatus(w, http.StatusCreated, view)
}

func (h *routerHandlers) handleGetGame(w http.ResponseWriter, r *http.Request) {
	view, err := h.registry.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, view)
}

type patchGameRequest struct {
	TotalTime *int `json:"totalTime"`
	TeamCount *int `json:"teamCount"`
}

// handlePatchGame routes settings updates through Dispatch so REST and
// WebSocket changes share one validation path and one broadcast path.
func (h *routerHandlers) handlePatchGame(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := UserFromContext(r.Context())
	gameID := chi.URLParam(r, "id")

	var req patchGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}

	if req.TotalTime != nil {
		data, _ := json.Marshal(map[string]int{"totalTime": *req.TotalTime})
		if _, err := h.registry.Dispatch(gameID, userID, session.ActionUpdateGameTime, data); err != nil {
			writeGameError(w, err)
			return
		}
	}
	if req.TeamCount != nil {
		data, _ := json.Marshal(map[string]int{"teamCount": *req.TeamCount})
		if _, err := h.registry.Dispatch(gameID, userID, session.ActionUpdateTeamCount, data); err != nil {
			writeGameError(w, err)
			return
		}
	}

	view, err := h.registry.Snapshot(gameID)
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, view)
}

func (h *routerHandlers) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := UserFromContext(r.Context())
	if err := h.registry.DeleteGame(chi.URLParam(r, "id"), userID); err != nil {
		writeGameError(w, err)
		return
	}
	UpdateGamesActive(len(h.registry.List()))
	w.WriteHeader(http.StatusNoContent)
}

// handleLifecycle maps the lifecycle endpoints onto game actions. Using
// Dispatch keeps the owner check, the transition rules and the room
// broadcast identical to the WebSocket path.
func (h *routerHandlers) handleLifecycle(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, _ := UserFromContext(r.Context())
		gameID := chi.URLParam(r, "id")

		var data json.RawMessage
		if r.Body != nil && r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
				writeError(w, "invalid request", http.StatusBadRequest)
				return
			}
		}

		_, err := h.registry.Dispatch(gameID, userID, action, data)
		RecordAction(action, err)
		if err != nil {
			writeGameError(w, err)
			return
		}

		view, err := h.registry.Snapshot(gameID)
		if err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, view)
	}
}

func (h *routerHandlers) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	userID, username, _ := UserFromContext(r.Context())
	view, err := h.registry.Join(chi.URLParam(r, "id"), userID, username)
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, view)
}

func (h *routerHandlers) handleLeaveGame(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := UserFromContext(r.Context())
	if err := h.registry.Leave(chi.URLParam(r, "id"), userID); err != nil {
		writeGameError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *routerHandlers) handleGetPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := h.registry.Players(chi.URLParam(r, "id"))
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, players)
}

func (h *routerHandlers) handleGetResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.registry.Results(chi.URLParam(r, "id"))
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, res)
}

// handleGetInstances returns every archived run of a game id, oldest
// first, so a restarted game's past rounds stay reachable.
func (h *routerHandlers) handleGetInstances(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.Instances(chi.URLParam(r, "id"))
	if err != nil {
		h.log.Error().Err(err).Msg("load instances failed")
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (h *routerHandlers) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := UserFromContext(r.Context())
	recs, err := h.store.History(userID)
	if err != nil {
		h.log.Error().Err(err).Msg("load history failed")
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeGameError maps domain errors onto HTTP status codes.
func writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrGameNotFound),
		errors.Is(err, game.ErrNotPlayer),
		errors.Is(err, game.ErrUnknownControlPoint):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, game.ErrNotOwner):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, game.ErrInvalidTransition),
		errors.Is(err, game.ErrDuplicateSite),
		errors.Is(err, game.ErrBombActive),
		errors.Is(err, game.ErrBombInactive),
		errors.Is(err, game.ErrNotFinished),
		errors.Is(err, session.ErrGameActive):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrGameLimit),
		errors.Is(err, game.ErrGameFull),
		errors.Is(err, game.ErrControlPointLimit):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusBadRequest)
	}
}
