// Package httpserver exposes the HTTP surface of the chat server: the
// websocket handshake, the user-details lookup and a liveness probe.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/auth"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const healthTimeout = 2 * time.Second

// Verifier resolves a bearer token to a user.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

// Sessions runs an upgraded websocket until it closes.
type Sessions interface {
	ServeConn(ctx context.Context, ws *websocket.Conn, token string)
}

// Pinger reports whether the store is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	verifier Verifier
	sessions Sessions
	store    Pinger
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewHandler(verifier Verifier, sessions Sessions, store Pinger, allowedOrigins []string, logger logging.Logger) *Handler {
	return &Handler{
		verifier: verifier,
		sessions: sessions,
		store:    store,
		upgrader: createUpgrader(allowedOrigins),
		logger:   logger.With("module", "http"),
	}
}

// createUpgrader accepts handshakes from the configured origins. Requests
// without an Origin header come from non-browser clients and are allowed.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedMap["*"] || allowedMap[origin]
		},
	}
}

// SetupRouter registers every route on a fresh router.
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/user-details", h.HandleUserDetails).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
	return r
}

// requestToken prefers the Authorization header and falls back to the
// token query parameter used by browsers.
func requestToken(r *http.Request) string {
	if v := r.Header.Get(common.AuthorizationHeaderName); v != "" {
		return auth.TokenFromHeader(v)
	}
	return r.URL.Query().Get(common.TokenQueryParam)
}

// HandleWebSocket handles GET /ws. Authentication happens after the upgrade
// so a rejected client receives a close code instead of an HTTP error.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}
	h.sessions.ServeConn(r.Context(), ws, requestToken(r))
}

type userDetailsResponse struct {
	Message string       `json:"message"`
	Success bool         `json:"success,omitempty"`
	Data    *models.User `json:"data,omitempty"`
	Logout  bool         `json:"logout,omitempty"`
	Error   bool         `json:"error,omitempty"`
}

// HandleUserDetails handles GET /api/v1/user-details.
func (h *Handler) HandleUserDetails(w http.ResponseWriter, r *http.Request) {
	user, err := h.verifier.Verify(r.Context(), requestToken(r))
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, userDetailsResponse{
				Message: "Unauthorized access. Please login again.",
				Logout:  true,
				Error:   true,
			})
			return
		}
		h.logger.Error(r.Context(), "user details lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, userDetailsResponse{
			Message: "Internal server error.",
			Error:   true,
		})
		return
	}

	writeJSON(w, http.StatusOK, userDetailsResponse{
		Message: "User details fetched successfully",
		Success: true,
		Data:    user,
	})
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.PingContext(ctx); err != nil {
		h.logger.Warn(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
