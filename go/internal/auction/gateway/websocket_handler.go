package gateway

import (
	"net/http"

	"github.com/mcdev12/auctionhouse/go/internal/auth"
	"github.com/mcdev12/auctionhouse/go/internal/httputil"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler authorizes and upgrades auction connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          auth.IdentityVerifier
	dispatcher        Dispatcher
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, verifier auth.IdentityVerifier, d Dispatcher) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
		dispatcher:        d,
	}
}

// HandleConnection verifies the token before upgrading; a rejected handshake
// never binds an identity.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket authentication failed")
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}

	// on failure the upgrader has already written the HTTP error
	if _, err := h.connectionManager.UpgradeConnection(w, r, identity, h.dispatcher); err != nil {
		log.Error().
			Err(err).
			Str("identity", identity).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.HandleConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
