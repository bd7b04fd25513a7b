package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/auth"
	"github.com/rs/zerolog/log"
)

// UserStore records login state
type UserStore interface {
	SetUserLoggedIn(ctx context.Context, username string, loggedIn bool) error
}

// Config holds configuration for the auction gateway
type Config struct {
	Connection      ConnectionConfig `yaml:"connection"`
	DisconnectGrace time.Duration    `yaml:"disconnect_timeout"`
}

// DefaultConfig returns default configuration for the auction gateway
func DefaultConfig() Config {
	return Config{
		Connection:      DefaultConnectionConfig(),
		DisconnectGrace: 5 * time.Second,
	}
}

// Service owns the connection manager and the WebSocket routes
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	users             UserStore
	events            auction.Broadcaster
	config            Config
}

// NewService creates a new auction gateway service around cm, which is
// usually also the engine's broadcaster.
func NewService(config Config, cm *ConnectionManager, engine Bidder, verifier auth.IdentityVerifier, users UserStore) *Service {
	if config.DisconnectGrace <= 0 {
		config.DisconnectGrace = DefaultConfig().DisconnectGrace
	}

	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, verifier, NewAuctionDispatcher(engine)),
		users:             users,
		events:            cm,
		config:            config,
	}
	cm.OnDisconnect(s.handleDisconnect)
	return s
}

// SetEventSink routes user:left through b instead of the connection manager
// alone. Call before Start.
func (s *Service) SetEventSink(b auction.Broadcaster) {
	s.events = b
}

// Start runs the hub until ctx is done
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting auction gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("auction gateway stopped")
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("auction gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

func (s *Service) handleDisconnect(identity string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DisconnectGrace)
	defer cancel()

	if s.users != nil {
		if err := s.users.SetUserLoggedIn(ctx, identity, false); err != nil {
			log.Error().Err(err).Str("identity", identity).Msg("failed to mark user logged out")
		}
	}
	s.events.Publish(ctx, events.Left(identity))
	log.Info().Str("identity", identity).Msg("user disconnected")
}
