package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/auction/gateway"
	"github.com/mcdev12/auctionhouse/go/internal/auction/mirror"
	"github.com/mcdev12/auctionhouse/go/internal/auth"
	"github.com/mcdev12/auctionhouse/go/internal/dbconfig"
	"github.com/mcdev12/auctionhouse/go/internal/items"
	"github.com/mcdev12/auctionhouse/go/internal/metrics"
	"github.com/mcdev12/auctionhouse/go/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// itemStore is what both the engine and the items app need
type itemStore interface {
	auction.Store
	items.ItemsRepository
}

// userStore is a user repository that can also hold presence
type userStore interface {
	users.UsersRepository
	users.PresenceStore
}

type Services struct {
	Engine   *auction.Engine
	Gateway  *gateway.Service
	Items    *items.Service
	Users    *users.Service
	Metrics  *metrics.PrometheusMetrics
	Listener *items.Listener
	Mirror   *mirror.Mirror

	closers []func() error
}

// Close releases external connections in reverse setup order
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("failed to close resource")
		}
	}
}

func setupServices(ctx context.Context, config *Config, pool *pgxpool.Pool, dbCfg dbconfig.Config, secret []byte) (*Services, error) {
	// Wire up dependency injection chain
	// Store layer → Engine → App layer → Service layer
	services := &Services{Metrics: metrics.NewPrometheusMetrics()}

	var (
		store    itemStore
		userRepo userStore
	)
	if pool != nil {
		store = items.NewRepository(pool)
		userRepo = users.NewRepository(pool)
	} else {
		log.Warn().Msg("no database configured, using in-memory stores")
		store = items.NewMemoryStore()
		userRepo = users.NewMemoryRepository()
	}

	var presence users.PresenceStore = userRepo
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		services.closers = append(services.closers, rdb.Close)
		presence = users.NewRedisPresence(rdb)
		log.Info().Str("addr", addr).Msg("presence stored in Redis")
	}

	// Event fan-out: connected clients first, then the JetStream mirror
	hub := gateway.NewConnectionManager(config.Gateway.Connection, store)
	hub.SetMetrics(services.Metrics)
	broadcaster := auction.Fanout{hub}

	if config.JetStream.URL != "" {
		publisher, err := mirror.NewJetStreamPublisher(ctx, config.JetStream)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		services.closers = append(services.closers, publisher.Close)
		services.Mirror = mirror.New(publisher, config.Mirror)
		services.Mirror.SetMetrics(services.Metrics)
		broadcaster = append(broadcaster, services.Mirror)
		log.Info().Str("url", config.JetStream.URL).Str("stream", config.JetStream.StreamName).Msg("mirroring events to JetStream")
	}

	verifier, err := auth.NewJWTVerifier(auth.Config{
		Secret: secret,
		Issuer: config.Auth.Issuer,
		TTL:    config.Auth.TokenTTL,
	})
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	// Engine
	services.Engine = auction.NewEngine(store, broadcaster, config.Auction, auction.WithMetrics(services.Metrics))

	// Users
	usersApp := users.NewApp(userRepo, presence, verifier, broadcaster)
	services.Users = users.NewService(usersApp, verifier)

	// Gateway
	services.Gateway = gateway.NewService(config.Gateway, hub, services.Engine, verifier, usersApp)
	services.Gateway.SetEventSink(broadcaster)

	// Items
	itemsApp := items.NewApp(store, services.Engine, broadcaster)
	services.Items = items.NewService(itemsApp, verifier)

	if pool != nil && config.Listener.Enabled {
		listenerCfg := items.DefaultListenerConfig()
		listenerCfg.DatabaseURL = dbCfg.DSN()
		listenerCfg.NotifyChannel = config.Listener.NotifyChannel
		listenerCfg.FallbackInterval = config.Listener.FallbackInterval
		services.Listener, err = items.NewListener(store, itemsApp, listenerCfg)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to create item listener: %w", err)
		}
	}

	return services, nil
}
