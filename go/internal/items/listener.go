package items

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ListenerConfig configures the Postgres LISTEN/NOTIFY item listener
type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to resync for missed notifications
	PingInterval     time.Duration
	MinReconnect     time.Duration
	MaxReconnect     time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "auction_items",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		MinReconnect:     10 * time.Second,
		MaxReconnect:     time.Minute,
	}
}

// Announcer registers items with the engine; *App implements it
type Announcer interface {
	Announce(ctx context.Context, item models.Item) error
	Sync(ctx context.Context) error
}

// Listener picks up items inserted by other processes. The insert trigger
// notifies the new item id on NotifyChannel.
type Listener struct {
	listener *pq.Listener
	repo     ItemsRepository
	app      Announcer
	cfg      ListenerConfig
}

func NewListener(repo ItemsRepository, app Announcer, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("item listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for item notifications")

	return &Listener{
		listener: l,
		repo:     repo,
		app:      app,
		cfg:      cfg,
	}, nil
}

// Start consumes notifications until ctx is cancelled, then closes the
// connection.
func (l *Listener) Start(ctx context.Context) error {
	l.run(ctx, l.listener.Notify, l.listener.Ping)
	log.Info().Msg("item listener shutting down")
	return l.Stop()
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

func (l *Listener) run(ctx context.Context, notify <-chan *pq.Notification, ping func() error) {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case note := <-notify:
			l.handle(ctx, note)
		case <-fallbackTicker.C:
			if err := l.app.Sync(ctx); err != nil {
				log.Error().Err(err).Msg("failed to resync items")
			}
		case <-pingTicker.C:
			if err := ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) handle(ctx context.Context, note *pq.Notification) {
	if note == nil {
		// connection was re-established; notifications may have been missed
		if err := l.app.Sync(ctx); err != nil {
			log.Error().Err(err).Msg("failed to resync items after reconnect")
		}
		return
	}
	if err := l.handleNotification(ctx, note.Extra); err != nil {
		log.Error().Err(err).Str("payload", note.Extra).Msg("failed to handle item notification")
	}
}

func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := strconv.ParseInt(extra, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item ID in notification: %w", err)
	}

	item, err := l.repo.FindItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch item: %w", err)
	}

	return l.app.Announce(ctx, *item)
}
