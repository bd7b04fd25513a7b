package mirror

import (
	"context"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// EventPublisher delivers one event downstream
type EventPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// MetricsCollector defines the mirror metrics hooks
type MetricsCollector interface {
	RecordMirrored(event string, success bool, duration time.Duration)
	RecordMirrorDropped(event string)
}

type noOpMetrics struct{}

func (noOpMetrics) RecordMirrored(string, bool, time.Duration) {}
func (noOpMetrics) RecordMirrorDropped(string)                 {}

// Config tunes the mirror queue
type Config struct {
	QueueSize      int           `yaml:"queue_size"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

func DefaultConfig() Config {
	return Config{
		QueueSize:      1024,
		PublishTimeout: 5 * time.Second,
	}
}

// Mirror copies broadcast events to an EventPublisher on its own goroutine.
// Publish never blocks: when the queue is full the event is dropped.
type Mirror struct {
	publisher EventPublisher
	queue     chan events.Envelope
	config    Config
	metrics   MetricsCollector
}

func New(publisher EventPublisher, config Config) *Mirror {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Mirror{
		publisher: publisher,
		queue:     make(chan events.Envelope, config.QueueSize),
		config:    config,
		metrics:   noOpMetrics{},
	}
}

// SetMetrics sets the metrics collector. Call before Run.
func (m *Mirror) SetMetrics(metrics MetricsCollector) {
	m.metrics = metrics
}

// Publish implements auction.Broadcaster
func (m *Mirror) Publish(_ context.Context, env events.Envelope) {
	select {
	case m.queue <- env:
	default:
		m.metrics.RecordMirrorDropped(string(env.Event))
		log.Warn().Str("event", string(env.Event)).Str("event_id", env.ID).Msg("mirror queue full, dropping event")
	}
}

// Run publishes queued events until ctx is done
func (m *Mirror) Run(ctx context.Context) {
	log.Info().Msg("event mirror started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("pending", len(m.queue)).Msg("event mirror stopped")
			return
		case env := <-m.queue:
			m.publish(ctx, env)
		}
	}
}

func (m *Mirror) publish(ctx context.Context, env events.Envelope) {
	pctx, cancel := context.WithTimeout(ctx, m.config.PublishTimeout)
	defer cancel()

	start := time.Now()
	err := m.publisher.Publish(pctx, env)
	m.metrics.RecordMirrored(string(env.Event), err == nil, time.Since(start))
	if err != nil {
		log.Error().Err(err).Str("event", string(env.Event)).Str("event_id", env.ID).Msg("failed to mirror event")
	}
}
