package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Headers set on every mirrored message. Consumers filter on ItemIDHeader
// without decoding the body.
const (
	EventTypeHeader = "Auction-Event"
	ItemIDHeader    = "Auction-Item-ID"
)

// JetStreamConfig describes the NATS connection and the archive stream
type JetStreamConfig struct {
	URL             string        `yaml:"url"`
	StreamName      string        `yaml:"stream_name"`
	SubjectPrefix   string        `yaml:"subject_prefix"`
	Storage         string        `yaml:"storage"` // file or memory
	MaxReconnects   int           `yaml:"max_reconnects"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxAge          time.Duration `yaml:"max_age"`
	MaxMsgs         int64         `yaml:"max_msgs"`
	Replicas        int           `yaml:"replicas"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "AUCTION_EVENTS",
		SubjectPrefix:   "auction.events",
		Storage:         "file",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// Subject returns the subject an event is published on
func (c JetStreamConfig) Subject(name events.Name) string {
	return fmt.Sprintf("%s.%s", c.SubjectPrefix, name)
}

// StreamConfig returns the stream that captures every auction subject
func (c JetStreamConfig) StreamConfig() (jetstream.StreamConfig, error) {
	storage := jetstream.FileStorage
	switch strings.ToLower(c.Storage) {
	case "", "file":
	case "memory":
		storage = jetstream.MemoryStorage
	default:
		return jetstream.StreamConfig{}, fmt.Errorf("unknown stream storage %q", c.Storage)
	}
	if c.StreamName == "" || c.SubjectPrefix == "" {
		return jetstream.StreamConfig{}, fmt.Errorf("stream name and subject prefix are required")
	}

	return jetstream.StreamConfig{
		Name:        c.StreamName,
		Description: "Auction item and user events",
		Subjects:    []string{c.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      c.MaxAge,
		MaxMsgs:     c.MaxMsgs,
		Storage:     storage,
		Replicas:    c.Replicas,
		Duplicates:  c.DuplicateWindow,
	}, nil
}

// Message encodes env for the stream. The event ID doubles as the JetStream
// dedup ID so a retried publish is stored once.
func (c JetStreamConfig) Message(env events.Envelope) (*nats.Msg, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", env.Event, err)
	}

	msg := nats.NewMsg(c.Subject(env.Event))
	msg.Data = data
	msg.Header.Set(EventTypeHeader, string(env.Event))
	msg.Header.Set(nats.MsgIdHdr, env.ID)
	if id, ok := itemID(env); ok {
		msg.Header.Set(ItemIDHeader, strconv.FormatInt(id, 10))
	}
	return msg, nil
}

func itemID(env events.Envelope) (int64, bool) {
	switch d := env.Data.(type) {
	case models.Item:
		return d.ID, true
	case events.ItemSoldPayload:
		return d.ItemID, true
	case events.ItemRemovedPayload:
		return d.ItemID, true
	default:
		return 0, false
	}
}

// JetStreamPublisher archives auction events in a JetStream stream
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	sc, err := cfg.StreamConfig()
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("auctionhouse"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("event mirror lost NATS connection")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("event mirror reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, sc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", sc.Name, err)
	}
	log.Info().
		Str("stream", stream.CachedInfo().Config.Name).
		Strs("subjects", sc.Subjects).
		Msg("event mirror stream ready")

	return &JetStreamPublisher{nc: nc, js: js, config: cfg}, nil
}

// Publish stores env and waits for the stream's ack
func (p *JetStreamPublisher) Publish(ctx context.Context, env events.Envelope) error {
	msg, err := p.config.Message(env)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg, jetstream.WithExpectStream(p.config.StreamName))
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if ack.Duplicate {
		log.Debug().Str("event_id", env.ID).Msg("event already mirrored")
		return nil
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("event_id", env.ID).
		Uint64("sequence", ack.Sequence).
		Msg("mirrored event")
	return nil
}

// Close drains pending publishes before closing the connection
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
