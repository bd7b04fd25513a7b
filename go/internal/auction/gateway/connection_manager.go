package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ItemLister provides the snapshot sent to new connections
type ItemLister interface {
	ListItems(ctx context.Context) ([]*models.Item, error)
}

// Metrics defines the gateway metrics hooks
type Metrics interface {
	SetConnections(n int)
	RecordEviction(reason string)
}

type noOpMetrics struct{}

func (noOpMetrics) SetConnections(int)    {}
func (noOpMetrics) RecordEviction(string) {}

// ConnectionManager binds identities to their live WebSocket connection and
// fans events out to every bound connection. It implements auction.Broadcaster.
type ConnectionManager struct {
	// one connection per identity, newest wins
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	lister   ItemLister
	metrics  Metrics

	// called when a bound connection goes away, never for a replaced one
	onDisconnect func(identity string)

	broadcastCh chan BroadcastMessage
	done        chan struct{}
	stopOnce    sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"`
	BroadcastBuffer int           `yaml:"broadcast_buffer"`
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`

	// SnapshotInterval re-sends items:update to everyone on this period so
	// clients that only render snapshots see the countdown. Zero disables it.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	CheckOrigin func(r *http.Request) bool `yaml:"-"`
}

// BroadcastMessage is one unit of work for the hub goroutine. Target limits
// delivery to a single connection; Snapshot asks for the item list to be read
// and sent to Target.
type BroadcastMessage struct {
	Event    *events.Envelope
	Target   *Connection
	Snapshot bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 1000,
		SnapshotTimeout: 5 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, lister ItemLister) *ConnectionManager {
	def := DefaultConnectionConfig()
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = def.SendBufferSize
	}
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = def.BroadcastBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.SnapshotTimeout <= 0 {
		config.SnapshotTimeout = def.SnapshotTimeout
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = def.CheckOrigin
	}

	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:       config,
		lister:       lister,
		metrics:      noOpMetrics{},
		onDisconnect: func(string) {},
		broadcastCh:  make(chan BroadcastMessage, config.BroadcastBuffer),
		done:         make(chan struct{}),
	}
}

// SetMetrics sets the metrics collector. Call before Start.
func (cm *ConnectionManager) SetMetrics(m Metrics) {
	cm.metrics = m
}

// OnDisconnect sets the hook run after a bound connection goes away.
// Call before Start.
func (cm *ConnectionManager) OnDisconnect(fn func(identity string)) {
	cm.onDisconnect = fn
}

// Start processes broadcast messages until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	defer cm.stop()

	var refresh <-chan time.Time
	if cm.config.SnapshotInterval > 0 {
		ticker := time.NewTicker(cm.config.SnapshotInterval)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(ctx, message)
		case <-refresh:
			cm.mu.RLock()
			n := len(cm.connections)
			cm.mu.RUnlock()
			if n > 0 {
				cm.sendSnapshot(ctx, nil)
			}
		}
	}
}

func (cm *ConnectionManager) stop() {
	cm.stopOnce.Do(func() {
		close(cm.done)

		cm.mu.Lock()
		conns := make([]*Connection, 0, len(cm.connections))
		for identity, conn := range cm.connections {
			delete(cm.connections, identity)
			close(conn.Send)
			conns = append(conns, conn)
		}
		cm.mu.Unlock()

		for _, conn := range conns {
			conn.Conn.Close()
		}
		cm.metrics.SetConnections(0)
	})
}

// Publish queues env for every bound connection. Calls are delivered in
// order; Publish waits for queue space rather than dropping.
func (cm *ConnectionManager) Publish(ctx context.Context, env events.Envelope) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Event: &env}:
	case <-cm.done:
	case <-ctx.Done():
		log.Warn().Str("event", string(env.Event)).Err(ctx.Err()).Msg("broadcast abandoned")
	}
}

// SendTo queues env for a single connection, behind anything already queued.
func (cm *ConnectionManager) SendTo(ctx context.Context, conn *Connection, env events.Envelope) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Event: &env, Target: conn}:
	case <-cm.done:
	case <-ctx.Done():
	}
}

// UpgradeConnection upgrades an already authorized request and binds the
// connection to identity.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, identity string, d Dispatcher) (*Connection, error) {
	select {
	case <-cm.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return nil, errShuttingDown
	default:
	}

	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		ID:          uuid.New().String(),
		Identity:    identity,
		Conn:        ws,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		dispatcher:  d,
		ctx:         ctx,
		cancel:      cancel,
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	// read on the hub goroutine so the snapshot is ordered with broadcasts
	select {
	case cm.broadcastCh <- BroadcastMessage{Target: connection, Snapshot: true}:
	case <-cm.done:
	}

	log.Info().
		Str("connection_id", connection.ID).
		Str("identity", identity).
		Msg("WebSocket connection established")
	return connection, nil
}

// registerConnection binds conn to its identity, evicting the previous
// connection for that identity without running the disconnect hook.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	prev, replaced := cm.connections[conn.Identity]
	if replaced {
		close(prev.Send)
	}
	cm.connections[conn.Identity] = conn
	total := len(cm.connections)
	cm.mu.Unlock()

	if replaced {
		prev.Conn.Close()
		cm.metrics.RecordEviction("replaced")
		log.Info().
			Str("identity", conn.Identity).
			Str("old_connection_id", prev.ID).
			Str("connection_id", conn.ID).
			Msg("connection replaced by newer login")
	}
	cm.metrics.SetConnections(total)

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes conn if it is still the bound connection for
// its identity and reports whether it was.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	cur, ok := cm.connections[conn.Identity]
	if !ok || cur != conn {
		cm.mu.Unlock()
		return false
	}
	delete(cm.connections, conn.Identity)
	close(conn.Send)
	total := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.SetConnections(total)
	log.Info().
		Str("connection_id", conn.ID).
		Str("identity", conn.Identity).
		Msg("connection unregistered")
	return true
}

// disconnect unbinds conn and runs the disconnect hook if it was bound.
func (cm *ConnectionManager) disconnect(conn *Connection) {
	if !cm.unregisterConnection(conn) {
		return
	}
	go cm.onDisconnect(conn.Identity)
}

// Bound returns the connection currently bound to identity
func (cm *ConnectionManager) Bound(identity string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	conn, ok := cm.connections[identity]
	return conn, ok
}

func (cm *ConnectionManager) handleBroadcast(ctx context.Context, message BroadcastMessage) {
	if message.Snapshot {
		cm.sendSnapshot(ctx, message.Target)
		return
	}

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Str("event", string(message.Event.Event)).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	delivered := 0

	// sends happen under the read lock so no Send channel is closed mid-send
	cm.mu.RLock()
	if message.Target != nil {
		if cur, ok := cm.connections[message.Target.Identity]; ok && cur == message.Target {
			if cm.trySend(cur, data) {
				delivered++
			} else {
				slow = append(slow, cur)
			}
		}
	} else {
		for _, conn := range cm.connections {
			if cm.trySend(conn, data) {
				delivered++
			} else {
				slow = append(slow, conn)
			}
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("identity", conn.Identity).
			Msg("connection send buffer full, closing connection")
		cm.metrics.RecordEviction("slow")
		cm.disconnect(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event", string(message.Event.Event)).
		Int("connections", delivered).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) trySend(conn *Connection, data []byte) bool {
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

// sendSnapshot sends the item list to conn, or to everyone when conn is nil.
func (cm *ConnectionManager) sendSnapshot(ctx context.Context, conn *Connection) {
	sctx, cancel := context.WithTimeout(ctx, cm.config.SnapshotTimeout)
	defer cancel()

	all, err := cm.lister.ListItems(sctx)
	if err != nil {
		log.Error().Err(err).Bool("broadcast", conn == nil).Msg("failed to load item snapshot")
		return
	}
	env := events.ItemsSnapshot(all)
	cm.handleBroadcast(ctx, BroadcastMessage{Event: &env, Target: conn})
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	users := make([]string, 0, len(cm.connections))
	for identity := range cm.connections {
		users = append(users, identity)
	}
	sort.Strings(users)

	return ConnectionStats{
		TotalConnections: len(users),
		ConnectedUsers:   users,
	}
}

// ConnectionStats is served on /ws/stats
type ConnectionStats struct {
	TotalConnections int      `json:"total_connections"`
	ConnectedUsers   []string `json:"connected_users"`
}
