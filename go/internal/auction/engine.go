package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Config holds engine tuning
type Config struct {
	StoreTimeout time.Duration `yaml:"store_timeout"`
	MailboxSize  int           `yaml:"mailbox_size"`
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		StoreTimeout: 5 * time.Second,
		MailboxSize:  64,
	}
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces the real clock, e.g. with clockwork.NewFakeClock in tests.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithMetrics sets the metrics collector
func WithMetrics(m MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine runs one worker per auction item plus the auction clock.
type Engine struct {
	store       Store
	broadcaster Broadcaster
	metrics     MetricsCollector
	clock       clockwork.Clock
	config      Config

	mu      sync.RWMutex
	workers map[int64]*itemWorker
	// ids removed while running; they are never tracked again
	removed map[int64]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates an auction engine. Call Start before submitting requests.
func NewEngine(store Store, broadcaster Broadcaster, config Config, opts ...Option) *Engine {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultConfig().StoreTimeout
	}
	if config.MailboxSize <= 0 {
		config.MailboxSize = DefaultConfig().MailboxSize
	}

	e := &Engine{
		store:       store,
		broadcaster: broadcaster,
		metrics:     NoOpMetricsCollector{},
		clock:       clockwork.NewRealClock(),
		config:      config,
		workers:     make(map[int64]*itemWorker),
		removed:     make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start loads every stored item, spawns its worker and starts the clock.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.ctx != nil {
		e.mu.Unlock()
		return errors.New("auction engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	runCtx := e.ctx
	e.mu.Unlock()

	lctx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	items, err := e.store.ListItems(lctx)
	if err != nil {
		e.cancel()
		return fmt.Errorf("load items: %w", err)
	}
	for _, item := range items {
		e.spawn(*item, true)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runClock(runCtx)
	}()

	log.Info().Int("items", len(items)).Msg("auction engine started")
	return nil
}

// Stop cancels every worker and the clock and waits for them to exit.
func (e *Engine) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	e.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	log.Info().Msg("auction engine stopped")
}

// Track registers an item created outside the engine and reports whether it
// still has to be announced. An item loaded on demand by an early request is
// announced by the first Track call; removed ids are ignored.
func (e *Engine) Track(item models.Item) (bool, error) {
	if err := e.running(); err != nil {
		return false, err
	}
	_, announce := e.spawn(item, true)
	return announce, nil
}

// SubmitBid places a bid of amount on behalf of identity.
func (e *Engine) SubmitBid(ctx context.Context, identity string, itemID int64, amount float64) (models.Item, error) {
	return e.do(ctx, itemID, command{kind: cmdBid, identity: identity, amount: amount})
}

// BuyNow buys the item at its buy-now price on behalf of identity.
func (e *Engine) BuyNow(ctx context.Context, identity string, itemID int64) (models.Item, error) {
	return e.do(ctx, itemID, command{kind: cmdBuyNow, identity: identity})
}

// Remove deletes the item if identity owns it.
func (e *Engine) Remove(ctx context.Context, identity string, itemID int64) (models.Item, error) {
	return e.do(ctx, itemID, command{kind: cmdRemove, identity: identity})
}

// Item returns the worker's current view of an item.
func (e *Engine) Item(ctx context.Context, itemID int64) (models.Item, error) {
	return e.do(ctx, itemID, command{kind: cmdGet})
}

// Len returns the number of tracked items.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.workers)
}

func (e *Engine) do(ctx context.Context, itemID int64, cmd command) (models.Item, error) {
	w, err := e.worker(ctx, itemID)
	if err != nil {
		return models.Item{}, err
	}

	cmd.ctx = ctx
	cmd.ticks = w.ticks.Load()
	cmd.reply = make(chan result, 1)

	select {
	case w.mailbox <- cmd:
	case <-w.done:
		return models.Item{}, e.stoppedOr(ErrItemNotFound)
	case <-ctx.Done():
		return models.Item{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.item, res.err
	case <-w.done:
		// the worker may have answered right before exiting
		select {
		case res := <-cmd.reply:
			return res.item, res.err
		default:
		}
		log.Debug().Int64("item_id", itemID).Str("command", cmd.kind.String()).Msg("worker exited before handling command")
		return models.Item{}, e.stoppedOr(ErrItemNotFound)
	case <-ctx.Done():
		// an enqueued command may still be applied
		return models.Item{}, ctx.Err()
	}
}

// worker returns the item's worker, loading the item from the store on a miss.
func (e *Engine) worker(ctx context.Context, itemID int64) (*itemWorker, error) {
	if err := e.running(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	w, ok := e.workers[itemID]
	_, removed := e.removed[itemID]
	e.mu.RUnlock()
	if ok {
		return w, nil
	}
	if removed {
		return nil, ErrItemNotFound
	}

	fctx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	item, err := e.store.FindItem(fctx, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		e.metrics.RecordStoreError("find")
		return nil, storeError("find", itemID, err)
	}
	w, _ = e.spawn(*item, false)
	if w == nil {
		return nil, ErrItemNotFound
	}
	return w, nil
}

// spawn returns the item's worker, starting one if needed. With announce set
// it also reports whether the item had not been announced yet. Removed ids get
// no worker.
func (e *Engine) spawn(item models.Item, announce bool) (*itemWorker, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.removed[item.ID]; ok {
		return nil, false
	}
	if w, ok := e.workers[item.ID]; ok {
		if announce && !w.announced {
			w.announced = true
			return w, true
		}
		return w, false
	}
	w := newItemWorker(e, item)
	w.announced = announce
	if e.ctx.Err() != nil {
		close(w.done)
		return w, false
	}
	e.workers[item.ID] = w

	ctx := e.ctx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.run(ctx)
	}()
	return w, true
}

// forget drops the worker from the registry if it is still the current one.
func (e *Engine) forget(w *itemWorker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.workers[w.id]; ok && cur == w {
		delete(e.workers, w.id)
	}
	e.removed[w.id] = struct{}{}
}

// unsold snapshots the workers whose items are still on auction.
func (e *Engine) unsold() []*itemWorker {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ws := make([]*itemWorker, 0, len(e.workers))
	for _, w := range e.workers {
		if !w.sold.Load() {
			ws = append(ws, w)
		}
	}
	return ws
}

func (e *Engine) running() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ctx == nil || e.ctx.Err() != nil {
		return ErrEngineStopped
	}
	return nil
}

func (e *Engine) stoppedOr(err error) error {
	if e.running() != nil {
		return ErrEngineStopped
	}
	return err
}
