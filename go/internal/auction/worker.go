package auction

import (
	"context"
	"errors"
	"math"
	"sync/atomic"

	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

type commandKind int

const (
	cmdGet commandKind = iota
	cmdBid
	cmdBuyNow
	cmdRemove
)

func (k commandKind) String() string {
	switch k {
	case cmdGet:
		return "get"
	case cmdBid:
		return "bid"
	case cmdBuyNow:
		return "buy_now"
	case cmdRemove:
		return "remove"
	default:
		return "unknown"
	}
}

type command struct {
	kind     commandKind
	ctx      context.Context
	identity string
	amount   float64
	// clock ticks delivered to the worker before the command was sent
	ticks int64
	reply chan result
}

type result struct {
	item models.Item
	err  error
}

// itemWorker is the single owner of one item's state. Every read and
// mutation of the item happens on the run goroutine.
type itemWorker struct {
	id     int64
	item   models.Item
	engine *Engine

	mailbox chan command

	// ticks coalesce: the clock bumps ticks and signals tickCh without blocking.
	// applied counts the ticks already folded into item.
	tickCh  chan struct{}
	ticks   atomic.Int64
	applied int64
	sold    atomic.Bool

	// announced is guarded by the engine mutex
	announced bool
	// gone is set once the store no longer has the item
	gone bool

	done chan struct{}
}

func newItemWorker(e *Engine, item models.Item) *itemWorker {
	w := &itemWorker{
		id:      item.ID,
		item:    item,
		engine:  e,
		mailbox: make(chan command, e.config.MailboxSize),
		tickCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.sold.Store(item.Sold)
	return w
}

// enqueueTick records one elapsed tick and wakes the worker. It never blocks.
func (w *itemWorker) enqueueTick() {
	w.ticks.Add(1)
	select {
	case w.tickCh <- struct{}{}:
	default:
	}
}

func (w *itemWorker) run(ctx context.Context) {
	defer close(w.done)

	log.Debug().Int64("item_id", w.id).Msg("item worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Int64("item_id", w.id).Msg("item worker shutting down")
			return
		case <-w.tickCh:
			w.handleTick(ctx)
		case cmd := <-w.mailbox:
			if stop := w.handle(ctx, cmd); stop {
				log.Debug().Int64("item_id", w.id).Msg("item worker stopped")
				return
			}
		}
		if w.gone {
			return
		}
	}
}

// handle applies one command and reports whether the worker should exit.
func (w *itemWorker) handle(ctx context.Context, cmd command) bool {
	// Ticks that reached the worker before the command are applied first, so
	// a request never sees an item the clock has already expired.
	if err := w.advance(ctx, cmd.ticks); err != nil {
		// a read still sees the last committed state
		if cmd.kind == cmdGet && !w.gone {
			err = nil
		}
		cmd.reply <- result{item: w.item, err: err}
		return w.gone
	}

	// A requester that went away before its turn is dropped unapplied.
	if cmd.kind != cmdGet && cmd.ctx != nil && cmd.ctx.Err() != nil {
		cmd.reply <- result{item: w.item, err: cmd.ctx.Err()}
		return false
	}

	var (
		item models.Item
		err  error
		stop bool
	)
	switch cmd.kind {
	case cmdGet:
		item = w.item
	case cmdBid:
		item, err = w.bid(ctx, cmd.identity, cmd.amount)
		w.engine.metrics.RecordBid(outcome(err))
	case cmdBuyNow:
		item, err = w.buyNow(ctx, cmd.identity)
		w.engine.metrics.RecordBuyNow(outcome(err))
	case cmdRemove:
		item, err = w.remove(ctx, cmd.identity)
		stop = err == nil
	}

	cmd.reply <- result{item: item, err: err}
	return stop || w.gone
}

func (w *itemWorker) bid(ctx context.Context, identity string, amount float64) (models.Item, error) {
	cur := w.item
	switch {
	case cur.Sold:
		return cur, ErrAlreadySold
	case identity == cur.Owner:
		return cur, ErrSelfBid
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		return cur, ErrInvalidBid
	case amount <= cur.CurrentBid:
		return cur, &BidTooLowError{Amount: amount, CurrentBid: cur.CurrentBid}
	}

	next := cur
	next.CurrentBid = amount
	next.WinningUser = identity
	if next.CurrentBid >= next.BuyNow {
		next.Sold = true
		next.RemainingTime = 0
	}

	if err := w.save(ctx, "bid", &next); err != nil {
		return cur, err
	}
	w.commit(next)

	log.Info().
		Int64("item_id", next.ID).
		Str("user", identity).
		Float64("amount", amount).
		Bool("sold", next.Sold).
		Msg("bid accepted")

	w.publish(ctx, events.ItemUpdated(next))
	if next.Sold {
		w.engine.metrics.RecordItemSold("bid")
		w.publish(ctx, events.Sold(next))
	}
	return next, nil
}

func (w *itemWorker) buyNow(ctx context.Context, identity string) (models.Item, error) {
	cur := w.item
	switch {
	case cur.Sold:
		return cur, ErrAlreadySold
	case identity == cur.Owner:
		return cur, ErrSelfBid
	}

	next := cur
	next.CurrentBid = cur.BuyNow
	next.WinningUser = identity
	next.RemainingTime = 0
	next.Sold = true

	if err := w.save(ctx, "buy_now", &next); err != nil {
		return cur, err
	}
	w.commit(next)

	log.Info().
		Int64("item_id", next.ID).
		Str("user", identity).
		Float64("price", next.CurrentBid).
		Msg("item bought now")

	w.engine.metrics.RecordItemSold("buy_now")
	w.publish(ctx, events.ItemUpdated(next))
	w.publish(ctx, events.Sold(next))
	return next, nil
}

func (w *itemWorker) remove(ctx context.Context, identity string) (models.Item, error) {
	cur := w.item
	if identity != cur.Owner {
		return cur, ErrNotOwner
	}

	sctx, cancel := context.WithTimeout(ctx, w.engine.config.StoreTimeout)
	defer cancel()
	if err := w.engine.store.DeleteItem(sctx, cur.ID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			w.vanish(ctx)
			return cur, ErrItemNotFound
		}
		w.engine.metrics.RecordStoreError("delete")
		return cur, storeError("delete", cur.ID, err)
	}
	w.engine.forget(w)

	log.Info().Int64("item_id", cur.ID).Str("owner", identity).Msg("item removed")
	w.publish(ctx, events.Removed(cur))
	return cur, nil
}

// handleTick applies every tick delivered so far.
func (w *itemWorker) handleTick(ctx context.Context) {
	_ = w.advance(ctx, w.ticks.Load())
}

// advance folds ticks up to the given count into the item. On a store
// failure nothing is applied and the ticks stay outstanding.
func (w *itemWorker) advance(ctx context.Context, upTo int64) error {
	n := upTo - w.applied
	if n <= 0 {
		return nil
	}
	if w.item.Sold {
		w.applied = upTo
		return nil
	}

	next := w.item
	next.RemainingTime -= n
	if next.RemainingTime < 0 {
		next.RemainingTime = 0
	}
	expired := next.RemainingTime == 0
	if expired {
		next.Sold = true
	}

	if err := w.save(ctx, "tick", &next); err != nil {
		log.Error().Err(err).Int64("item_id", w.id).Int64("ticks", n).Msg("tick aborted")
		return err
	}
	w.applied = upTo
	w.commit(next)

	if expired {
		log.Info().
			Int64("item_id", next.ID).
			Str("winner", next.Winner()).
			Float64("final_price", next.CurrentBid).
			Msg("auction ended")
		w.engine.metrics.RecordItemSold("expired")
		w.publish(ctx, events.Sold(next))
	}
	return nil
}

func (w *itemWorker) save(ctx context.Context, op string, item *models.Item) error {
	sctx, cancel := context.WithTimeout(ctx, w.engine.config.StoreTimeout)
	defer cancel()

	if err := w.engine.store.SaveItem(sctx, item); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			w.vanish(ctx)
			return ErrItemNotFound
		}
		w.engine.metrics.RecordStoreError(op)
		return storeError(op, item.ID, err)
	}
	return nil
}

// vanish retires a worker whose item was deleted behind the engine's back.
func (w *itemWorker) vanish(ctx context.Context) {
	if w.gone {
		return
	}
	w.gone = true
	w.engine.forget(w)
	log.Warn().Int64("item_id", w.id).Msg("item no longer in store, dropping it")
	w.publish(ctx, events.Removed(w.item))
}

func (w *itemWorker) commit(next models.Item) {
	w.item = next
	w.sold.Store(next.Sold)
}

func (w *itemWorker) publish(ctx context.Context, env events.Envelope) {
	if w.engine.broadcaster == nil {
		return
	}
	w.engine.broadcaster.Publish(ctx, env)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case IsValidation(err):
		return "rejected"
	default:
		return "error"
	}
}
