package auction_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/items"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (r *recordingBroadcaster) Publish(_ context.Context, env events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
}

func (r *recordingBroadcaster) snapshot() []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Envelope(nil), r.events...)
}

func (r *recordingBroadcaster) named(name events.Name) []events.Envelope {
	var out []events.Envelope
	for _, e := range r.snapshot() {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// flakyStore fails SaveItem for selected items.
type flakyStore struct {
	*items.MemoryStore

	mu      sync.Mutex
	failing map[int64]bool
}

func newFlakyStore(seed ...models.Item) *flakyStore {
	return &flakyStore{MemoryStore: items.NewMemoryStore(seed...), failing: make(map[int64]bool)}
}

func (s *flakyStore) setFailing(id int64, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[id] = fail
}

func (s *flakyStore) SaveItem(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	fail := s.failing[item.ID]
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.MemoryStore.SaveItem(ctx, item)
}

type harness struct {
	engine *auction.Engine
	store  *flakyStore
	events *recordingBroadcaster
	clock  *clockwork.FakeClock
}

func newHarness(t *testing.T, seed ...models.Item) *harness {
	t.Helper()
	h := &harness{
		store:  newFlakyStore(seed...),
		events: &recordingBroadcaster{},
		clock:  clockwork.NewFakeClock(),
	}
	h.engine = auction.NewEngine(h.store, h.events, auction.Config{StoreTimeout: time.Second}, auction.WithClock(h.clock))
	require.NoError(t, h.engine.Start(context.Background()))
	t.Cleanup(h.engine.Stop)
	return h
}

func (h *harness) item(t *testing.T, id int64) models.Item {
	t.Helper()
	item, err := h.engine.Item(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (h *harness) waitFor(t *testing.T, id int64, cond func(models.Item) bool) models.Item {
	t.Helper()
	var last models.Item
	require.Eventually(t, func() bool {
		item, err := h.engine.Item(context.Background(), id)
		if err != nil {
			return false
		}
		last = item
		return cond(item)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func lamp() models.Item {
	return models.Item{
		ID:            1,
		Description:   "Lamp",
		CurrentBid:    10,
		BuyNow:        100,
		RemainingTime: 60,
		Owner:         "alice",
	}
}

func TestConcurrentBidsHighestWins(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t, lamp())

		var wg sync.WaitGroup
		var err20, err15 error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err20 = h.engine.SubmitBid(context.Background(), "bob", 1, 20)
		}()
		go func() {
			defer wg.Done()
			_, err15 = h.engine.SubmitBid(context.Background(), "carol", 1, 15)
		}()
		wg.Wait()

		require.NoError(t, err20)
		if err15 != nil {
			require.ErrorIs(t, err15, auction.ErrBidTooLow)
		}

		got := h.item(t, 1)
		assert.Equal(t, 20.0, got.CurrentBid)
		assert.Equal(t, "bob", got.WinningUser)

		stored, err := h.store.FindItem(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, got, *stored)

		// updates are broadcast in the order they were applied
		var prev float64
		for _, e := range h.events.named(events.ItemUpdate) {
			bid := e.Data.(models.Item).CurrentBid
			assert.Greater(t, bid, prev)
			prev = bid
		}
		assert.Equal(t, 20.0, prev)
	}
}

func TestBidValidation(t *testing.T) {
	h := newHarness(t, lamp())
	ctx := context.Background()

	_, err := h.engine.SubmitBid(ctx, "alice", 1, 50)
	require.ErrorIs(t, err, auction.ErrSelfBid)

	_, err = h.engine.SubmitBid(ctx, "bob", 1, 10)
	require.ErrorIs(t, err, auction.ErrBidTooLow)
	var low *auction.BidTooLowError
	require.ErrorAs(t, err, &low)
	assert.Equal(t, 10.0, low.CurrentBid)

	_, err = h.engine.SubmitBid(ctx, "bob", 1, -5)
	require.ErrorIs(t, err, auction.ErrBidTooLow)

	_, err = h.engine.SubmitBid(ctx, "bob", 1, math.NaN())
	require.ErrorIs(t, err, auction.ErrInvalidBid)

	_, err = h.engine.SubmitBid(ctx, "bob", 99, 50)
	require.ErrorIs(t, err, auction.ErrItemNotFound)

	_, err = h.engine.BuyNow(ctx, "alice", 1)
	require.ErrorIs(t, err, auction.ErrSelfBid)

	for _, err := range []error{auction.ErrSelfBid, auction.ErrBidTooLow, auction.ErrInvalidBid, auction.ErrItemNotFound} {
		assert.True(t, auction.IsValidation(err))
	}

	assert.Equal(t, lamp(), h.item(t, 1))
	assert.Empty(t, h.events.snapshot())
}

func TestBidReachingBuyNowSellsItem(t *testing.T) {
	h := newHarness(t, lamp())

	got, err := h.engine.SubmitBid(context.Background(), "bob", 1, 150)
	require.NoError(t, err)
	assert.True(t, got.Sold)
	assert.Equal(t, int64(0), got.RemainingTime)
	assert.Equal(t, 150.0, got.CurrentBid)

	evs := h.events.snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, events.ItemUpdate, evs[0].Event)
	assert.Equal(t, events.ItemSold, evs[1].Event)
	assert.Equal(t, events.ItemSoldPayload{ItemID: 1, Description: "Lamp", FinalPrice: 150, Winner: "bob"}, evs[1].Data)

	_, err = h.engine.SubmitBid(context.Background(), "carol", 1, 200)
	require.ErrorIs(t, err, auction.ErrAlreadySold)
}

func TestBuyNow(t *testing.T) {
	h := newHarness(t, lamp())
	ctx := context.Background()

	got, err := h.engine.BuyNow(ctx, "bob", 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.CurrentBid)
	assert.Equal(t, "bob", got.WinningUser)
	assert.True(t, got.Sold)
	assert.Zero(t, got.RemainingTime)

	_, err = h.engine.BuyNow(ctx, "carol", 1)
	require.ErrorIs(t, err, auction.ErrAlreadySold)
	_, err = h.engine.SubmitBid(ctx, "carol", 1, 500)
	require.ErrorIs(t, err, auction.ErrAlreadySold)

	names := []events.Name{}
	for _, e := range h.events.snapshot() {
		names = append(names, e.Event)
	}
	assert.Equal(t, []events.Name{events.ItemUpdate, events.ItemSold}, names)

	// sold items ignore the clock
	h.engine.Tick()
	assert.Equal(t, got, h.item(t, 1))
	assert.Len(t, h.events.named(events.ItemSold), 1)
}

func TestExpiryWithoutBidder(t *testing.T) {
	item := lamp()
	item.RemainingTime = 2
	h := newHarness(t, item)

	h.engine.Tick()
	h.waitFor(t, 1, func(i models.Item) bool { return i.RemainingTime == 1 })
	assert.Empty(t, h.events.snapshot())

	h.engine.Tick()
	got := h.waitFor(t, 1, func(i models.Item) bool { return i.Sold })
	assert.Zero(t, got.RemainingTime)
	assert.Equal(t, 10.0, got.CurrentBid)
	assert.Empty(t, got.WinningUser)

	sold := h.events.named(events.ItemSold)
	require.Len(t, sold, 1)
	assert.Equal(t, events.ItemSoldPayload{ItemID: 1, Description: "Lamp", FinalPrice: 10, Winner: models.NoBidder}, sold[0].Data)

	stored, err := h.store.FindItem(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, stored.Sold)
}

func TestExpiryWithBidder(t *testing.T) {
	item := lamp()
	item.RemainingTime = 1
	h := newHarness(t, item)

	_, err := h.engine.SubmitBid(context.Background(), "bob", 1, 42)
	require.NoError(t, err)

	h.engine.Tick()
	h.waitFor(t, 1, func(i models.Item) bool { return i.Sold })

	sold := h.events.named(events.ItemSold)
	require.Len(t, sold, 1)
	payload := sold[0].Data.(events.ItemSoldPayload)
	assert.Equal(t, "bob", payload.Winner)
	assert.Equal(t, 42.0, payload.FinalPrice)
}

func TestRemainingTimeNeverNegative(t *testing.T) {
	item := lamp()
	item.RemainingTime = 3
	h := newHarness(t, item)

	for i := 0; i < 10; i++ {
		h.engine.Tick()
	}
	got := h.waitFor(t, 1, func(i models.Item) bool { return i.Sold })
	assert.Zero(t, got.RemainingTime)

	for i := 0; i < 5; i++ {
		h.engine.Tick()
	}
	assert.Zero(t, h.item(t, 1).RemainingTime)
	assert.Len(t, h.events.named(events.ItemSold), 1)
}

func TestBuyNowRacingExpiry(t *testing.T) {
	for i := 0; i < 50; i++ {
		item := lamp()
		item.RemainingTime = 1
		h := newHarness(t, item)

		done := make(chan error, 1)
		go func() {
			_, err := h.engine.BuyNow(context.Background(), "bob", 1)
			done <- err
		}()
		h.engine.Tick()
		err := <-done

		got := h.waitFor(t, 1, func(i models.Item) bool { return i.Sold })
		require.Eventually(t, func() bool { return len(h.events.named(events.ItemSold)) == 1 }, time.Second, 5*time.Millisecond)
		payload := h.events.named(events.ItemSold)[0].Data.(events.ItemSoldPayload)

		if err == nil {
			assert.Equal(t, "bob", got.WinningUser)
			assert.Equal(t, 100.0, payload.FinalPrice)
			assert.Equal(t, "bob", payload.Winner)
		} else {
			require.ErrorIs(t, err, auction.ErrAlreadySold)
			assert.Equal(t, models.NoBidder, payload.Winner)
			assert.Equal(t, 10.0, payload.FinalPrice)
		}
		assert.Zero(t, got.RemainingTime)
	}
}

func TestStoreFailureIsolatedToItem(t *testing.T) {
	a := lamp()
	b := lamp()
	b.ID = 2
	b.Description = "Rug"
	h := newHarness(t, a, b)
	ctx := context.Background()

	h.store.setFailing(1, true)

	_, err := h.engine.SubmitBid(ctx, "bob", 1, 20)
	require.ErrorIs(t, err, auction.ErrTransientStore)
	assert.False(t, auction.IsValidation(err))
	assert.Equal(t, a, h.item(t, 1))
	assert.Empty(t, h.events.snapshot())

	// the other item keeps bidding and ticking
	_, err = h.engine.SubmitBid(ctx, "bob", 2, 20)
	require.NoError(t, err)

	assert.Equal(t, 2, h.engine.Tick())
	h.waitFor(t, 2, func(i models.Item) bool { return i.RemainingTime == 59 })
	assert.Equal(t, int64(60), h.item(t, 1).RemainingTime)

	// elapsed time is not lost once the store recovers
	h.store.setFailing(1, false)
	h.engine.Tick()
	h.waitFor(t, 1, func(i models.Item) bool { return i.RemainingTime == 58 })
	h.waitFor(t, 2, func(i models.Item) bool { return i.RemainingTime == 58 })
}

func TestLazyLoadsUntrackedItems(t *testing.T) {
	h := newHarness(t)

	created, err := h.store.CreateItem(context.Background(), items.CreateItemRequest{
		Description:   "Clock",
		CurrentBid:    1,
		BuyNow:        10,
		RemainingTime: 30,
		Owner:         "alice",
	})
	require.NoError(t, err)
	assert.Zero(t, h.engine.Len())

	_, err = h.engine.SubmitBid(context.Background(), "bob", created.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, h.engine.Len())
}

func TestTrackIgnoresKnownItems(t *testing.T) {
	h := newHarness(t, lamp())

	created, err := h.engine.Track(lamp())
	require.NoError(t, err)
	assert.False(t, created)

	other := lamp()
	other.ID = 5
	created, err = h.engine.Track(other)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, h.engine.Len())
}

func TestRemove(t *testing.T) {
	h := newHarness(t, lamp())
	ctx := context.Background()

	_, err := h.engine.Remove(ctx, "bob", 1)
	require.ErrorIs(t, err, auction.ErrNotOwner)

	_, err = h.engine.Remove(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Zero(t, h.engine.Len())
	assert.Zero(t, h.engine.Tick())

	_, err = h.engine.SubmitBid(ctx, "bob", 1, 20)
	require.ErrorIs(t, err, auction.ErrItemNotFound)

	removed := h.events.named(events.ItemRemoved)
	require.Len(t, removed, 1)
}

func TestStoppedEngine(t *testing.T) {
	h := newHarness(t, lamp())
	h.engine.Stop()

	_, err := h.engine.SubmitBid(context.Background(), "bob", 1, 20)
	require.ErrorIs(t, err, auction.ErrEngineStopped)

	_, err = h.engine.Track(lamp())
	require.ErrorIs(t, err, auction.ErrEngineStopped)

	require.Error(t, h.engine.Start(context.Background()))
}

func TestCancelledRequestIsNotApplied(t *testing.T) {
	h := newHarness(t, lamp())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.engine.SubmitBid(ctx, "bob", 1, 20)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 10.0, h.item(t, 1).CurrentBid)
}

func TestClockDrivesTicks(t *testing.T) {
	h := newHarness(t, lamp())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.clock.Advance(auction.TickInterval)
	h.waitFor(t, 1, func(i models.Item) bool { return i.RemainingTime == 59 })

	h.clock.Advance(auction.TickInterval)
	h.waitFor(t, 1, func(i models.Item) bool { return i.RemainingTime == 58 })
}

// gatedStore holds the first SaveItem until release is closed.
type gatedStore struct {
	*items.MemoryStore

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) SaveItem(ctx context.Context, item *models.Item) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.SaveItem(ctx, item)
}

func TestBidQueuedAfterExpiringTickIsRejected(t *testing.T) {
	for i := 0; i < 20; i++ {
		item := lamp()
		item.RemainingTime = 1
		store := &gatedStore{
			MemoryStore: items.NewMemoryStore(item),
			entered:     make(chan struct{}),
			release:     make(chan struct{}),
		}
		rec := &recordingBroadcaster{}
		engine := auction.NewEngine(store, rec, auction.Config{StoreTimeout: 5 * time.Second}, auction.WithClock(clockwork.NewFakeClock()))
		require.NoError(t, engine.Start(context.Background()))

		first := make(chan error, 1)
		go func() {
			_, err := engine.SubmitBid(context.Background(), "bob", 1, 20)
			first <- err
		}()
		<-store.entered

		// the item expires while bob's bid is being saved
		assert.Equal(t, 1, engine.Tick())

		second := make(chan error, 1)
		go func() {
			_, err := engine.SubmitBid(context.Background(), "carol", 1, 30)
			second <- err
		}()
		require.Eventually(t, func() bool { return engine.Queued(1) == 1 }, time.Second, time.Millisecond)
		close(store.release)

		require.NoError(t, <-first)
		require.ErrorIs(t, <-second, auction.ErrAlreadySold)

		got, err := engine.Item(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, got.Sold)
		assert.Equal(t, "bob", got.WinningUser)
		assert.Equal(t, 20.0, got.CurrentBid)

		sold := rec.named(events.ItemSold)
		require.Len(t, sold, 1)
		assert.Equal(t, "bob", sold[0].Data.(events.ItemSoldPayload).Winner)
		engine.Stop()
	}
}

func TestRequestsSeeTicksDeliveredBeforeThem(t *testing.T) {
	item := lamp()
	item.RemainingTime = 2
	h := newHarness(t, item)

	h.engine.Tick()
	h.engine.Tick()
	_, err := h.engine.BuyNow(context.Background(), "bob", 1)
	require.ErrorIs(t, err, auction.ErrAlreadySold)
	assert.Equal(t, models.NoBidder, h.events.named(events.ItemSold)[0].Data.(events.ItemSoldPayload).Winner)
}

func TestRemovedItemIsNotTrackedAgain(t *testing.T) {
	h := newHarness(t, lamp())
	ctx := context.Background()

	_, err := h.engine.Remove(ctx, "alice", 1)
	require.NoError(t, err)

	// a resync that listed the item before it was removed
	announce, err := h.engine.Track(lamp())
	require.NoError(t, err)
	assert.False(t, announce)
	assert.Zero(t, h.engine.Len())

	_, err = h.engine.SubmitBid(ctx, "bob", 1, 20)
	require.ErrorIs(t, err, auction.ErrItemNotFound)
	assert.False(t, errors.Is(err, auction.ErrTransientStore))

	names := []events.Name{}
	for _, e := range h.events.snapshot() {
		names = append(names, e.Event)
	}
	assert.Equal(t, []events.Name{events.ItemRemoved}, names)
}

func TestItemDeletedFromStoreIsDropped(t *testing.T) {
	h := newHarness(t, lamp())
	ctx := context.Background()

	require.NoError(t, h.store.DeleteItem(ctx, 1))

	_, err := h.engine.SubmitBid(ctx, "bob", 1, 20)
	require.ErrorIs(t, err, auction.ErrItemNotFound)
	assert.False(t, errors.Is(err, auction.ErrTransientStore))
	require.Eventually(t, func() bool { return h.engine.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.events.named(events.ItemRemoved), 1)

	_, err = h.engine.SubmitBid(ctx, "bob", 1, 30)
	require.ErrorIs(t, err, auction.ErrItemNotFound)
	assert.Zero(t, h.engine.Tick())
}

func TestTrackAnnouncesItemLoadedByEarlyBid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.store.CreateItem(ctx, items.CreateItemRequest{
		Description:   "Vase",
		CurrentBid:    1,
		BuyNow:        10,
		RemainingTime: 30,
		Owner:         "alice",
	})
	require.NoError(t, err)

	_, err = h.engine.SubmitBid(ctx, "bob", created.ID, 2)
	require.NoError(t, err)

	announce, err := h.engine.Track(*created)
	require.NoError(t, err)
	assert.True(t, announce)

	announce, err = h.engine.Track(*created)
	require.NoError(t, err)
	assert.False(t, announce)
}
