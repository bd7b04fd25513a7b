package items

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrInvalidItem wraps item creation validation failures
var ErrInvalidItem = errors.New("invalid item")

// ItemsRepository defines what the app layer needs from the repository
type ItemsRepository interface {
	CreateItem(ctx context.Context, req CreateItemRequest) (*models.Item, error)
	FindItem(ctx context.Context, id int64) (*models.Item, error)
	ListItems(ctx context.Context) ([]*models.Item, error)
}

// Engine defines what the app layer needs from the auction engine
type Engine interface {
	Track(item models.Item) (bool, error)
	Remove(ctx context.Context, identity string, itemID int64) (models.Item, error)
}

// App handles item creation and removal
type App struct {
	repo        ItemsRepository
	engine      Engine
	broadcaster auction.Broadcaster
}

// NewApp creates a new items App
func NewApp(repo ItemsRepository, engine Engine, broadcaster auction.Broadcaster) *App {
	return &App{
		repo:        repo,
		engine:      engine,
		broadcaster: broadcaster,
	}
}

// CreateItem validates and stores a new item, hands it to the engine and
// announces it.
func (a *App) CreateItem(ctx context.Context, req CreateItemRequest) (*models.Item, error) {
	if err := a.validateCreateItemRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	item, err := a.repo.CreateItem(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	if err := a.Announce(ctx, *item); err != nil {
		return nil, err
	}

	log.Info().
		Int64("item_id", item.ID).
		Str("owner", item.Owner).
		Str("description", item.Description).
		Msg("item created")
	return item, nil
}

// Announce registers an item with the engine and broadcasts item:new the
// first time the item is seen.
func (a *App) Announce(ctx context.Context, item models.Item) error {
	created, err := a.engine.Track(item)
	if err != nil {
		return fmt.Errorf("failed to track item: %w", err)
	}
	if created {
		a.broadcaster.Publish(ctx, events.NewItem(item))
	}
	return nil
}

// RemoveItem deletes the item if identity owns it. Removal is serialized
// with bids on the item's worker.
func (a *App) RemoveItem(ctx context.Context, identity string, itemID int64) (*models.Item, error) {
	item, err := a.engine.Remove(ctx, identity, itemID)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems returns all items
func (a *App) ListItems(ctx context.Context) ([]*models.Item, error) {
	items, err := a.repo.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// Sync announces every stored item the engine does not know yet.
func (a *App) Sync(ctx context.Context) error {
	all, err := a.repo.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	for _, item := range all {
		if err := a.Announce(ctx, *item); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) validateCreateItemRequest(req CreateItemRequest) error {
	if strings.TrimSpace(req.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if req.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if !finite(req.CurrentBid) || req.CurrentBid < 0 {
		return fmt.Errorf("currentbid must be zero or positive")
	}
	if !finite(req.BuyNow) || req.BuyNow <= req.CurrentBid {
		return fmt.Errorf("buynow must be greater than currentbid")
	}
	if req.RemainingTime <= 0 {
		return fmt.Errorf("remainingtime must be positive")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
