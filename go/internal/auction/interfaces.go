package auction

import (
	"context"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// Store defines what the engine needs from the item store.
// FindItem returns ErrItemNotFound (possibly wrapped) for unknown ids.
type Store interface {
	FindItem(ctx context.Context, id int64) (*models.Item, error)
	SaveItem(ctx context.Context, item *models.Item) error
	DeleteItem(ctx context.Context, id int64) error
	ListItems(ctx context.Context) ([]*models.Item, error)
}

// Broadcaster fans an event out to every connected participant.
// Publish must preserve call order.
type Broadcaster interface {
	Publish(ctx context.Context, env events.Envelope)
}

// MetricsCollector defines the engine metrics hooks
type MetricsCollector interface {
	RecordBid(result string)
	RecordBuyNow(result string)
	RecordItemSold(reason string)
	RecordStoreError(op string)
	RecordTick(items int, duration time.Duration)
}

// NoOpMetricsCollector is used when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordBid(string)              {}
func (NoOpMetricsCollector) RecordBuyNow(string)           {}
func (NoOpMetricsCollector) RecordItemSold(string)         {}
func (NoOpMetricsCollector) RecordStoreError(string)       {}
func (NoOpMetricsCollector) RecordTick(int, time.Duration) {}
