package auction

import (
	"context"

	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
)

// Fanout publishes every event to each broadcaster in order.
type Fanout []Broadcaster

func (f Fanout) Publish(ctx context.Context, env events.Envelope) {
	for _, b := range f {
		if b != nil {
			b.Publish(ctx, env)
		}
	}
}
