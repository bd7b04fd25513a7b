package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Bidder defines what the gateway needs from the auction engine
type Bidder interface {
	SubmitBid(ctx context.Context, identity string, itemID int64, amount float64) (models.Item, error)
	BuyNow(ctx context.Context, identity string, itemID int64) (models.Item, error)
}

// AuctionDispatcher routes send:bid and buy:now to the engine. Successful
// requests produce no reply; their effects arrive as broadcasts.
type AuctionDispatcher struct {
	engine Bidder
}

func NewAuctionDispatcher(engine Bidder) *AuctionDispatcher {
	return &AuctionDispatcher{engine: engine}
}

func (d *AuctionDispatcher) Dispatch(ctx context.Context, identity string, msg events.Inbound) *events.Envelope {
	switch msg.Event {
	case events.SendBid:
		var req events.BidRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return reply(events.BidError, fmt.Errorf("invalid bid: %w", err))
		}
		if _, err := d.engine.SubmitBid(ctx, identity, req.ItemID, req.Bid); err != nil {
			logRejected(err, identity, req.ItemID, "bid")
			return reply(events.BidError, publicError(err))
		}
	case events.BuyNow:
		var req events.BuyNowRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return reply(events.BuyNowError, fmt.Errorf("invalid buy now request: %w", err))
		}
		if _, err := d.engine.BuyNow(ctx, identity, req.ItemID); err != nil {
			logRejected(err, identity, req.ItemID, "buy_now")
			return reply(events.BuyNowError, publicError(err))
		}
	default:
		return reply(events.GenericError, fmt.Errorf("unknown event %q", msg.Event))
	}
	return nil
}

func reply(name events.Name, err error) *events.Envelope {
	env := events.Error(name, err)
	return &env
}

// publicError hides store internals from clients
func publicError(err error) error {
	if auction.IsValidation(err) && !errors.Is(err, auction.ErrTransientStore) {
		return err
	}
	if errors.Is(err, auction.ErrEngineStopped) {
		return errors.New("auction is not running")
	}
	return errors.New("request could not be processed, please retry")
}

func logRejected(err error, identity string, itemID int64, op string) {
	ev := log.Debug()
	if !auction.IsValidation(err) || errors.Is(err, auction.ErrTransientStore) {
		ev = log.Warn()
	}
	ev.Err(err).
		Str("identity", identity).
		Int64("item_id", itemID).
		Str("op", op).
		Msg("request rejected")
}
