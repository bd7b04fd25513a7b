package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// Name is the wire name of an event
type Name string

// Outbound events
const (
	ItemNew      Name = "item:new"
	ItemUpdate   Name = "item:update"
	ItemsUpdate  Name = "items:update"
	ItemSold     Name = "item:sold"
	ItemRemoved  Name = "item:removed"
	UserJoined   Name = "new:user"
	UserLeft     Name = "user:left"
	BidError     Name = "bid:error"
	BuyNowError  Name = "buynow:error"
	GenericError Name = "error"
)

// Inbound events
const (
	SendBid Name = "send:bid"
	BuyNow  Name = "buy:now"
)

// Envelope is the frame exchanged over the websocket.
type Envelope struct {
	ID        string    `json:"id,omitempty"`
	Event     Name      `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Inbound is a frame received from a client; Data is decoded per event.
type Inbound struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ItemSoldPayload is the payload for item:sold
type ItemSoldPayload struct {
	ItemID      int64   `json:"itemId"`
	Description string  `json:"description"`
	FinalPrice  float64 `json:"finalPrice"`
	Winner      string  `json:"winner"`
}

// ItemRemovedPayload is the payload for item:removed
type ItemRemovedPayload struct {
	ItemID  int64  `json:"itemId"`
	Message string `json:"message"`
}

// UserJoinedPayload is the payload for new:user
type UserJoinedPayload struct {
	Username string  `json:"username"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// UserLeftPayload is the payload for user:left
type UserLeftPayload struct {
	Username string `json:"username"`
}

// ErrorPayload is sent only to the requester
type ErrorPayload struct {
	Message string `json:"message"`
}

// BidRequest is the payload of send:bid. Both item_id and itemId are accepted.
type BidRequest struct {
	ItemID int64   `json:"-"`
	Bid    float64 `json:"bid"`
}

// BuyNowRequest is the payload of buy:now.
type BuyNowRequest struct {
	ItemID int64 `json:"-"`
}

type itemRef struct {
	SnakeID *int64 `json:"item_id"`
	CamelID *int64 `json:"itemId"`
}

func (r itemRef) id() (int64, error) {
	switch {
	case r.SnakeID != nil:
		return *r.SnakeID, nil
	case r.CamelID != nil:
		return *r.CamelID, nil
	default:
		return 0, fmt.Errorf("item_id is required")
	}
}

// UnmarshalJSON decodes the item reference under either key.
func (b *BidRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		itemRef
		Bid *float64 `json:"bid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := raw.id()
	if err != nil {
		return err
	}
	if raw.Bid == nil {
		return fmt.Errorf("bid is required")
	}
	b.ItemID = id
	b.Bid = *raw.Bid
	return nil
}

// UnmarshalJSON decodes the item reference under either key.
func (b *BuyNowRequest) UnmarshalJSON(data []byte) error {
	var raw itemRef
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := raw.id()
	if err != nil {
		return err
	}
	b.ItemID = id
	return nil
}

// New builds an envelope with a fresh event ID.
func New(name Name, data any) Envelope {
	return Envelope{
		ID:        uuid.New().String(),
		Event:     name,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func NewItem(item models.Item) Envelope {
	return New(ItemNew, item)
}

func ItemUpdated(item models.Item) Envelope {
	return New(ItemUpdate, item)
}

func ItemsSnapshot(items []*models.Item) Envelope {
	if items == nil {
		items = []*models.Item{}
	}
	return New(ItemsUpdate, items)
}

// Sold reports the final price and winner, or models.NoBidder.
func Sold(item models.Item) Envelope {
	return New(ItemSold, ItemSoldPayload{
		ItemID:      item.ID,
		Description: item.Description,
		FinalPrice:  item.CurrentBid,
		Winner:      item.Winner(),
	})
}

func Removed(item models.Item) Envelope {
	return New(ItemRemoved, ItemRemovedPayload{
		ItemID:  item.ID,
		Message: fmt.Sprintf("Item %s has been removed", item.Description),
	})
}

func Joined(user models.User) Envelope {
	return New(UserJoined, UserJoinedPayload{
		Username: user.Username,
		Lat:      user.Latitude,
		Lng:      user.Longitude,
	})
}

func Left(username string) Envelope {
	return New(UserLeft, UserLeftPayload{Username: username})
}

// Error builds a requester-only error frame.
func Error(name Name, err error) Envelope {
	return New(name, ErrorPayload{Message: err.Error()})
}
