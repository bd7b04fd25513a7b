package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidRequestAcceptsBothKeys(t *testing.T) {
	var snake, camel BidRequest
	require.NoError(t, json.Unmarshal([]byte(`{"item_id":3,"bid":12.5}`), &snake))
	require.NoError(t, json.Unmarshal([]byte(`{"itemId":3,"bid":12.5}`), &camel))
	assert.Equal(t, BidRequest{ItemID: 3, Bid: 12.5}, snake)
	assert.Equal(t, snake, camel)

	var missing BidRequest
	require.Error(t, json.Unmarshal([]byte(`{"bid":12.5}`), &missing))
	require.Error(t, json.Unmarshal([]byte(`{"item_id":3}`), &missing))

	var buy BuyNowRequest
	require.NoError(t, json.Unmarshal([]byte(`{"item_id":9}`), &buy))
	assert.Equal(t, int64(9), buy.ItemID)
	require.Error(t, json.Unmarshal([]byte(`{}`), &buy))
}

func TestEnvelopeWireFormat(t *testing.T) {
	item := models.Item{ID: 1, Description: "Lamp", CurrentBid: 10, BuyNow: 50, RemainingTime: 30, Owner: "alice"}

	data, err := json.Marshal(ItemUpdated(item))
	require.NoError(t, err)

	var frame struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "item:update", frame.Event)
	for _, key := range []string{"id", "description", "currentbid", "buynow", "remainingtime", "wininguser", "owner", "sold"} {
		assert.Contains(t, frame.Data, key)
	}
}

func TestSoldReportsNoBidder(t *testing.T) {
	env := Sold(models.Item{ID: 4, Description: "Rug", CurrentBid: 7, Sold: true})
	assert.Equal(t, ItemSold, env.Event)
	assert.Equal(t, ItemSoldPayload{ItemID: 4, Description: "Rug", FinalPrice: 7, Winner: models.NoBidder}, env.Data)
	assert.NotEmpty(t, env.ID)
}

func TestRemovedMessage(t *testing.T) {
	env := Removed(models.Item{ID: 2, Description: "Chair"})
	assert.Equal(t, ItemRemovedPayload{ItemID: 2, Message: "Item Chair has been removed"}, env.Data)
}

func TestErrorFrame(t *testing.T) {
	env := Error(BidError, errors.New("you cannot bid on your own item"))
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"bid:error"`)
	assert.Contains(t, string(data), `"message":"you cannot bid on your own item"`)
}

func TestSnapshotNeverNull(t *testing.T) {
	data, err := json.Marshal(ItemsSnapshot(nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data":[]`)
}
