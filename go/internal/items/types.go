package items

// CreateItemRequest represents the data needed to create a new auction item
type CreateItemRequest struct {
	Description   string  `json:"description"`
	CurrentBid    float64 `json:"currentbid"`
	BuyNow        float64 `json:"buynow"`
	RemainingTime int64   `json:"remainingtime"`
	Owner         string  `json:"-"`
}

// RemoveItemRequest identifies the item to remove
type RemoveItemRequest struct {
	ItemID int64 `json:"itemId"`
}
