package models

// NoBidder is reported as the winner of an item that expired without bids.
const NoBidder = "no bidder"

// Item represents an auction lot.
// RemainingTime is measured in seconds.
type Item struct {
	ID            int64   `json:"id"`
	Description   string  `json:"description"`
	CurrentBid    float64 `json:"currentbid"`
	BuyNow        float64 `json:"buynow"`
	RemainingTime int64   `json:"remainingtime"`
	WinningUser   string  `json:"wininguser"`
	Owner         string  `json:"owner"`
	Sold          bool    `json:"sold"`
}

// Winner returns the winning username, or NoBidder when nobody has bid.
func (i Item) Winner() string {
	if i.WinningUser == "" {
		return NoBidder
	}
	return i.WinningUser
}

// HasBidder reports whether the item has a winning user.
func (i Item) HasBidder() bool {
	return i.WinningUser != ""
}
