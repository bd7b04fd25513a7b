package auction

import (
	"errors"
	"fmt"
)

// Validation errors. They are returned only to the requester and never
// change item state.
var (
	ErrItemNotFound = errors.New("item not found")
	ErrAlreadySold  = errors.New("this item has already been sold")
	ErrSelfBid      = errors.New("you cannot bid on your own item")
	ErrBidTooLow    = errors.New("bid amount is too low")
	ErrInvalidBid   = errors.New("bid amount must be a positive number")
	ErrNotOwner     = errors.New("only the original owner can remove an item")
)

// ErrTransientStore marks a failed or timed out store call. The operation that
// hit it was aborted without touching in-memory state.
var ErrTransientStore = errors.New("transient store error")

// ErrEngineStopped is returned for requests made after Stop.
var ErrEngineStopped = errors.New("auction engine stopped")

// BidTooLowError carries the bid that has to be beaten.
type BidTooLowError struct {
	Amount     float64
	CurrentBid float64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid amount must be greater than the current bid of %g", e.CurrentBid)
}

// Is lets errors.Is(err, ErrBidTooLow) match.
func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrAlreadySold) ||
		errors.Is(err, ErrSelfBid) ||
		errors.Is(err, ErrBidTooLow) ||
		errors.Is(err, ErrInvalidBid) ||
		errors.Is(err, ErrNotOwner)
}

func storeError(op string, id int64, err error) error {
	return fmt.Errorf("%w: %s item %d: %w", ErrTransientStore, op, id, err)
}
