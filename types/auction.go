package types

import "time"

// AuctionStatus is the lifecycle state of an auction record.
type AuctionStatus string

const (
	AuctionUpcoming  AuctionStatus = "upcoming"
	AuctionActive    AuctionStatus = "active"
	AuctionEnded     AuctionStatus = "ended"
	AuctionCancelled AuctionStatus = "cancelled"
)

func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionUpcoming, AuctionActive, AuctionEnded, AuctionCancelled:
		return true
	default:
		return false
	}
}

// Auction is the auction record for a gem. At most one auction exists
// per gem. Bid placement and auction settlement are handled by an
// external collaborator; this record only tracks auction state.
type Auction struct {
	// ID is the unique identifier of the auction.
	ID int `json:"id" db:"id"`

	// GemID references the gem being auctioned. Unique.
	GemID int `json:"gem_id" db:"gem_id"`

	// SellerID references the seller who opened the auction.
	SellerID int `json:"seller_id" db:"seller_id"`

	// StartPrice is the opening price. Never negative.
	StartPrice float64 `json:"start_price" db:"start_price"`

	// CurrentBid is the highest bid so far, 0 before any bids.
	CurrentBid float64 `json:"current_bid" db:"current_bid"`

	// MinimumBidIncrement is the smallest allowed raise. At least 1.
	MinimumBidIncrement float64 `json:"minimum_bid_increment" db:"minimum_bid_increment"`

	// HighestBidderID references the current highest bidder, if any.
	HighestBidderID *int `json:"highest_bidder_id,omitempty" db:"highest_bidder_id"`

	// StartTime is the opening of the bidding window.
	StartTime time.Time `json:"start_time" db:"start_time"`

	// EndTime is the close of the bidding window.
	EndTime time.Time `json:"end_time" db:"end_time"`

	// Status is the auction lifecycle state.
	Status AuctionStatus `json:"status" db:"status"`

	// TotalBids is the number of bids placed.
	TotalBids int `json:"total_bids" db:"total_bids"`

	// WinnerID references the winning bidder once the auction ends.
	WinnerID *int `json:"winner_id,omitempty" db:"winner_id"`

	// CreatedAt is the timestamp at which the auction was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the auction.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ActiveAt reports whether the auction accepts bids at the given time:
// status is active and the time falls in [StartTime, EndTime).
func (a Auction) ActiveAt(now time.Time) bool {
	if a.Status != AuctionActive {
		return false
	}
	return !now.Before(a.StartTime) && now.Before(a.EndTime)
}
