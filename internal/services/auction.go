package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gemmarket/apiserver/internal/store"
	"github.com/gemmarket/apiserver/types"
)

const defaultBidIncrement = 100

// AuctionRepository defines persistence operations for auction records.
type AuctionRepository interface {
	Get(ctx context.Context, id int) (types.Auction, error)
	GetByGem(ctx context.Context, gemID int) (types.Auction, error)
	ListByStatus(ctx context.Context, status types.AuctionStatus) ([]types.Auction, error)
	Create(ctx context.Context, auction types.Auction) (types.Auction, error)
	Update(ctx context.Context, auction types.Auction) (types.Auction, error)
}

// CreateAuctionInput carries a new auction record for a gem. Bid
// placement and settlement are handled externally; this only opens the
// record.
type CreateAuctionInput struct {
	GemID               int
	StartPrice          float64
	MinimumBidIncrement float64
	StartTime           time.Time
	EndTime             time.Time
}

// AuctionService manages auction records. It deliberately implements
// no bidding logic.
type AuctionService struct {
	repo AuctionRepository
	gems GemRepository
}

func NewAuctionService(repo AuctionRepository, gems GemRepository) *AuctionService {
	return &AuctionService{repo: repo, gems: gems}
}

// Create opens an auction record for a gem. Only the gem's seller may
// open one, and a gem can have at most one auction.
func (s *AuctionService) Create(ctx context.Context, requester types.User, in CreateAuctionInput) (types.Auction, error) {
	gem, err := s.gems.Get(ctx, in.GemID)
	if err != nil {
		return types.Auction{}, err
	}
	if gem.SellerID != requester.ID {
		return types.Auction{}, fmt.Errorf("only the gem's seller can open an auction: %w", ErrForbidden)
	}

	if _, err := s.repo.GetByGem(ctx, in.GemID); err == nil {
		return types.Auction{}, fmt.Errorf("gem already has an auction: %w", ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Auction{}, err
	}

	if in.StartPrice < 0 {
		return types.Auction{}, validationErrorf("start price cannot be negative")
	}
	increment := in.MinimumBidIncrement
	if increment == 0 {
		increment = defaultBidIncrement
	}
	if increment < 1 {
		return types.Auction{}, validationErrorf("minimum bid increment must be at least 1")
	}
	if in.StartTime.IsZero() || in.EndTime.IsZero() {
		return types.Auction{}, validationErrorf("start time and end time are required")
	}
	if !in.StartTime.Before(in.EndTime) {
		return types.Auction{}, validationErrorf("start time must be before end time")
	}

	return s.repo.Create(ctx, types.Auction{
		GemID:               in.GemID,
		SellerID:            gem.SellerID,
		StartPrice:          in.StartPrice,
		MinimumBidIncrement: increment,
		StartTime:           in.StartTime,
		EndTime:             in.EndTime,
		Status:              types.AuctionUpcoming,
	})
}

func (s *AuctionService) Get(ctx context.Context, id int) (types.Auction, error) {
	return s.repo.Get(ctx, id)
}

func (s *AuctionService) GetByGem(ctx context.Context, gemID int) (types.Auction, error) {
	return s.repo.GetByGem(ctx, gemID)
}

func (s *AuctionService) List(ctx context.Context, status types.AuctionStatus) ([]types.Auction, error) {
	if status != "" && !status.Valid() {
		return nil, validationErrorf("invalid auction status")
	}
	return s.repo.ListByStatus(ctx, status)
}

// Cancel marks an auction cancelled. Only the seller or an admin may
// cancel, and an ended auction cannot be cancelled.
func (s *AuctionService) Cancel(ctx context.Context, requester types.User, id int) (types.Auction, error) {
	auction, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Auction{}, err
	}

	allowed := auction.SellerID == requester.ID || requester.Role == types.RoleAdmin
	if !allowed {
		return types.Auction{}, fmt.Errorf("not authorized to cancel this auction: %w", ErrForbidden)
	}

	switch auction.Status {
	case types.AuctionEnded:
		return types.Auction{}, validationErrorf("auction has already ended")
	case types.AuctionCancelled:
		return types.Auction{}, validationErrorf("auction is already cancelled")
	case types.AuctionUpcoming, types.AuctionActive:
	}

	auction.Status = types.AuctionCancelled
	return s.repo.Update(ctx, auction)
}
