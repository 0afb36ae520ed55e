package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gemmarket/apiserver/types"
)

// AuctionRepository handles persistence for auction records.
type AuctionRepository struct {
	db *sql.DB
}

func NewAuctionRepository(db *sql.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

const auctionColumns = `id, gem_id, seller_id, start_price, current_bid,
	minimum_bid_increment, highest_bidder_id, start_time, end_time,
	status, total_bids, winner_id, created_at, updated_at`

func scanAuction(row interface{ Scan(...any) error }) (types.Auction, error) {
	var auction types.Auction
	var highestBidder, winner sql.NullInt64
	err := row.Scan(
		&auction.ID,
		&auction.GemID,
		&auction.SellerID,
		&auction.StartPrice,
		&auction.CurrentBid,
		&auction.MinimumBidIncrement,
		&highestBidder,
		&auction.StartTime,
		&auction.EndTime,
		&auction.Status,
		&auction.TotalBids,
		&winner,
		&auction.CreatedAt,
		&auction.UpdatedAt,
	)
	if err != nil {
		return types.Auction{}, err
	}
	if highestBidder.Valid {
		id := int(highestBidder.Int64)
		auction.HighestBidderID = &id
	}
	if winner.Valid {
		id := int(winner.Int64)
		auction.WinnerID = &id
	}
	return auction, nil
}

func (r *AuctionRepository) Get(ctx context.Context, id int) (types.Auction, error) {
	const query = `
		SELECT ` + auctionColumns + `
		FROM auctions
		WHERE id = $1`
	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Auction{}, ErrNotFound
		}
		return types.Auction{}, err
	}
	return auction, nil
}

func (r *AuctionRepository) GetByGem(ctx context.Context, gemID int) (types.Auction, error) {
	const query = `
		SELECT ` + auctionColumns + `
		FROM auctions
		WHERE gem_id = $1`
	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, gemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Auction{}, ErrNotFound
		}
		return types.Auction{}, err
	}
	return auction, nil
}

// ListByStatus returns auctions in the given state, soonest-ending
// first. An empty status returns all auctions.
func (r *AuctionRepository) ListByStatus(ctx context.Context, status types.AuctionStatus) ([]types.Auction, error) {
	query := `
		SELECT ` + auctionColumns + `
		FROM auctions
		ORDER BY end_time`
	args := []any{}
	if status != "" {
		query = `
			SELECT ` + auctionColumns + `
			FROM auctions
			WHERE status = $1
			ORDER BY end_time`
		args = append(args, status)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	auctions := make([]types.Auction, 0)
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}
	return auctions, rows.Err()
}

func (r *AuctionRepository) Create(ctx context.Context, auction types.Auction) (types.Auction, error) {
	now := time.Now()
	auction.CreatedAt = now
	auction.UpdatedAt = now

	const query = `
		INSERT INTO auctions (gem_id, seller_id, start_price, current_bid,
			minimum_bid_increment, highest_bidder_id, start_time, end_time,
			status, total_bids, winner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		auction.GemID,
		auction.SellerID,
		auction.StartPrice,
		auction.CurrentBid,
		auction.MinimumBidIncrement,
		nullInt(auction.HighestBidderID),
		auction.StartTime,
		auction.EndTime,
		auction.Status,
		auction.TotalBids,
		nullInt(auction.WinnerID),
		auction.CreatedAt,
		auction.UpdatedAt,
	).Scan(&auction.ID); err != nil {
		return types.Auction{}, err
	}
	return auction, nil
}

func (r *AuctionRepository) Update(ctx context.Context, auction types.Auction) (types.Auction, error) {
	auction.UpdatedAt = time.Now()

	const query = `
		UPDATE auctions
		SET start_price = $1,
			current_bid = $2,
			minimum_bid_increment = $3,
			highest_bidder_id = $4,
			start_time = $5,
			end_time = $6,
			status = $7,
			total_bids = $8,
			winner_id = $9,
			updated_at = $10
		WHERE id = $11`
	result, err := r.db.ExecContext(
		ctx,
		query,
		auction.StartPrice,
		auction.CurrentBid,
		auction.MinimumBidIncrement,
		nullInt(auction.HighestBidderID),
		auction.StartTime,
		auction.EndTime,
		auction.Status,
		auction.TotalBids,
		nullInt(auction.WinnerID),
		auction.UpdatedAt,
		auction.ID,
	)
	if err != nil {
		return types.Auction{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Auction{}, err
	}
	if affected == 0 {
		return types.Auction{}, ErrNotFound
	}
	return auction, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
