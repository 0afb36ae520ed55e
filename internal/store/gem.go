package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gemmarket/apiserver/types"
)

// GemFilter narrows the public approved-listings query. Zero values
// mean the corresponding filter is not applied. Carat bounds are
// inclusive.
type GemFilter struct {
	GemType     string
	Origin      string
	ListingType string
	MinCarat    *float64
	MaxCarat    *float64
}

// GemRepository handles persistence for gem listings and their
// watcher sets.
type GemRepository struct {
	db *sql.DB
}

func NewGemRepository(db *sql.DB) *GemRepository {
	return &GemRepository{db: db}
}

const gemColumns = `g.id, g.title, g.description, g.gem_type, g.carat, g.cut,
	g.color, g.clarity, g.origin, g.images, g.certificates, g.seller_id,
	g.listing_type, g.price, g.status, g.rejection_reason, g.is_public,
	g.views, g.created_at, g.updated_at`

func scanGem(row interface{ Scan(...any) error }, extra ...any) (types.Gem, error) {
	var gem types.Gem
	var imagesJSON, certsJSON []byte
	var price sql.NullFloat64

	dest := []any{
		&gem.ID,
		&gem.Title,
		&gem.Description,
		&gem.GemType,
		&gem.Carat,
		&gem.Cut,
		&gem.Color,
		&gem.Clarity,
		&gem.Origin,
		&imagesJSON,
		&certsJSON,
		&gem.SellerID,
		&gem.ListingType,
		&price,
		&gem.Status,
		&gem.RejectionReason,
		&gem.IsPublic,
		&gem.Views,
		&gem.CreatedAt,
		&gem.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return types.Gem{}, err
	}

	if err := json.Unmarshal(imagesJSON, &gem.Images); err != nil {
		return types.Gem{}, fmt.Errorf("decode images: %w", err)
	}
	if err := json.Unmarshal(certsJSON, &gem.Certificates); err != nil {
		return types.Gem{}, fmt.Errorf("decode certificates: %w", err)
	}
	if price.Valid {
		gem.Price = &price.Float64
	}
	return gem, nil
}

func (r *GemRepository) Get(ctx context.Context, id int) (types.Gem, error) {
	const query = `
		SELECT ` + gemColumns + `
		FROM gems g
		WHERE g.id = $1`
	gem, err := scanGem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Gem{}, ErrNotFound
		}
		return types.Gem{}, err
	}
	return gem, nil
}

// GetWithSeller fetches a gem joined with the reduced seller
// projection (name, email, rating) and its watcher set.
func (r *GemRepository) GetWithSeller(ctx context.Context, id int) (types.Gem, error) {
	const query = `
		SELECT ` + gemColumns + `, u.name, u.email, u.rating
		FROM gems g
		JOIN users u ON u.id = g.seller_id
		WHERE g.id = $1`
	var seller types.SellerSummary
	gem, err := scanGem(r.db.QueryRowContext(ctx, query, id),
		&seller.Name, &seller.Email, &seller.Rating)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Gem{}, ErrNotFound
		}
		return types.Gem{}, err
	}
	gem.Seller = &seller

	watchers, err := r.Watchers(ctx, id)
	if err != nil {
		return types.Gem{}, err
	}
	gem.Watchers = watchers
	return gem, nil
}

// ListBySeller returns all gems owned by the given seller, newest
// first, with the seller's name and email joined.
func (r *GemRepository) ListBySeller(ctx context.Context, sellerID int) ([]types.Gem, error) {
	const query = `
		SELECT ` + gemColumns + `, u.name, u.email, u.rating
		FROM gems g
		JOIN users u ON u.id = g.seller_id
		WHERE g.seller_id = $1
		ORDER BY g.created_at DESC`
	return r.list(ctx, query, sellerID)
}

// ListApproved returns approved gems matching the filter, newest first,
// with the seller's name and rating joined.
func (r *GemRepository) ListApproved(ctx context.Context, filter GemFilter) ([]types.Gem, error) {
	where, args := buildApprovedWhere(filter)
	query := `
		SELECT ` + gemColumns + `, u.name, u.email, u.rating
		FROM gems g
		JOIN users u ON u.id = g.seller_id
		WHERE ` + where + `
		ORDER BY g.created_at DESC`
	return r.list(ctx, query, args...)
}

// buildApprovedWhere assembles the WHERE clause for the public query.
// Origin matches as a case-insensitive substring; carat bounds are
// inclusive on both ends.
func buildApprovedWhere(filter GemFilter) (string, []any) {
	conds := []string{fmt.Sprintf("g.status = $%d", 1)}
	args := []any{string(types.StatusApproved)}

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.GemType != "" {
		add("g.gem_type = $%d", filter.GemType)
	}
	if filter.Origin != "" {
		add("g.origin ILIKE $%d", "%"+likeEscape(filter.Origin)+"%")
	}
	if filter.ListingType != "" {
		add("g.listing_type = $%d", filter.ListingType)
	}
	if filter.MinCarat != nil {
		add("g.carat >= $%d", *filter.MinCarat)
	}
	if filter.MaxCarat != nil {
		add("g.carat <= $%d", *filter.MaxCarat)
	}

	return strings.Join(conds, " AND "), args
}

func likeEscape(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

func (r *GemRepository) list(ctx context.Context, query string, args ...any) ([]types.Gem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	gems := make([]types.Gem, 0)
	for rows.Next() {
		var seller types.SellerSummary
		gem, err := scanGem(rows, &seller.Name, &seller.Email, &seller.Rating)
		if err != nil {
			return nil, err
		}
		gem.Seller = &seller
		gems = append(gems, gem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return gems, nil
}

func (r *GemRepository) Create(ctx context.Context, gem types.Gem) (types.Gem, error) {
	now := time.Now()
	gem.CreatedAt = now
	gem.UpdatedAt = now

	imagesJSON, err := json.Marshal(gem.Images)
	if err != nil {
		return types.Gem{}, err
	}
	certsJSON, err := json.Marshal(gem.Certificates)
	if err != nil {
		return types.Gem{}, err
	}

	const query = `
		INSERT INTO gems (title, description, gem_type, carat, cut, color,
			clarity, origin, images, certificates, seller_id, listing_type,
			price, status, rejection_reason, is_public, views, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		gem.Title,
		gem.Description,
		gem.GemType,
		gem.Carat,
		gem.Cut,
		gem.Color,
		gem.Clarity,
		gem.Origin,
		imagesJSON,
		certsJSON,
		gem.SellerID,
		gem.ListingType,
		nullFloat(gem.Price),
		gem.Status,
		gem.RejectionReason,
		gem.IsPublic,
		gem.Views,
		gem.CreatedAt,
		gem.UpdatedAt,
	).Scan(&gem.ID); err != nil {
		return types.Gem{}, err
	}

	return gem, nil
}

func (r *GemRepository) Update(ctx context.Context, gem types.Gem) (types.Gem, error) {
	gem.UpdatedAt = time.Now()

	imagesJSON, err := json.Marshal(gem.Images)
	if err != nil {
		return types.Gem{}, err
	}
	certsJSON, err := json.Marshal(gem.Certificates)
	if err != nil {
		return types.Gem{}, err
	}

	const query = `
		UPDATE gems
		SET title = $1,
			description = $2,
			gem_type = $3,
			carat = $4,
			cut = $5,
			color = $6,
			clarity = $7,
			origin = $8,
			images = $9,
			certificates = $10,
			listing_type = $11,
			price = $12,
			status = $13,
			rejection_reason = $14,
			is_public = $15,
			updated_at = $16
		WHERE id = $17`
	result, err := r.db.ExecContext(
		ctx,
		query,
		gem.Title,
		gem.Description,
		gem.GemType,
		gem.Carat,
		gem.Cut,
		gem.Color,
		gem.Clarity,
		gem.Origin,
		imagesJSON,
		certsJSON,
		gem.ListingType,
		nullFloat(gem.Price),
		gem.Status,
		gem.RejectionReason,
		gem.IsPublic,
		gem.UpdatedAt,
		gem.ID,
	)
	if err != nil {
		return types.Gem{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Gem{}, err
	}
	if affected == 0 {
		return types.Gem{}, ErrNotFound
	}

	return gem, nil
}

// SetViews persists an absolute view count. The increment is a
// read-modify-write across Get and SetViews, so concurrent detail
// fetches can lose counts. Accepted for a view counter.
func (r *GemRepository) SetViews(ctx context.Context, id, views int) error {
	const query = `UPDATE gems SET views = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, views, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GemRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM gems WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Watchers returns the IDs of users watching the gem.
func (r *GemRepository) Watchers(ctx context.Context, gemID int) ([]int, error) {
	const query = `SELECT user_id FROM gem_watchers WHERE gem_id = $1 ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query, gemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddWatcher records a user's interest. The primary key keeps the set
// deduplicated even if two requests race past the service check.
func (r *GemRepository) AddWatcher(ctx context.Context, gemID, userID int) error {
	const query = `
		INSERT INTO gem_watchers (gem_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, gemID, userID)
	return err
}

// RemoveWatcher removes a user's interest. Removing an absent watcher
// is not an error.
func (r *GemRepository) RemoveWatcher(ctx context.Context, gemID, userID int) error {
	const query = `DELETE FROM gem_watchers WHERE gem_id = $1 AND user_id = $2`
	_, err := r.db.ExecContext(ctx, query, gemID, userID)
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
