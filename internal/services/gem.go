package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gemmarket/apiserver/internal/mq"
	"github.com/gemmarket/apiserver/internal/store"
	"github.com/gemmarket/apiserver/types"
	"go.uber.org/zap"
)

const (
	maxTitleLen       = 100
	maxDescriptionLen = 2000
	maxRejectionLen   = 500

	imageAssetKind       = "images"
	certificateAssetKind = "certificates"
)

// GemRepository defines persistence operations for gem listings.
type GemRepository interface {
	Get(ctx context.Context, id int) (types.Gem, error)
	GetWithSeller(ctx context.Context, id int) (types.Gem, error)
	ListBySeller(ctx context.Context, sellerID int) ([]types.Gem, error)
	ListApproved(ctx context.Context, filter store.GemFilter) ([]types.Gem, error)
	Create(ctx context.Context, gem types.Gem) (types.Gem, error)
	Update(ctx context.Context, gem types.Gem) (types.Gem, error)
	SetViews(ctx context.Context, id, views int) error
	Delete(ctx context.Context, id int) error
	Watchers(ctx context.Context, gemID int) ([]int, error)
	AddWatcher(ctx context.Context, gemID, userID int) error
	RemoveWatcher(ctx context.Context, gemID, userID int) error
}

// AssetStorage persists uploaded listing assets.
type AssetStorage interface {
	Save(ctx context.Context, kind, filename string, r io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
	URL(key string) string
}

// EventPublisher emits listing lifecycle events for the external
// moderation pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

// AssetUpload is a raw uploaded file attached to a create request.
type AssetUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AssetResult pairs an uploaded asset with its processing outcome.
// Upload failures are recorded here instead of failing the listing.
type AssetResult struct {
	Filename  string `json:"filename"`
	ObjectKey string `json:"object_key,omitempty"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CreateGemInput carries a new listing submission. Carat and Price are
// pointers so a missing value is distinguishable from zero.
type CreateGemInput struct {
	Title           string
	Description     string
	GemType         types.GemType
	Carat           *float64
	Cut             types.Cut
	Color           string
	Clarity         types.Clarity
	Origin          string
	ListingType     types.ListingType
	Price           *float64
	CertificateType types.CertificateType
	Images          []AssetUpload
	Certificates    []AssetUpload
}

// UpdateGemInput carries a partial listing update. Nil fields are left
// unchanged. Moderation status is deliberately absent; it moves only
// through SetStatus.
type UpdateGemInput struct {
	Title       *string
	Description *string
	GemType     *types.GemType
	Carat       *float64
	Cut         *types.Cut
	Color       *string
	Clarity     *types.Clarity
	Origin      *string
	ListingType *types.ListingType
	Price       *float64
	IsPublic    *bool
}

// CreateResult is a created listing plus the per-asset outcomes.
type CreateResult struct {
	Gem    types.Gem     `json:"gem"`
	Assets []AssetResult `json:"assets,omitempty"`
}

// GemService encapsulates the gem listing lifecycle.
type GemService struct {
	repo   GemRepository
	assets AssetStorage
	events EventPublisher
	log    *zap.Logger
}

// NewGemService constructs a GemService. events may be nil to disable
// lifecycle event publishing.
func NewGemService(repo GemRepository, assets AssetStorage, events EventPublisher, log *zap.Logger) *GemService {
	if log == nil {
		log = zap.NewNop()
	}
	return &GemService{
		repo:   repo,
		assets: assets,
		events: events,
		log:    log,
	}
}

// Create validates and persists a new listing for the requester.
// The listing always starts in "pending" status. Asset uploads are
// best-effort: a failed upload is logged and reported in the result,
// never fatal to the listing.
func (s *GemService) Create(ctx context.Context, requester types.User, in CreateGemInput) (CreateResult, error) {
	if in.Carat == nil {
		return CreateResult{}, validationErrorf("carat is required")
	}

	listingType := in.ListingType
	if listingType == "" {
		listingType = types.ListingPortfolio
	}
	certType := in.CertificateType
	if certType == "" {
		certType = types.CertOther
	}
	if !certType.Valid() {
		return CreateResult{}, validationErrorf("invalid certificate type")
	}

	gem := types.Gem{
		Title:       in.Title,
		Description: in.Description,
		GemType:     in.GemType,
		Carat:       *in.Carat,
		Cut:         in.Cut,
		Color:       in.Color,
		Clarity:     in.Clarity,
		Origin:      in.Origin,
		SellerID:    requester.ID,
		ListingType: listingType,
		Price:       in.Price,
		Status:      types.StatusPending,
	}
	if err := validateGem(gem); err != nil {
		return CreateResult{}, err
	}

	// Invalid input is reported before authorization.
	if !requester.Role.CanList() {
		return CreateResult{}, fmt.Errorf("only sellers and collectors can create gem listings: %w", ErrForbidden)
	}

	results := make([]AssetResult, 0, len(in.Images)+len(in.Certificates))
	now := time.Now()

	for _, upload := range in.Images {
		key, err := s.saveAsset(ctx, imageAssetKind, upload)
		if err != nil {
			s.log.Warn("image upload failed",
				zap.String("filename", upload.Filename), zap.Error(err))
			results = append(results, AssetResult{Filename: upload.Filename, Error: err.Error()})
			continue
		}
		gem.Images = append(gem.Images, types.GemImage{
			URL:        s.assets.URL(key),
			ObjectKey:  key,
			UploadedAt: now,
		})
		results = append(results, AssetResult{Filename: upload.Filename, ObjectKey: key, URL: s.assets.URL(key)})
	}

	for _, upload := range in.Certificates {
		key, err := s.saveAsset(ctx, certificateAssetKind, upload)
		if err != nil {
			s.log.Warn("certificate upload failed",
				zap.String("filename", upload.Filename), zap.Error(err))
			results = append(results, AssetResult{Filename: upload.Filename, Error: err.Error()})
			continue
		}
		gem.Certificates = append(gem.Certificates, types.GemCertificate{
			URL:             s.assets.URL(key),
			ObjectKey:       key,
			CertificateType: certType,
			UploadedAt:      now,
		})
		results = append(results, AssetResult{Filename: upload.Filename, ObjectKey: key, URL: s.assets.URL(key)})
	}

	created, err := s.repo.Create(ctx, gem)
	if err != nil {
		return CreateResult{}, err
	}

	s.publishEvent(ctx, mq.TopicGemSubmitted, created)
	return CreateResult{Gem: created, Assets: results}, nil
}

// Get fetches a listing with its seller projection and bumps the view
// counter. The increment is read-then-write, not atomic with the
// fetch; concurrent readers may lose counts.
func (s *GemService) Get(ctx context.Context, id int) (types.Gem, error) {
	gem, err := s.repo.GetWithSeller(ctx, id)
	if err != nil {
		return types.Gem{}, err
	}

	gem.Views++
	if err := s.repo.SetViews(ctx, id, gem.Views); err != nil {
		return types.Gem{}, err
	}
	return gem, nil
}

// ListMine returns the requester's own listings, newest first.
func (s *GemService) ListMine(ctx context.Context, requester types.User) ([]types.Gem, error) {
	return s.repo.ListBySeller(ctx, requester.ID)
}

// ListApproved returns publicly visible listings matching the filter.
func (s *GemService) ListApproved(ctx context.Context, filter store.GemFilter) ([]types.Gem, error) {
	return s.repo.ListApproved(ctx, filter)
}

// Update applies a partial update to a listing. Only the owner or an
// admin may update; the merged record is re-validated before persisting.
func (s *GemService) Update(ctx context.Context, requester types.User, id int, in UpdateGemInput) (types.Gem, error) {
	gem, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Gem{}, err
	}
	if !canModify(requester, gem) {
		return types.Gem{}, fmt.Errorf("not authorized to update this gem: %w", ErrForbidden)
	}

	if in.Title != nil {
		gem.Title = *in.Title
	}
	if in.Description != nil {
		gem.Description = *in.Description
	}
	if in.GemType != nil {
		gem.GemType = *in.GemType
	}
	if in.Carat != nil {
		gem.Carat = *in.Carat
	}
	if in.Cut != nil {
		gem.Cut = *in.Cut
	}
	if in.Color != nil {
		gem.Color = *in.Color
	}
	if in.Clarity != nil {
		gem.Clarity = *in.Clarity
	}
	if in.Origin != nil {
		gem.Origin = *in.Origin
	}
	if in.ListingType != nil {
		gem.ListingType = *in.ListingType
	}
	if in.Price != nil {
		gem.Price = in.Price
	}
	if in.IsPublic != nil {
		gem.IsPublic = *in.IsPublic
	}

	if err := validateGem(gem); err != nil {
		return types.Gem{}, err
	}
	return s.repo.Update(ctx, gem)
}

// Delete removes a listing and, best-effort, its stored assets. Only
// the owner or an admin may delete.
func (s *GemService) Delete(ctx context.Context, requester types.User, id int) error {
	gem, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canModify(requester, gem) {
		return fmt.Errorf("not authorized to delete this gem: %w", ErrForbidden)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	for _, image := range gem.Images {
		if err := s.assets.Remove(ctx, image.ObjectKey); err != nil {
			s.log.Warn("failed to remove image asset",
				zap.String("object_key", image.ObjectKey), zap.Error(err))
		}
	}
	for _, cert := range gem.Certificates {
		if err := s.assets.Remove(ctx, cert.ObjectKey); err != nil {
			s.log.Warn("failed to remove certificate asset",
				zap.String("object_key", cert.ObjectKey), zap.Error(err))
		}
	}
	return nil
}

// SetStatus drives the moderation transition: pending -> approved or
// pending -> rejected, admin only. Rejections require a reason.
func (s *GemService) SetStatus(ctx context.Context, requester types.User, id int, status types.GemStatus, reason string) (types.Gem, error) {
	switch requester.Role {
	case types.RoleAdmin:
	case types.RoleBuyer, types.RoleSeller, types.RoleCollector:
		return types.Gem{}, fmt.Errorf("admin access required: %w", ErrForbidden)
	default:
		return types.Gem{}, fmt.Errorf("admin access required: %w", ErrForbidden)
	}

	if status != types.StatusApproved && status != types.StatusRejected {
		return types.Gem{}, validationErrorf("status must be approved or rejected")
	}

	gem, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Gem{}, err
	}
	if gem.Status != types.StatusPending {
		return types.Gem{}, validationErrorf("only pending gems can be moderated")
	}

	gem.Status = status
	if status == types.StatusRejected {
		if reason == "" {
			return types.Gem{}, validationErrorf("rejection reason is required")
		}
		gem.RejectionReason = reason
	} else {
		gem.RejectionReason = ""
	}

	updated, err := s.repo.Update(ctx, gem)
	if err != nil {
		return types.Gem{}, err
	}

	s.publishEvent(ctx, mq.TopicGemStatusChanged, updated)
	return updated, nil
}

func (s *GemService) saveAsset(ctx context.Context, kind string, upload AssetUpload) (string, error) {
	return s.assets.Save(ctx, kind, upload.Filename,
		bytes.NewReader(upload.Data), int64(len(upload.Data)), upload.ContentType)
}

// publishEvent is best-effort: a broker failure is logged, never
// surfaced to the caller.
func (s *GemService) publishEvent(ctx context.Context, topic string, gem types.Gem) {
	if s.events == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"gem_id":    gem.ID,
		"seller_id": gem.SellerID,
		"title":     gem.Title,
		"status":    gem.Status,
	})
	if err != nil {
		return
	}

	if _, err := s.events.Publish(ctx, topic, payload, nil); err != nil {
		s.log.Warn("failed to publish listing event",
			zap.String("topic", topic), zap.Int("gem_id", gem.ID), zap.Error(err))
	}
}

func canModify(requester types.User, gem types.Gem) bool {
	if gem.SellerID == requester.ID {
		return true
	}
	switch requester.Role {
	case types.RoleAdmin:
		return true
	case types.RoleBuyer, types.RoleSeller, types.RoleCollector:
		return false
	default:
		return false
	}
}

func validateGem(gem types.Gem) error {
	if gem.Title == "" {
		return validationErrorf("title is required")
	}
	if len(gem.Title) > maxTitleLen {
		return validationErrorf("title is too long")
	}
	if gem.Description == "" {
		return validationErrorf("description is required")
	}
	if len(gem.Description) > maxDescriptionLen {
		return validationErrorf("description is too long")
	}
	if gem.GemType == "" {
		return validationErrorf("gem type is required")
	}
	if !gem.GemType.Valid() {
		return validationErrorf("invalid gem type")
	}
	if gem.Carat < 0 {
		return validationErrorf("carat cannot be negative")
	}
	if gem.Cut == "" {
		return validationErrorf("cut is required")
	}
	if !gem.Cut.Valid() {
		return validationErrorf("invalid cut")
	}
	if gem.Color == "" {
		return validationErrorf("color is required")
	}
	if gem.Clarity != "" && !gem.Clarity.Valid() {
		return validationErrorf("invalid clarity")
	}
	if gem.Origin == "" {
		return validationErrorf("origin is required")
	}
	if !gem.ListingType.Valid() {
		return validationErrorf("invalid listing type")
	}
	if gem.Price != nil && *gem.Price < 0 {
		return validationErrorf("price cannot be negative")
	}
	if len(gem.RejectionReason) > maxRejectionLen {
		return validationErrorf("rejection reason is too long")
	}
	return nil
}
