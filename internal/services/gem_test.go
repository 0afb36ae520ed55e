package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/gemmarket/apiserver/internal/store"
	"github.com/gemmarket/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGemRepo struct {
	gems     map[int]types.Gem
	watchers map[int][]int
	nextID   int
}

func newFakeGemRepo() *fakeGemRepo {
	return &fakeGemRepo{
		gems:     make(map[int]types.Gem),
		watchers: make(map[int][]int),
		nextID:   1,
	}
}

func (r *fakeGemRepo) Get(_ context.Context, id int) (types.Gem, error) {
	gem, ok := r.gems[id]
	if !ok {
		return types.Gem{}, store.ErrNotFound
	}
	return gem, nil
}

func (r *fakeGemRepo) GetWithSeller(ctx context.Context, id int) (types.Gem, error) {
	gem, err := r.Get(ctx, id)
	if err != nil {
		return types.Gem{}, err
	}
	gem.Seller = &types.SellerSummary{Name: "Seller"}
	gem.Watchers = append([]int(nil), r.watchers[id]...)
	return gem, nil
}

func (r *fakeGemRepo) ListBySeller(_ context.Context, sellerID int) ([]types.Gem, error) {
	gems := make([]types.Gem, 0)
	for _, gem := range r.gems {
		if gem.SellerID == sellerID {
			gems = append(gems, gem)
		}
	}
	return gems, nil
}

func (r *fakeGemRepo) ListApproved(_ context.Context, _ store.GemFilter) ([]types.Gem, error) {
	gems := make([]types.Gem, 0)
	for _, gem := range r.gems {
		if gem.Status == types.StatusApproved {
			gems = append(gems, gem)
		}
	}
	return gems, nil
}

func (r *fakeGemRepo) Create(_ context.Context, gem types.Gem) (types.Gem, error) {
	gem.ID = r.nextID
	r.nextID++
	r.gems[gem.ID] = gem
	return gem, nil
}

func (r *fakeGemRepo) Update(_ context.Context, gem types.Gem) (types.Gem, error) {
	if _, ok := r.gems[gem.ID]; !ok {
		return types.Gem{}, store.ErrNotFound
	}
	r.gems[gem.ID] = gem
	return gem, nil
}

func (r *fakeGemRepo) SetViews(_ context.Context, id, views int) error {
	gem, ok := r.gems[id]
	if !ok {
		return store.ErrNotFound
	}
	gem.Views = views
	r.gems[id] = gem
	return nil
}

func (r *fakeGemRepo) Delete(_ context.Context, id int) error {
	if _, ok := r.gems[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.gems, id)
	delete(r.watchers, id)
	return nil
}

func (r *fakeGemRepo) Watchers(_ context.Context, gemID int) ([]int, error) {
	return append([]int(nil), r.watchers[gemID]...), nil
}

func (r *fakeGemRepo) AddWatcher(_ context.Context, gemID, userID int) error {
	for _, id := range r.watchers[gemID] {
		if id == userID {
			return nil
		}
	}
	r.watchers[gemID] = append(r.watchers[gemID], userID)
	return nil
}

func (r *fakeGemRepo) RemoveWatcher(_ context.Context, gemID, userID int) error {
	kept := r.watchers[gemID][:0]
	for _, id := range r.watchers[gemID] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	r.watchers[gemID] = kept
	return nil
}

type fakeAssets struct {
	saved   map[string][]byte
	removed []string
	failFor map[string]bool
	nextKey int
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{
		saved:   make(map[string][]byte),
		failFor: make(map[string]bool),
	}
}

func (a *fakeAssets) Save(_ context.Context, kind, filename string, r io.Reader, _ int64, _ string) (string, error) {
	if a.failFor[filename] {
		return "", errors.New("storage unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	a.nextKey++
	key := fmt.Sprintf("%s/asset-%d", kind, a.nextKey)
	a.saved[key] = data
	return key, nil
}

func (a *fakeAssets) Remove(_ context.Context, key string) error {
	if _, ok := a.saved[key]; !ok {
		return errors.New("no such object")
	}
	delete(a.saved, key)
	a.removed = append(a.removed, key)
	return nil
}

func (a *fakeAssets) URL(key string) string {
	return "/uploads/" + key
}

type fakePublisher struct {
	topics []string
}

func (p *fakePublisher) Publish(_ context.Context, topic string, _ []byte, _ map[string]string) (string, error) {
	p.topics = append(p.topics, topic)
	return "msg-1", nil
}

func floatPtr(v float64) *float64 { return &v }

func validCreateInput() CreateGemInput {
	return CreateGemInput{
		Title:       "Ceylon Blue Sapphire",
		Description: "A cornflower blue sapphire from Ratnapura.",
		GemType:     types.GemSapphire,
		Carat:       floatPtr(2.5),
		Cut:         types.CutOval,
		Color:       "Cornflower Blue",
		Clarity:     types.ClarityVS1,
		Origin:      "Sri Lanka",
		ListingType: types.ListingFixedPrice,
		Price:       floatPtr(4500),
	}
}

func seller() types.User {
	return types.User{ID: 10, Name: "Nimal", Role: types.RoleSeller}
}

func TestGemCreateStartsPending(t *testing.T) {
	repo := newFakeGemRepo()
	publisher := &fakePublisher{}
	svc := NewGemService(repo, newFakeAssets(), publisher, nil)

	result, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	assert.Equal(t, types.StatusPending, result.Gem.Status)
	assert.Equal(t, 10, result.Gem.SellerID)
	assert.Equal(t, []string{"gems.submitted"}, publisher.topics)

	stored, err := repo.Get(context.Background(), result.Gem.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, stored.Status)
}

func TestGemCreateRoleGate(t *testing.T) {
	tests := []struct {
		name    string
		role    types.Role
		allowed bool
	}{
		{"buyer", types.RoleBuyer, false},
		{"admin", types.RoleAdmin, false},
		{"seller", types.RoleSeller, true},
		{"collector", types.RoleCollector, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeGemRepo()
			svc := NewGemService(repo, newFakeAssets(), nil, nil)

			requester := types.User{ID: 1, Role: tc.role}
			_, err := svc.Create(context.Background(), requester, validCreateInput())
			if tc.allowed {
				require.NoError(t, err)
				assert.Len(t, repo.gems, 1)
				return
			}
			require.ErrorIs(t, err, ErrForbidden)
			assert.Empty(t, repo.gems)
		})
	}
}

func TestGemCreateValidationBeforeRoleGate(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	input := validCreateInput()
	input.Title = ""

	buyer := types.User{ID: 1, Role: types.RoleBuyer}
	_, err := svc.Create(context.Background(), buyer, input)
	require.Error(t, err)
	assert.True(t, IsValidation(err), "invalid input is reported before authorization, got %v", err)
	assert.NotErrorIs(t, err, ErrForbidden)
	assert.Empty(t, repo.gems)
}

func TestGemCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateGemInput)
	}{
		{"missing title", func(in *CreateGemInput) { in.Title = "" }},
		{"missing description", func(in *CreateGemInput) { in.Description = "" }},
		{"missing gem type", func(in *CreateGemInput) { in.GemType = "" }},
		{"invalid gem type", func(in *CreateGemInput) { in.GemType = "Kryptonite" }},
		{"missing carat", func(in *CreateGemInput) { in.Carat = nil }},
		{"negative carat", func(in *CreateGemInput) { in.Carat = floatPtr(-1) }},
		{"missing cut", func(in *CreateGemInput) { in.Cut = "" }},
		{"invalid cut", func(in *CreateGemInput) { in.Cut = "Square" }},
		{"missing color", func(in *CreateGemInput) { in.Color = "" }},
		{"invalid clarity", func(in *CreateGemInput) { in.Clarity = "XYZ" }},
		{"missing origin", func(in *CreateGemInput) { in.Origin = "" }},
		{"invalid listing type", func(in *CreateGemInput) { in.ListingType = "raffle" }},
		{"negative price", func(in *CreateGemInput) { in.Price = floatPtr(-100) }},
		{"invalid certificate type", func(in *CreateGemInput) { in.CertificateType = "Unknown Lab" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeGemRepo()
			svc := NewGemService(repo, newFakeAssets(), nil, nil)

			input := validCreateInput()
			tc.mutate(&input)

			_, err := svc.Create(context.Background(), seller(), input)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
			assert.Empty(t, repo.gems, "invalid listing must not be persisted")
		})
	}
}

func TestGemCreateAssetUploadBestEffort(t *testing.T) {
	repo := newFakeGemRepo()
	assets := newFakeAssets()
	assets.failFor["broken.jpg"] = true
	svc := NewGemService(repo, assets, nil, nil)

	input := validCreateInput()
	input.Images = []AssetUpload{
		{Filename: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")},
		{Filename: "broken.jpg", ContentType: "image/jpeg", Data: []byte("back")},
	}
	input.Certificates = []AssetUpload{
		{Filename: "cert.pdf", ContentType: "application/pdf", Data: []byte("cert")},
	}
	input.CertificateType = types.CertGIA

	result, err := svc.Create(context.Background(), seller(), input)
	require.NoError(t, err, "an upload failure must not fail the listing")

	require.Len(t, result.Assets, 3)
	assert.Empty(t, result.Assets[0].Error)
	assert.Equal(t, "storage unavailable", result.Assets[1].Error)
	assert.Empty(t, result.Assets[2].Error)

	require.Len(t, result.Gem.Images, 1)
	require.Len(t, result.Gem.Certificates, 1)
	assert.Equal(t, types.CertGIA, result.Gem.Certificates[0].CertificateType)
	assert.Len(t, assets.saved, 2)
}

func TestGemCreateDefaults(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	input := validCreateInput()
	input.ListingType = ""
	input.Price = nil

	result, err := svc.Create(context.Background(), seller(), input)
	require.NoError(t, err)
	assert.Equal(t, types.ListingPortfolio, result.Gem.ListingType)
	assert.Nil(t, result.Gem.Price)
}

func TestGemGetIncrementsViews(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	created, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	first, err := svc.Get(context.Background(), created.Gem.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Views)

	second, err := svc.Get(context.Background(), created.Gem.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Views)
}

func TestGemGetNotFound(t *testing.T) {
	svc := NewGemService(newFakeGemRepo(), newFakeAssets(), nil, nil)

	_, err := svc.Get(context.Background(), 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGemUpdateAuthorization(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	created, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	newTitle := "Renamed"
	stranger := types.User{ID: 99, Role: types.RoleSeller}
	_, err = svc.Update(context.Background(), stranger, created.Gem.ID, UpdateGemInput{Title: &newTitle})
	require.ErrorIs(t, err, ErrForbidden)

	unchanged, err := repo.Get(context.Background(), created.Gem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ceylon Blue Sapphire", unchanged.Title)

	admin := types.User{ID: 50, Role: types.RoleAdmin}
	updated, err := svc.Update(context.Background(), admin, created.Gem.ID, UpdateGemInput{Title: &newTitle})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
}

func TestGemUpdateMergesFields(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	created, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	carat := 3.1
	updated, err := svc.Update(context.Background(), seller(), created.Gem.ID, UpdateGemInput{
		Carat: &carat,
		Price: floatPtr(5200),
	})
	require.NoError(t, err)
	assert.Equal(t, 3.1, updated.Carat)
	require.NotNil(t, updated.Price)
	assert.Equal(t, 5200.0, *updated.Price)
	assert.Equal(t, "Ceylon Blue Sapphire", updated.Title, "untouched fields keep their value")
}

func TestGemUpdateRevalidates(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	created, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	empty := ""
	_, err = svc.Update(context.Background(), seller(), created.Gem.ID, UpdateGemInput{Title: &empty})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestGemDeleteRemovesAssets(t *testing.T) {
	repo := newFakeGemRepo()
	assets := newFakeAssets()
	svc := NewGemService(repo, assets, nil, nil)

	input := validCreateInput()
	input.Images = []AssetUpload{{Filename: "front.jpg", Data: []byte("front")}}
	created, err := svc.Create(context.Background(), seller(), input)
	require.NoError(t, err)
	require.Len(t, assets.saved, 1)

	require.NoError(t, svc.Delete(context.Background(), seller(), created.Gem.ID))

	_, err = repo.Get(context.Background(), created.Gem.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, assets.saved)
}

func TestGemDeleteAuthorization(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	created, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	stranger := types.User{ID: 99, Role: types.RoleBuyer}
	err = svc.Delete(context.Background(), stranger, created.Gem.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = repo.Get(context.Background(), created.Gem.ID)
	require.NoError(t, err, "unauthorized delete must leave the record")
}

func TestGemSetStatusApprove(t *testing.T) {
	repo := newFakeGemRepo()
	publisher := &fakePublisher{}
	svc := NewGemService(repo, newFakeAssets(), publisher, nil)

	created, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	admin := types.User{ID: 1, Role: types.RoleAdmin}
	approved, err := svc.SetStatus(context.Background(), admin, created.Gem.ID, types.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, approved.Status)
	assert.Empty(t, approved.RejectionReason)
	assert.Equal(t, []string{"gems.submitted", "gems.status-changed"}, publisher.topics)
}

func TestGemSetStatusRejectRequiresReason(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	created, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	admin := types.User{ID: 1, Role: types.RoleAdmin}
	_, err = svc.SetStatus(context.Background(), admin, created.Gem.ID, types.StatusRejected, "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	rejected, err := svc.SetStatus(context.Background(), admin, created.Gem.ID, types.StatusRejected, "blurry photos")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, rejected.Status)
	assert.Equal(t, "blurry photos", rejected.RejectionReason)
}

func TestGemSetStatusAdminOnly(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	created, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	_, err = svc.SetStatus(context.Background(), seller(), created.Gem.ID, types.StatusApproved, "")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestGemSetStatusOnlyPending(t *testing.T) {
	repo := newFakeGemRepo()
	svc := NewGemService(repo, newFakeAssets(), nil, nil)

	created, err := svc.Create(context.Background(), seller(), validCreateInput())
	require.NoError(t, err)

	admin := types.User{ID: 1, Role: types.RoleAdmin}
	_, err = svc.SetStatus(context.Background(), admin, created.Gem.ID, types.StatusApproved, "")
	require.NoError(t, err)

	_, err = svc.SetStatus(context.Background(), admin, created.Gem.ID, types.StatusRejected, "nope")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = svc.SetStatus(context.Background(), admin, created.Gem.ID, types.StatusSold, "")
	require.Error(t, err)
	assert.True(t, IsValidation(err), "sold is not a moderation target")
}
