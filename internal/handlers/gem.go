package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gemmarket/apiserver/internal/services"
	"github.com/gemmarket/apiserver/internal/store"
	"github.com/gemmarket/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory = 32 << 20
	maxAssetBytes      = 10 << 20
	maxImageParts      = 10
	maxCertParts       = 5

	formFieldTitle       = "title"
	formFieldDesc        = "description"
	formFieldGemType     = "gemType"
	formFieldCarat       = "carat"
	formFieldCut         = "cut"
	formFieldColor       = "color"
	formFieldClarity     = "clarity"
	formFieldOrigin      = "origin"
	formFieldListingType = "listingType"
	formFieldPrice       = "price"
	formFieldCertType    = "certificateType"
	formFieldImages      = "images"
	formFieldCerts       = "certificates"
)

// GemHandler provides HTTP handlers for gem listings and watchlists.
type GemHandler struct {
	gemService       *services.GemService
	watchlistService *services.WatchlistService
	userService      *services.UserService
}

// NewGemHandler constructs a handler with the provided services.
func NewGemHandler(
	gemService *services.GemService,
	watchlistService *services.WatchlistService,
	userService *services.UserService,
) *GemHandler {
	return &GemHandler{
		gemService:       gemService,
		watchlistService: watchlistService,
		userService:      userService,
	}
}

// GemRouter registers gem routes on the given router.
func GemRouter(
	r chi.Router,
	gemService *services.GemService,
	watchlistService *services.WatchlistService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewGemHandler(gemService, watchlistService, userService)

	protect := func(roles ...types.Role) func(http.Handler) http.Handler {
		role := handler.requireUser(roles...)
		if authMiddleware == nil {
			return role
		}
		return func(next http.Handler) http.Handler {
			return authMiddleware(role(next))
		}
	}

	r.Get("/approved", handler.ListApproved)
	r.With(protect(types.RoleSeller, types.RoleCollector)).Get("/my-gems", handler.MyGems)
	r.With(protect(types.RoleSeller, types.RoleCollector)).Post("/", handler.CreateGem)
	r.Route("/{gemID}", func(r chi.Router) {
		r.Get("/", handler.GetGem)
		r.With(protect()).Put("/", handler.UpdateGem)
		r.With(protect()).Delete("/", handler.DeleteGem)
		r.With(protect(types.RoleAdmin)).Put("/status", handler.SetStatus)
		r.With(protect()).Post("/watch", handler.Watch)
		r.With(protect()).Delete("/watch", handler.Unwatch)
	})
}

// requireUser resolves the authenticated subject to a user record and
// injects it into context. With roles given, membership is enforced;
// with none, any authenticated user passes.
func (h *GemHandler) requireUser(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := userIDFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := h.userService.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				writeServerError(w, err)
				return
			}

			if len(roles) > 0 && !roleAllowed(user.Role, roles) {
				writeError(w, http.StatusForbidden, "access denied for this role")
				return
			}

			ctx := contextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CreateGem handles the multipart listing submission.
func (h *GemHandler) CreateGem(w http.ResponseWriter, r *http.Request) {
	requester, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	input, err := parseGemForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.gemService.Create(r.Context(), requester, input)
	if err != nil {
		switch {
		case services.IsValidation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "Only sellers and collectors can create gem listings")
		default:
			writeServerError(w, err)
		}
		return
	}

	writeData(w, http.StatusCreated, "Gem listing created successfully. Awaiting admin approval.", result)
}

// ListApproved is the public filtered listing query.
func (h *GemHandler) ListApproved(w http.ResponseWriter, r *http.Request) {
	filter, err := parseGemFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	gems, err := h.gemService.ListApproved(r.Context(), filter)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeList(w, http.StatusOK, len(gems), gems)
}

// MyGems returns the requester's own listings.
func (h *GemHandler) MyGems(w http.ResponseWriter, r *http.Request) {
	requester, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	gems, err := h.gemService.ListMine(r.Context(), requester)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeList(w, http.StatusOK, len(gems), gems)
}

// GetGem returns a single listing and bumps its view counter.
func (h *GemHandler) GetGem(w http.ResponseWriter, r *http.Request) {
	id, err := parseGemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	gem, err := h.gemService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Gem not found")
			return
		}
		writeServerError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", gem)
}

// UpdateGem applies a partial update; only the owner or an admin may
// update.
func (h *GemHandler) UpdateGem(w http.ResponseWriter, r *http.Request) {
	requester, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseGemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateGemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	gem, err := h.gemService.Update(r.Context(), requester, id, req.toInput())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Gem not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "Not authorized to update this gem")
		case services.IsValidation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeServerError(w, err)
		}
		return
	}
	writeData(w, http.StatusOK, "Gem updated successfully", gem)
}

// DeleteGem removes a listing; only the owner or an admin may delete.
func (h *GemHandler) DeleteGem(w http.ResponseWriter, r *http.Request) {
	requester, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseGemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gemService.Delete(r.Context(), requester, id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Gem not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "Not authorized to delete this gem")
		default:
			writeServerError(w, err)
		}
		return
	}
	writeData(w, http.StatusOK, "Gem deleted successfully", nil)
}

// SetStatus is the admin moderation endpoint: pending -> approved or
// rejected.
func (h *GemHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	requester, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseGemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	gem, err := h.gemService.SetStatus(r.Context(), requester, id, types.GemStatus(req.Status), req.RejectionReason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Gem not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "admin access required")
		case services.IsValidation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeServerError(w, err)
		}
		return
	}
	writeData(w, http.StatusOK, "Gem status updated", gem)
}

// Watch adds the requester to the gem's watcher set.
func (h *GemHandler) Watch(w http.ResponseWriter, r *http.Request) {
	requester, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseGemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.watchlistService.Add(r.Context(), requester.ID, id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Gem not found")
		case errors.Is(err, services.ErrConflict):
			writeError(w, http.StatusBadRequest, "Gem already in watchlist")
		default:
			writeServerError(w, err)
		}
		return
	}
	writeData(w, http.StatusOK, "Gem added to watchlist", nil)
}

// Unwatch removes the requester from the gem's watcher set. Removing
// an absent watcher succeeds.
func (h *GemHandler) Unwatch(w http.ResponseWriter, r *http.Request) {
	requester, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseGemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.watchlistService.Remove(r.Context(), requester.ID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Gem not found")
			return
		}
		writeServerError(w, err)
		return
	}
	writeData(w, http.StatusOK, "Gem removed from watchlist", nil)
}

// UpdateGemRequest is the partial update payload. Absent fields are
// left unchanged.
type UpdateGemRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	GemType     *string  `json:"gem_type"`
	Carat       *float64 `json:"carat"`
	Cut         *string  `json:"cut"`
	Color       *string  `json:"color"`
	Clarity     *string  `json:"clarity"`
	Origin      *string  `json:"origin"`
	ListingType *string  `json:"listing_type"`
	Price       *float64 `json:"price"`
	IsPublic    *bool    `json:"is_public"`
}

func (r UpdateGemRequest) toInput() services.UpdateGemInput {
	in := services.UpdateGemInput{
		Title:       r.Title,
		Description: r.Description,
		Carat:       r.Carat,
		Color:       r.Color,
		Origin:      r.Origin,
		Price:       r.Price,
		IsPublic:    r.IsPublic,
	}
	if r.GemType != nil {
		v := types.GemType(*r.GemType)
		in.GemType = &v
	}
	if r.Cut != nil {
		v := types.Cut(*r.Cut)
		in.Cut = &v
	}
	if r.Clarity != nil {
		v := types.Clarity(*r.Clarity)
		in.Clarity = &v
	}
	if r.ListingType != nil {
		v := types.ListingType(*r.ListingType)
		in.ListingType = &v
	}
	return in
}

// SetStatusRequest is the moderation payload.
type SetStatusRequest struct {
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason"`
}

func parseGemID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "gemID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid gem id")
	}
	return id, nil
}

func parseGemFilter(r *http.Request) (store.GemFilter, error) {
	q := r.URL.Query()
	filter := store.GemFilter{
		GemType:     strings.TrimSpace(q.Get("gemType")),
		Origin:      strings.TrimSpace(q.Get("origin")),
		ListingType: strings.TrimSpace(q.Get("listingType")),
	}

	minCarat, err := parseOptionalFloat(q.Get("minCarat"))
	if err != nil {
		return store.GemFilter{}, errors.New("invalid minCarat")
	}
	filter.MinCarat = minCarat

	maxCarat, err := parseOptionalFloat(q.Get("maxCarat"))
	if err != nil {
		return store.GemFilter{}, errors.New("invalid maxCarat")
	}
	filter.MaxCarat = maxCarat

	return filter, nil
}

func parseGemForm(r *http.Request) (services.CreateGemInput, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return services.CreateGemInput{}, errors.New("invalid multipart form")
	}

	input := services.CreateGemInput{
		Title:           strings.TrimSpace(r.FormValue(formFieldTitle)),
		Description:     strings.TrimSpace(r.FormValue(formFieldDesc)),
		GemType:         types.GemType(strings.TrimSpace(r.FormValue(formFieldGemType))),
		Cut:             types.Cut(strings.TrimSpace(r.FormValue(formFieldCut))),
		Color:           strings.TrimSpace(r.FormValue(formFieldColor)),
		Clarity:         types.Clarity(strings.TrimSpace(r.FormValue(formFieldClarity))),
		Origin:          strings.TrimSpace(r.FormValue(formFieldOrigin)),
		ListingType:     types.ListingType(strings.TrimSpace(r.FormValue(formFieldListingType))),
		CertificateType: types.CertificateType(strings.TrimSpace(r.FormValue(formFieldCertType))),
	}

	carat, err := parseOptionalFloat(r.FormValue(formFieldCarat))
	if err != nil {
		return services.CreateGemInput{}, errors.New("invalid carat")
	}
	input.Carat = carat

	price, err := parseOptionalFloat(r.FormValue(formFieldPrice))
	if err != nil {
		return services.CreateGemInput{}, errors.New("invalid price")
	}
	input.Price = price

	input.Images, err = parseAssetFiles(r.MultipartForm, formFieldImages, maxImageParts)
	if err != nil {
		return services.CreateGemInput{}, err
	}
	input.Certificates, err = parseAssetFiles(r.MultipartForm, formFieldCerts, maxCertParts)
	if err != nil {
		return services.CreateGemInput{}, err
	}

	return input, nil
}

func parseOptionalFloat(value string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseAssetFiles(form *multipart.Form, field string, maxCount int) ([]services.AssetUpload, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > maxCount {
		return nil, errors.New("too many " + field + " files")
	}

	uploads := make([]services.AssetUpload, 0, len(files))
	for _, fileHeader := range files {
		file, err := fileHeader.Open()
		if err != nil {
			return nil, errors.New("failed to read " + field + " file")
		}

		data, err := readFileLimited(file, maxAssetBytes)
		_ = file.Close()
		if err != nil {
			return nil, err
		}

		uploads = append(uploads, services.AssetUpload{
			Filename:    fileHeader.Filename,
			ContentType: fileHeader.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return uploads, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}

func roleAllowed(role types.Role, allowed []types.Role) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

func contextWithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}
