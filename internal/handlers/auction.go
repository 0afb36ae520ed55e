package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gemmarket/apiserver/internal/services"
	"github.com/gemmarket/apiserver/internal/store"
	"github.com/gemmarket/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// AuctionHandler provides HTTP handlers for auction scheduling.
type AuctionHandler struct {
	auctionService *services.AuctionService
	userService    *services.UserService
}

// NewAuctionHandler constructs a handler with the provided services.
func NewAuctionHandler(auctionService *services.AuctionService, userService *services.UserService) *AuctionHandler {
	return &AuctionHandler{auctionService: auctionService, userService: userService}
}

// AuctionRouter registers auction routes on the given router.
func AuctionRouter(
	r chi.Router,
	auctionService *services.AuctionService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewAuctionHandler(auctionService, userService)

	protect := func(next http.Handler) http.Handler {
		loaded := handler.loadUser(next)
		if authMiddleware == nil {
			return loaded
		}
		return authMiddleware(loaded)
	}

	r.Get("/", handler.List)
	r.With(protect).Post("/", handler.CreateAuction)
	r.Route("/{auctionID}", func(r chi.Router) {
		r.Get("/", handler.GetAuction)
		r.With(protect).Post("/cancel", handler.CancelAuction)
	})
}

func (h *AuctionHandler) loadUser(next http.Handler) http.Handler {
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

		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), user)))
	})
}

// CreateAuction schedules an auction for a gem owned by the requester.
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	requester, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	auction, err := h.auctionService.Create(r.Context(), requester, services.CreateAuctionInput{
		GemID:               req.GemID,
		StartPrice:          req.StartPrice,
		MinimumBidIncrement: req.MinimumBidIncrement,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Gem not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "Only the gem owner can schedule an auction")
		case errors.Is(err, services.ErrConflict):
			writeError(w, http.StatusConflict, "Gem already has an auction")
		case services.IsValidation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeServerError(w, err)
		}
		return
	}
	writeData(w, http.StatusCreated, "Auction scheduled", auction)
}

// GetAuction returns a single auction record.
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := parseAuctionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	auction, err := h.auctionService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Auction not found")
			return
		}
		writeServerError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", auction)
}

// List returns auctions filtered by status; without a status it lists
// active ones.
func (h *AuctionHandler) List(w http.ResponseWriter, r *http.Request) {
	status := types.AuctionStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "" {
		status = types.AuctionActive
	}

	auctions, err := h.auctionService.List(r.Context(), status)
	if err != nil {
		if services.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeServerError(w, err)
		return
	}
	writeList(w, http.StatusOK, len(auctions), auctions)
}

// CancelAuction cancels a scheduled or running auction.
func (h *AuctionHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	requester, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseAuctionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	auction, err := h.auctionService.Cancel(r.Context(), requester, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Auction not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "Not authorized to cancel this auction")
		case services.IsValidation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeServerError(w, err)
		}
		return
	}
	writeData(w, http.StatusOK, "Auction cancelled", auction)
}

// CreateAuctionRequest is the auction scheduling payload.
type CreateAuctionRequest struct {
	GemID               int       `json:"gem_id"`
	StartPrice          float64   `json:"start_price"`
	MinimumBidIncrement float64   `json:"minimum_bid_increment"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
}

func parseAuctionID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "auctionID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid auction id")
	}
	return id, nil
}
