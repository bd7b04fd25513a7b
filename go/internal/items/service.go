package items

import (
	"context"
	"errors"
	"net/http"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/auth"
	"github.com/mcdev12/auctionhouse/go/internal/httputil"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ItemsApp defines what the service layer needs from the items application
type ItemsApp interface {
	CreateItem(ctx context.Context, req CreateItemRequest) (*models.Item, error)
	RemoveItem(ctx context.Context, identity string, itemID int64) (*models.Item, error)
	ListItems(ctx context.Context) ([]*models.Item, error)
}

// Service exposes item creation, removal and listing over HTTP
type Service struct {
	app      ItemsApp
	verifier auth.IdentityVerifier
}

// NewService creates a new items HTTP service
func NewService(app ItemsApp, verifier auth.IdentityVerifier) *Service {
	return &Service{
		app:      app,
		verifier: verifier,
	}
}

// RegisterRoutes registers item routes with an HTTP mux
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	protect := auth.Middleware(s.verifier)
	mux.Handle("POST /api/items", protect(http.HandlerFunc(s.HandleCreateItem)))
	mux.Handle("POST /api/items/remove", protect(http.HandlerFunc(s.HandleRemoveItem)))
	mux.Handle("GET /api/items", protect(http.HandlerFunc(s.HandleListItems)))
}

// HandleCreateItem handles POST /api/items. The owner is the caller.
func (s *Service) HandleCreateItem(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req CreateItemRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Owner = identity

	item, err := s.app.CreateItem(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidItem) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("owner", identity).Msg("failed to create item")
		httputil.WriteError(w, http.StatusInternalServerError, "Server error during item creation")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, item)
}

// HandleRemoveItem handles POST /api/items/remove
func (s *Service) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req RemoveItemRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.ItemID == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "Item ID is required")
		return
	}

	_, err := s.app.RemoveItem(r.Context(), identity, req.ItemID)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Item successfully removed"})
	case errors.Is(err, auction.ErrItemNotFound):
		httputil.WriteError(w, http.StatusNotFound, "Item not found")
	case errors.Is(err, auction.ErrNotOwner):
		httputil.WriteError(w, http.StatusForbidden, "You are not authorized to remove this item. Only the original owner can remove items.")
	default:
		log.Error().Err(err).Int64("item_id", req.ItemID).Msg("failed to remove item")
		httputil.WriteError(w, http.StatusInternalServerError, "Server error during item removal")
	}
}

// HandleListItems handles GET /api/items
func (s *Service) HandleListItems(w http.ResponseWriter, r *http.Request) {
	all, err := s.app.ListItems(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list items")
		httputil.WriteError(w, http.StatusInternalServerError, "Server error while fetching items")
		return
	}
	if all == nil {
		all = []*models.Item{}
	}
	httputil.WriteJSON(w, http.StatusOK, all)
}
