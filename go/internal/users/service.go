package users

import (
	"errors"
	"net/http"

	"github.com/mcdev12/auctionhouse/go/internal/auth"
	"github.com/mcdev12/auctionhouse/go/internal/httputil"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Service exposes registration, login and logout over HTTP
type Service struct {
	app      *App
	verifier auth.IdentityVerifier
}

// NewService creates a new users HTTP service
func NewService(app *App, verifier auth.IdentityVerifier) *Service {
	return &Service{
		app:      app,
		verifier: verifier,
	}
}

// RegisterRoutes registers user routes with an HTTP mux
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	protect := auth.Middleware(s.verifier)
	mux.HandleFunc("POST /api/users", s.HandleRegister)
	mux.HandleFunc("POST /api/authenticate", s.HandleAuthenticate)
	mux.Handle("GET /api/users", protect(http.HandlerFunc(s.HandleListUsers)))
	mux.Handle("POST /api/logout", protect(http.HandlerFunc(s.HandleLogout)))
}

// HandleRegister handles POST /api/users
func (s *Service) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.app.Register(r.Context(), req)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusCreated, user)
	case errors.Is(err, ErrUserExists):
		httputil.WriteError(w, http.StatusConflict, "Username already exists")
	case errors.Is(err, ErrInvalidUser):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("username", req.Username).Msg("registration failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Server error during registration")
	}
}

// HandleAuthenticate handles POST /api/authenticate
func (s *Service) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.app.Authenticate(r.Context(), req)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, resp)
	case errors.Is(err, ErrInvalidCredentials):
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
	default:
		log.Error().Err(err).Str("username", req.Username).Msg("authentication failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Server error during authentication")
	}
}

// HandleListUsers handles GET /api/users
func (s *Service) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	all, err := s.app.ListUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list users")
		httputil.WriteError(w, http.StatusInternalServerError, "Server error while fetching users")
		return
	}
	if all == nil {
		all = []*models.User{}
	}
	httputil.WriteJSON(w, http.StatusOK, all)
}

// HandleLogout handles POST /api/logout for the caller
func (s *Service) HandleLogout(w http.ResponseWriter, r *http.Request) {
	username, _ := auth.IdentityFromContext(r.Context())

	err := s.app.Logout(r.Context(), username)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteError(w, http.StatusNotFound, "User not found")
	default:
		log.Error().Err(err).Str("username", username).Msg("logout failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Server error during logout")
	}
}
