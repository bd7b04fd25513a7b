package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUser        = errors.New("invalid user")
)

// UsersRepository defines what the app layer needs from the repository
type UsersRepository interface {
	CreateUser(ctx context.Context, user models.User) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateLocation(ctx context.Context, username string, lat, lng float64) error
}

// PresenceStore records which users are logged in
type PresenceStore interface {
	SetUserLoggedIn(ctx context.Context, username string, loggedIn bool) error
	OnlineUsers(ctx context.Context) (map[string]bool, error)
}

// TokenIssuer signs session tokens
type TokenIssuer interface {
	Issue(username string) (string, error)
}

// App handles registration, login and presence
type App struct {
	repo        UsersRepository
	presence    PresenceStore
	issuer      TokenIssuer
	broadcaster auction.Broadcaster
	cost        int
}

// NewApp creates a new users App
func NewApp(repo UsersRepository, presence PresenceStore, issuer TokenIssuer, broadcaster auction.Broadcaster) *App {
	return &App{
		repo:        repo,
		presence:    presence,
		issuer:      issuer,
		broadcaster: broadcaster,
		cost:        bcrypt.DefaultCost,
	}
}

// Register creates a new user with a bcrypt password hash
func (a *App) Register(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	if err := a.validateCreateUserRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUser, err)
	}

	if _, err := a.repo.GetUserByUsername(ctx, req.Username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := a.repo.CreateUser(ctx, models.User{
		Username:     req.Username,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().Str("username", user.Username).Msg("user registered")
	return user, nil
}

// Authenticate checks credentials, marks the user logged in, announces the
// login and returns a session token. Missing coordinates default to 0,0.
func (a *App) Authenticate(ctx context.Context, req AuthenticateRequest) (*AuthenticateResponse, error) {
	user, err := a.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	var lat, lng float64
	if req.Latitude != nil && req.Longitude != nil {
		lat, lng = *req.Latitude, *req.Longitude
	}
	if err := a.repo.UpdateLocation(ctx, user.Username, lat, lng); err != nil {
		return nil, fmt.Errorf("failed to update location: %w", err)
	}
	if err := a.presence.SetUserLoggedIn(ctx, user.Username, true); err != nil {
		return nil, fmt.Errorf("failed to mark user logged in: %w", err)
	}

	token, err := a.issuer.Issue(user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	user.LoggedIn = true
	user.Latitude, user.Longitude = lat, lng
	a.broadcaster.Publish(ctx, events.Joined(*user))

	log.Info().
		Str("username", user.Username).
		Float64("lat", lat).
		Float64("lng", lng).
		Msg("user authenticated")
	return &AuthenticateResponse{Username: user.Username, Token: token}, nil
}

// Logout marks the user logged out and announces it
func (a *App) Logout(ctx context.Context, username string) error {
	if _, err := a.repo.GetUserByUsername(ctx, username); err != nil {
		return err
	}
	if err := a.SetUserLoggedIn(ctx, username, false); err != nil {
		return err
	}
	a.broadcaster.Publish(ctx, events.Left(username))
	log.Info().Str("username", username).Msg("user logged out")
	return nil
}

// SetUserLoggedIn updates presence only
func (a *App) SetUserLoggedIn(ctx context.Context, username string, loggedIn bool) error {
	if err := a.presence.SetUserLoggedIn(ctx, username, loggedIn); err != nil {
		return fmt.Errorf("failed to set presence for %s: %w", username, err)
	}
	return nil
}

// ListUsers returns every user with presence applied
func (a *App) ListUsers(ctx context.Context) ([]*models.User, error) {
	all, err := a.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	online, err := a.presence.OnlineUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load presence: %w", err)
	}
	for _, u := range all {
		u.LoggedIn = online[u.Username]
	}
	return all, nil
}

func (a *App) validateCreateUserRequest(req CreateUserRequest) error {
	if strings.TrimSpace(req.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if req.Password == "" {
		return fmt.Errorf("password is required")
	}
	if req.Email != "" && (!strings.Contains(req.Email, "@") || !strings.Contains(req.Email, ".")) {
		return fmt.Errorf("email format is invalid")
	}
	return nil
}
