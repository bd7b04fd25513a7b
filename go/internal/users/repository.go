package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// DB is the subset of *pgxpool.Pool the repository uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `username, name, email, password_hash, logged_in, latitude, longitude, created_at`

// Repository implements user data access on Postgres. It also serves as the
// presence store when Redis is not configured.
type Repository struct {
	db DB
}

// NewRepository creates a new users repository
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// CreateUser inserts a user
func (r *Repository) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO users (username, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		user.Username, user.Name, user.Email, user.PasswordHash,
	)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

// GetUserByUsername retrieves a user by username
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", username, ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

// ListUsers returns every user ordered by username
func (r *Repository) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return out, nil
}

// UpdateLocation stores the coordinates reported at login
func (r *Repository) UpdateLocation(ctx context.Context, username string, lat, lng float64) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET latitude = $2, longitude = $3 WHERE username = $1`, username, lat, lng)
	if err != nil {
		return fmt.Errorf("failed to update location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", username, ErrUserNotFound)
	}
	return nil
}

// SetUserLoggedIn updates the logged_in flag
func (r *Repository) SetUserLoggedIn(ctx context.Context, username string, loggedIn bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET logged_in = $2 WHERE username = $1`, username, loggedIn)
	if err != nil {
		return fmt.Errorf("failed to update logged_in: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", username, ErrUserNotFound)
	}
	return nil
}

// OnlineUsers returns the usernames whose logged_in flag is set
func (r *Repository) OnlineUsers(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT username FROM users WHERE logged_in`)
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}
	defer rows.Close()

	online := make(map[string]bool)
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("failed to scan username: %w", err)
		}
		online[username] = true
	}
	return online, rows.Err()
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	if err := row.Scan(
		&user.Username,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.LoggedIn,
		&user.Latitude,
		&user.Longitude,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
