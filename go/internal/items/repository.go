package items

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// DB is the subset of *pgxpool.Pool the repository uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const itemColumns = `id, description, current_bid, buy_now, remaining_time, winning_user, owner, sold`

// Repository implements item data access on Postgres
type Repository struct {
	db DB
}

// NewRepository creates a new items repository
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// FindItem retrieves an item by ID
func (r *Repository) FindItem(ctx context.Context, id int64) (*models.Item, error) {
	row := r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM auction_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item %d: %w", id, auction.ErrItemNotFound)
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// SaveItem writes the mutable auction state of an item. Sold rows are never
// rewritten.
func (r *Repository) SaveItem(ctx context.Context, item *models.Item) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE auction_items
		SET current_bid = $2, remaining_time = $3, winning_user = $4, sold = $5, updated_at = NOW()
		WHERE id = $1 AND sold = FALSE`,
		item.ID, item.CurrentBid, item.RemainingTime, item.WinningUser, item.Sold,
	)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var sold bool
		err := r.db.QueryRow(ctx, `SELECT sold FROM auction_items WHERE id = $1`, item.ID).Scan(&sold)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("item %d: %w", item.ID, auction.ErrItemNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check item: %w", err)
		}
		return fmt.Errorf("item %d already sold in store", item.ID)
	}
	return nil
}

// DeleteItem deletes an item by ID
func (r *Repository) DeleteItem(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM auction_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %d: %w", id, auction.ErrItemNotFound)
	}
	return nil
}

// ListItems returns every item ordered by ID
func (r *Repository) ListItems(ctx context.Context) ([]*models.Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM auction_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return out, nil
}

// CreateItem inserts a new unsold item and returns it with its assigned ID
func (r *Repository) CreateItem(ctx context.Context, req CreateItemRequest) (*models.Item, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO auction_items (description, current_bid, buy_now, remaining_time, owner)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+itemColumns,
		req.Description, req.CurrentBid, req.BuyNow, req.RemainingTime, req.Owner,
	)
	item, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return item, nil
}

func scanItem(row pgx.Row) (*models.Item, error) {
	var item models.Item
	if err := row.Scan(
		&item.ID,
		&item.Description,
		&item.CurrentBid,
		&item.BuyNow,
		&item.RemainingTime,
		&item.WinningUser,
		&item.Owner,
		&item.Sold,
	); err != nil {
		return nil, err
	}
	return &item, nil
}
