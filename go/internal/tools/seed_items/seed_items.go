package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/auctionhouse/go/internal/dbconfig"
)

//go:embed schema.sql
var schema string

// Item mirrors the JSON snapshot
type Item struct {
	Description   string  `json:"description"`
	CurrentBid    float64 `json:"current_bid"`
	BuyNow        float64 `json:"buy_now"`
	RemainingTime int     `json:"remaining_time"`
	Owner         string  `json:"owner"`
}

func main() {
	path := "go/internal/assets/items.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Make sure tables and the insert trigger exist
	if _, err := pool.Exec(ctx, schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	// 4) Insert and count
	var (
		total    = len(items)
		inserted int
		skipped  int
		errs     int
	)

	for _, it := range items {
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO auction_items (
              description, current_bid, buy_now, remaining_time, owner
            )
            SELECT $1::text, $2::float8, $3::float8, $4::int, $5::text
            WHERE NOT EXISTS (
              SELECT 1 FROM auction_items WHERE owner = $5 AND description = $1
            )
        `,
			it.Description, it.CurrentBid, it.BuyNow, it.RemainingTime, it.Owner,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting item %q: %v\n", it.Description, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 5) Print summary
	fmt.Printf(
		"Items seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
	if errs > 0 {
		os.Exit(1)
	}
}
