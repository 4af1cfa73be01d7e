// Seed creates the matchmaker schema and a starter catalog for dev and
// test environments.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/catalog"
)

func main() {
	env := getEnv("MKT_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: MKT_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "marketplace")
	user := getEnv("POSTGRES_USER", "marketplace")
	password := getEnv("POSTGRES_PASSWORD", "marketplace")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := createSchema(ctx, pool); err != nil {
		log.Fatalf("create schema: %v", err)
	}
	fmt.Println("✓ Schema created")

	if err := seedItems(ctx, pool); err != nil {
		log.Fatalf("seed items: %v", err)
	}
	fmt.Println("✓ Catalog seeded")

	fmt.Println("\n=== Seed Complete ===")
}

func createSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			key TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS listings (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			item_key TEXT NOT NULL,
			item_name TEXT NOT NULL,
			side TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
			price NUMERIC(18, 2) NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('open', 'matched', 'removed')),
			seq BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_open
			ON listings (item_key, side) WHERE status = 'open'`,
		`CREATE INDEX IF NOT EXISTS idx_listings_user
			ON listings (user_id) WHERE status = 'open'`,
		`CREATE TABLE IF NOT EXISTS matches (
			id UUID PRIMARY KEY,
			buy_listing_id UUID NOT NULL,
			sell_listing_id UUID NOT NULL,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			item_name TEXT NOT NULL,
			buyer_price NUMERIC(18, 2) NOT NULL,
			seller_price NUMERIC(18, 2) NOT NULL,
			agreed_price NUMERIC(18, 2) NOT NULL,
			session_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_key TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS admin_actions (
			id UUID PRIMARY KEY,
			admin_id TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %.40q: %w", stmt, err)
		}
	}
	return nil
}

func seedItems(ctx context.Context, pool *pgxpool.Pool) error {
	items := []struct {
		Name     string
		Category string
	}{
		{"Iron Sword", "weapons"},
		{"Steel Shield", "armor"},
		{"Healing Potion", "consumables"},
		{"Mana Crystal", "materials"},
		{"Dragon Scale", "materials"},
		{"Enchanted Bow", "weapons"},
		{"Leather Boots", "armor"},
		{"Phoenix Feather", "materials"},
	}

	for _, it := range items {
		_, err := pool.Exec(ctx, `
			INSERT INTO items (id, name, key, category, created_by)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (key) DO NOTHING
		`, uuid.New(), it.Name, catalog.NormalizeKey(it.Name), it.Category, "seed")
		if err != nil {
			return fmt.Errorf("insert item %q: %w", it.Name, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
