package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrItemExists      = errors.New("item already exists")
	ErrItemNotFound    = errors.New("item not found")
	ErrListingNotFound = errors.New("listing not found")
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- catalog ---

func (s *Store) LoadAllItems(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, key, category, description, created_by, created_at
		FROM items
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Key, &item.Category, &item.Description, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (s *Store) GetItemByKey(ctx context.Context, key string) (*Item, error) {
	var item Item
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, key, category, description, created_by, created_at
		FROM items
		WHERE key = $1
	`, key)

	if err := row.Scan(&item.ID, &item.Name, &item.Key, &item.Category, &item.Description, &item.CreatedBy, &item.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) InsertItem(ctx context.Context, item Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (id, name, key, category, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.Name, item.Key, item.Category, item.Description, item.CreatedBy, item.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrItemExists
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM items WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListItems(ctx context.Context, category string) ([]Item, error) {
	query := `
		SELECT id, name, key, category, description, created_by, created_at
		FROM items
	`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY category, name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Key, &item.Category, &item.Description, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- listings ---

func (s *Store) InsertListing(ctx context.Context, l Listing) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (id, user_id, item_key, item_name, side, price, status, seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, l.ID, l.UserID, l.ItemKey, l.ItemName, l.Side, l.Price, l.Status, l.Seq, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// UpdateListingStatus is the durable compare-and-set: the row moves to
// the new status only if it still holds the expected one.
func (s *Store) UpdateListingStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update listing status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) OpenListings(ctx context.Context) ([]Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, item_key, item_name, side, price, status, seq, created_at, updated_at
		FROM listings
		WHERE status = 'open'
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("open listings: %w", err)
	}
	defer rows.Close()

	var listings []Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ID, &l.UserID, &l.ItemKey, &l.ItemName, &l.Side, &l.Price, &l.Status, &l.Seq, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// --- matches ---

func (s *Store) InsertMatch(ctx context.Context, m Match) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO matches (id, buy_listing_id, sell_listing_id, buyer_id, seller_id, item_name,
			buyer_price, seller_price, agreed_price, session_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, m.BuyListingID, m.SellListingID, m.BuyerID, m.SellerID, m.ItemName,
		m.BuyerPrice, m.SellerPrice, m.AgreedPrice, m.SessionKey, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// --- session registry ---

// InsertSessionIfAbsent commits a (session key -> channel id) entry. When
// a row already exists the stored channel id is returned with inserted
// false, which is what makes replays observable.
func (s *Store) InsertSessionIfAbsent(ctx context.Context, sessionKey, channelID string) (string, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_key, channel_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_key) DO NOTHING
	`, sessionKey, channelID)
	if err != nil {
		return "", false, fmt.Errorf("insert session: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return channelID, true, nil
	}

	var existing string
	row := s.pool.QueryRow(ctx, `SELECT channel_id FROM sessions WHERE session_key = $1`, sessionKey)
	if err := row.Scan(&existing); err != nil {
		return "", false, fmt.Errorf("lookup session: %w", err)
	}
	return existing, false, nil
}

func (s *Store) GetSession(ctx context.Context, sessionKey string) (string, error) {
	var channelID string
	row := s.pool.QueryRow(ctx, `SELECT channel_id FROM sessions WHERE session_key = $1`, sessionKey)
	if err := row.Scan(&channelID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get session: %w", err)
	}
	return channelID, nil
}

// --- admin ---

func (s *Store) LogAdminAction(ctx context.Context, adminID, action, target, details string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_actions (id, admin_id, action, target, details, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, uuid.New(), adminID, action, target, details)
	if err != nil {
		return fmt.Errorf("log admin action: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM listings WHERE status = 'open'),
			(SELECT COUNT(*) FROM matches),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM admin_actions)
	`)
	if err := row.Scan(&stats.Items, &stats.OpenListings, &stats.Matches, &stats.Sessions, &stats.AdminActions); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &stats, nil
}
