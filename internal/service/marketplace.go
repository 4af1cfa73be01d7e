// Package service coordinates catalog validation, listing intake,
// matching, and session creation behind the transport layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/catalog"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/session"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/storage"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/validation"
	"github.com/shopspring/decimal"
	"log/slog"
)

var (
	ErrUnknownItem     = errors.New("item not in catalog")
	ErrListingNotFound = errors.New("no open listing")
	ErrItemExists      = errors.New("item already in catalog")
	ErrItemNotFound    = errors.New("item not in catalog store")
)

type CatalogStore interface {
	catalog.ItemStore
	InsertItem(ctx context.Context, item storage.Item) error
	DeleteItem(ctx context.Context, key string) (bool, error)
	ListItems(ctx context.Context, category string) ([]storage.Item, error)
	LogAdminAction(ctx context.Context, adminID, action, target, details string) error
	Stats(ctx context.Context) (*storage.Stats, error)
}

type Listings interface {
	Insert(ctx context.Context, userID string, item *storage.Item, side string, price decimal.Decimal) (created, replaced *storage.Listing, err error)
	Remove(ctx context.Context, userID, itemKey, side string) (bool, error)
	OpenByUser(userID string) []storage.Listing
	FindCounterparts(itemKey, side, excludingUser string) []storage.Listing
}

type Matcher interface {
	OnNewListing(ctx context.Context, newListing *storage.Listing, correlationID string) (*storage.Match, error)
}

type Sessions interface {
	EnsureSession(ctx context.Context, match *storage.Match) session.Result
}

type Marketplace struct {
	cache    *catalog.Cache
	store    CatalogStore
	listings Listings
	engine   Matcher
	sessions Sessions
	minPrice decimal.Decimal
	maxPrice decimal.Decimal
	logger   *slog.Logger
	metrics  *Metrics
}

func NewMarketplace(cache *catalog.Cache, store CatalogStore, listings Listings, engine Matcher, sessions Sessions, minPrice, maxPrice decimal.Decimal, logger *slog.Logger, metrics *Metrics) *Marketplace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Marketplace{
		cache:    cache,
		store:    store,
		listings: listings,
		engine:   engine,
		sessions: sessions,
		minPrice: minPrice,
		maxPrice: maxPrice,
		logger:   logger,
		metrics:  metrics,
	}
}

type ListingView struct {
	ID        string `json:"id"`
	ItemName  string `json:"item_name"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type MatchView struct {
	ID          string `json:"id"`
	ItemName    string `json:"item_name"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	AgreedPrice string `json:"agreed_price"`
	SessionKey  string `json:"session_key"`
}

type SessionView struct {
	Outcome   string `json:"outcome"`
	ChannelID string `json:"channel_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type SubmitResult struct {
	Listing  ListingView  `json:"listing"`
	Replaced *ListingView `json:"replaced,omitempty"`
	Match    *MatchView   `json:"match,omitempty"`
	Session  *SessionView `json:"session,omitempty"`
}

func viewOf(l *storage.Listing) ListingView {
	return ListingView{
		ID:        l.ID.String(),
		ItemName:  l.ItemName,
		Side:      l.Side,
		Price:     l.Price.StringFixed(2),
		Status:    l.Status,
		CreatedAt: l.CreatedAt.Format(time.RFC3339),
	}
}

// SubmitListing validates the request against the catalog, installs the
// listing, and runs one match attempt. A match failure after the listing
// is installed does not undo the listing: the offer stands.
func (m *Marketplace) SubmitListing(ctx context.Context, userID, itemName, side, rawPrice, correlationID string) (*SubmitResult, error) {
	if verrs := validation.ValidateListingRequest(itemName, side, rawPrice, m.minPrice, m.maxPrice); len(verrs) > 0 {
		m.countSubmit(side, "rejected")
		return nil, verrs
	}
	price, err := validation.ParsePrice(rawPrice, m.minPrice, m.maxPrice)
	if err != nil {
		m.countSubmit(side, "rejected")
		return nil, validation.ValidationErrors{{Field: "price", Message: err.Error()}}
	}

	item, ok := m.cache.ValidateOrFetch(ctx, m.store, itemName)
	if !ok {
		m.countSubmit(side, "unknown_item")
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, validation.SanitizeText(itemName))
	}

	created, replaced, err := m.listings.Insert(ctx, userID, item, side, price)
	if err != nil {
		m.countSubmit(side, "error")
		return nil, err
	}
	m.countSubmit(side, "accepted")

	result := &SubmitResult{Listing: viewOf(created)}
	if replaced != nil {
		rv := viewOf(replaced)
		result.Replaced = &rv
	}

	match, err := m.engine.OnNewListing(ctx, created, correlationID)
	if err != nil {
		m.logger.Error("match attempt failed", "listing_id", created.ID, "error", err)
		return result, nil
	}
	if match == nil {
		return result, nil
	}

	result.Listing.Status = storage.StatusMatched
	result.Match = &MatchView{
		ID:          match.ID.String(),
		ItemName:    match.ItemName,
		BuyerID:     match.BuyerID,
		SellerID:    match.SellerID,
		AgreedPrice: match.AgreedPrice.StringFixed(2),
		SessionKey:  match.SessionKey,
	}

	sess := m.sessions.EnsureSession(ctx, match)
	result.Session = &SessionView{
		Outcome:   string(sess.Outcome),
		ChannelID: sess.ChannelID,
		Reason:    sess.Reason,
	}
	return result, nil
}

// RemoveListing retires the caller's open listing for (item, side).
func (m *Marketplace) RemoveListing(ctx context.Context, userID, itemName, side string) error {
	if storage.OppositeSide(side) == "" {
		return validation.ValidationErrors{{Field: "side", Message: "side must be buy or sell"}}
	}
	removed, err := m.listings.Remove(ctx, userID, catalog.NormalizeKey(itemName), side)
	if err != nil {
		return err
	}
	if !removed {
		return ErrListingNotFound
	}
	return nil
}

// MyListings returns the caller's open listings, oldest first.
func (m *Marketplace) MyListings(userID string) []ListingView {
	open := m.listings.OpenByUser(userID)
	out := make([]ListingView, 0, len(open))
	for i := range open {
		out = append(out, viewOf(&open[i]))
	}
	return out
}

// SearchItems returns catalog names containing the query.
func (m *Marketplace) SearchItems(query string, limit int) ([]string, error) {
	if err := validation.ValidateSearchQuery(query); err != nil {
		return nil, err
	}
	return m.cache.Search(query, limit), nil
}

type PriceSuggestion struct {
	ItemName string `json:"item_name"`
	Side     string `json:"side"`
	Open     int    `json:"open_counterparts"`
	Lowest   string `json:"lowest,omitempty"`
	Highest  string `json:"highest,omitempty"`
	Average  string `json:"average,omitempty"`
}

// SuggestPrice summarizes standing counterpart prices so a user can
// place a crossing offer. Side is the side the USER intends to submit.
func (m *Marketplace) SuggestPrice(ctx context.Context, userID, itemName, side string) (*PriceSuggestion, error) {
	if storage.OppositeSide(side) == "" {
		return nil, validation.ValidationErrors{{Field: "side", Message: "side must be buy or sell"}}
	}
	item, ok := m.cache.ValidateOrFetch(ctx, m.store, itemName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, validation.SanitizeText(itemName))
	}

	counterparts := m.listings.FindCounterparts(item.Key, storage.OppositeSide(side), userID)
	suggestion := &PriceSuggestion{ItemName: item.Name, Side: side, Open: len(counterparts)}
	if len(counterparts) == 0 {
		return suggestion, nil
	}

	low, high, sum := counterparts[0].Price, counterparts[0].Price, decimal.Zero
	for _, c := range counterparts {
		if c.Price.LessThan(low) {
			low = c.Price
		}
		if c.Price.GreaterThan(high) {
			high = c.Price
		}
		sum = sum.Add(c.Price)
	}
	suggestion.Lowest = low.StringFixed(2)
	suggestion.Highest = high.StringFixed(2)
	suggestion.Average = sum.Div(decimal.NewFromInt(int64(len(counterparts)))).Round(2).StringFixed(2)
	return suggestion, nil
}

type ItemView struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// ListItems reads from the durable store, not the cache, so an admin
// sees catalog writes before the next refresh.
func (m *Marketplace) ListItems(ctx context.Context, category string) ([]ItemView, error) {
	if category != "" {
		if err := validation.ValidateCategory(category); err != nil {
			return nil, err
		}
	}
	items, err := m.store.ListItems(ctx, category)
	if err != nil {
		return nil, err
	}
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		out = append(out, ItemView{Name: it.Name, Category: it.Category})
	}
	return out, nil
}

// AddItem installs a catalog item and refreshes its cache entry.
// Duplicate names (case-insensitive) are rejected.
func (m *Marketplace) AddItem(ctx context.Context, adminID, name, category, description string) error {
	if err := validation.ValidateItemName(name); err != nil {
		return err
	}
	if category != "" {
		if err := validation.ValidateCategory(category); err != nil {
			return err
		}
	}

	item := storage.Item{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(name),
		Key:         catalog.NormalizeKey(name),
		Category:    validation.SanitizeText(category),
		Description: validation.SanitizeText(description),
		CreatedBy:   adminID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.InsertItem(ctx, item); err != nil {
		if errors.Is(err, storage.ErrItemExists) {
			return fmt.Errorf("%w: %q", ErrItemExists, item.Name)
		}
		return err
	}

	if err := m.cache.Invalidate(ctx, m.store, item.Name); err != nil {
		m.logger.Warn("cache refresh after item add failed", "item", item.Key, "error", err)
	}
	m.audit(ctx, adminID, "item.add", item.Key, item.Category)
	return nil
}

// RemoveItem deletes a catalog item. Open listings referencing it are
// left standing; they can still be withdrawn or matched against each
// other, new submissions just can't reference the item anymore.
func (m *Marketplace) RemoveItem(ctx context.Context, adminID, name string) error {
	key := catalog.NormalizeKey(name)
	deleted, err := m.store.DeleteItem(ctx, key)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %q", ErrItemNotFound, validation.SanitizeText(name))
	}

	if err := m.cache.Invalidate(ctx, m.store, name); err != nil {
		m.logger.Warn("cache refresh after item delete failed", "item", key, "error", err)
	}
	m.audit(ctx, adminID, "item.remove", key, "")
	return nil
}

// ReloadCache forces a full catalog snapshot rebuild.
func (m *Marketplace) ReloadCache(ctx context.Context, adminID string) (int, error) {
	if err := m.cache.Reload(ctx, m.store); err != nil {
		return 0, err
	}
	m.audit(ctx, adminID, "cache.reload", "", "")
	return m.cache.Size(), nil
}

type StatsView struct {
	Items        int64     `json:"items"`
	CachedItems  int       `json:"cached_items"`
	OpenListings int64     `json:"open_listings"`
	Matches      int64     `json:"matches"`
	Sessions     int64     `json:"sessions"`
	AdminActions int64     `json:"admin_actions"`
	CacheRefresh time.Time `json:"cache_last_refresh"`
}

func (m *Marketplace) Stats(ctx context.Context) (*StatsView, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsView{
		Items:        stats.Items,
		CachedItems:  m.cache.Size(),
		OpenListings: stats.OpenListings,
		Matches:      stats.Matches,
		Sessions:     stats.Sessions,
		AdminActions: stats.AdminActions,
		CacheRefresh: m.cache.LastRefresh(),
	}, nil
}

func (m *Marketplace) audit(ctx context.Context, adminID, action, target, details string) {
	if err := m.store.LogAdminAction(ctx, adminID, action, target, details); err != nil {
		m.logger.Warn("admin audit write failed", "action", action, "error", err)
	}
}

func (m *Marketplace) countSubmit(side, status string) {
	if m.metrics != nil {
		if storage.OppositeSide(side) == "" {
			side = "invalid"
		}
		m.metrics.ListingsSubmitted.WithLabelValues(side, status).Inc()
	}
}
