// Package catalog holds the read-optimized snapshot of the item catalog.
// Lookups are O(1) and never touch the authoritative store; Reload and
// Invalidate are the only paths that do, and a failure on either leaves
// the previous snapshot serving.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ravenousdox/MarketplaceMatchmaker/internal/storage"
)

type ItemStore interface {
	LoadAllItems(ctx context.Context) ([]storage.Item, error)
	GetItemByKey(ctx context.Context, key string) (*storage.Item, error)
}

type RefreshMetrics interface {
	ObserveRefresh(duration time.Duration)
	SetCacheSize(size int)
	IncRefreshError()
}

// DegradedReporter receives the health of the refresh loop: degraded
// while the snapshot cannot be reloaded, cleared on the next success.
type DegradedReporter interface {
	SetDegraded(degraded bool)
}

// NormalizeKey folds an item name to the form lookups use.
func NormalizeKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

type Cache struct {
	mu          sync.RWMutex
	items       map[string]storage.Item
	loaded      bool
	lastRefresh time.Time

	// Snapshot age beyond which a miss may consult the store directly.
	staleAfter time.Duration
}

func NewCache(staleAfter time.Duration) *Cache {
	return &Cache{
		items:      make(map[string]storage.Item),
		staleAfter: staleAfter,
	}
}

// Reload replaces the whole snapshot with one load from the store.
// Readers observe either the old map or the new one, never a mix.
func (c *Cache) Reload(ctx context.Context, store ItemStore) error {
	items, err := store.LoadAllItems(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]storage.Item, len(items))
	for _, item := range items {
		key := item.Key
		if key == "" {
			key = NormalizeKey(item.Name)
		}
		item.Key = key
		next[key] = item
	}

	c.mu.Lock()
	c.items = next
	c.loaded = true
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

// Invalidate refreshes a single entry from the store: updated items are
// replaced, deleted items drop out of the snapshot.
func (c *Cache) Invalidate(ctx context.Context, store ItemStore, name string) error {
	key := NormalizeKey(name)
	item, err := store.GetItemByKey(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrItemNotFound) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if item == nil {
		delete(c.items, key)
		return nil
	}
	c.items[key] = *item
	return nil
}

// Validate answers the membership query without blocking on I/O.
func (c *Cache) Validate(name string) (*storage.Item, bool) {
	key := NormalizeKey(name)

	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	copy := item
	return &copy, true
}

// ValidateOrFetch adds a slow-path store lookup on a miss, but only once
// the snapshot is older than staleAfter. A store hit is folded into the
// snapshot so the next lookup is O(1) again.
func (c *Cache) ValidateOrFetch(ctx context.Context, store ItemStore, name string) (*storage.Item, bool) {
	if item, ok := c.Validate(name); ok {
		return item, true
	}

	c.mu.RLock()
	stale := c.staleAfter > 0 && time.Since(c.lastRefresh) > c.staleAfter
	c.mu.RUnlock()
	if !stale || store == nil {
		return nil, false
	}

	item, err := store.GetItemByKey(ctx, NormalizeKey(name))
	if err != nil || item == nil {
		return nil, false
	}

	c.mu.Lock()
	c.items[item.Key] = *item
	c.mu.Unlock()

	copy := *item
	return &copy, true
}

// Search returns up to limit item names containing the query,
// case-insensitively, in stable name order.
func (c *Cache) Search(query string, limit int) []string {
	q := strings.ToLower(strings.TrimSpace(query))

	c.mu.RLock()
	names := make([]string, 0, len(c.items))
	for key, item := range c.items {
		if q == "" || strings.Contains(key, q) {
			names = append(names, item.Name)
		}
	}
	c.mu.RUnlock()

	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names
}

func (c *Cache) Items() []storage.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := make([]storage.Item, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}
	return items
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// StartAutoRefresh reloads the snapshot on a ticker until ctx ends. A
// failed cycle keeps the previous snapshot and reports degraded health.
func (c *Cache) StartAutoRefresh(ctx context.Context, store ItemStore, interval time.Duration, metrics RefreshMetrics, health DegradedReporter, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		logger.Warn("catalog cache auto refresh disabled")
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				start := time.Now()
				err := c.Reload(refreshCtx, store)
				cancel()
				if err != nil {
					logger.Error("catalog cache refresh failed", "error", err)
					if metrics != nil {
						metrics.IncRefreshError()
					}
					if health != nil {
						health.SetDegraded(true)
					}
					continue
				}
				if metrics != nil {
					metrics.ObserveRefresh(time.Since(start))
					metrics.SetCacheSize(c.Size())
				}
				if health != nil {
					health.SetDegraded(false)
				}
				logger.Info("catalog cache refreshed", "items", c.Size())
			}
		}
	}()
}
