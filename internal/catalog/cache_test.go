package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/storage"
)

type fakeStore struct {
	mu    sync.Mutex
	items []storage.Item
	calls int
	fail  bool
}

func (f *fakeStore) LoadAllItems(ctx context.Context) ([]storage.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("store unavailable")
	}
	out := make([]storage.Item, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *fakeStore) GetItemByKey(ctx context.Context, key string) (*storage.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, item := range f.items {
		if item.Key == key {
			found := item
			return &found, nil
		}
	}
	return nil, storage.ErrItemNotFound
}

type errorStore struct{}

func (e *errorStore) LoadAllItems(ctx context.Context) ([]storage.Item, error) {
	return nil, errors.New("boom")
}

func (e *errorStore) GetItemByKey(ctx context.Context, key string) (*storage.Item, error) {
	return nil, errors.New("boom")
}

func item(name, category string) storage.Item {
	return storage.Item{
		ID:       uuid.New(),
		Name:     name,
		Key:      NormalizeKey(name),
		Category: category,
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Iron Sword", "iron sword"},
		{"  Iron   Sword  ", "iron sword"},
		{"IRON SWORD", "iron sword"},
		{"iron sword", "iron sword"},
	}
	for _, tc := range cases {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCacheLookup(t *testing.T) {
	cache := NewCache(0)
	store := &fakeStore{items: []storage.Item{
		item("Iron Sword", "weapons"),
		item("Healing Potion", "consumables"),
	}}

	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !cache.Loaded() {
		t.Fatal("expected loaded cache")
	}

	got, ok := cache.Validate("  iron   SWORD ")
	if !ok {
		t.Fatal("expected hit for normalized variant")
	}
	if got.Name != "Iron Sword" {
		t.Fatalf("got %q, want Iron Sword", got.Name)
	}

	if _, ok := cache.Validate("dragon scale"); ok {
		t.Fatal("expected miss for unknown item")
	}

	loads := store.calls
	cache.Validate("iron sword")
	cache.Validate("dragon scale")
	if store.calls != loads {
		t.Fatalf("lookups touched the store: %d extra calls", store.calls-loads)
	}
}

func TestCacheReloadSwapsSnapshot(t *testing.T) {
	cache := NewCache(0)
	store := &fakeStore{items: []storage.Item{item("Iron Sword", "weapons")}}
	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}

	store.mu.Lock()
	store.items = []storage.Item{item("Dragon Scale", "materials")}
	store.mu.Unlock()

	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := cache.Validate("iron sword"); ok {
		t.Fatal("old snapshot still serving")
	}
	if _, ok := cache.Validate("dragon scale"); !ok {
		t.Fatal("new snapshot not serving")
	}
}

func TestCacheFailedReloadKeepsSnapshot(t *testing.T) {
	cache := NewCache(0)
	store := &fakeStore{items: []storage.Item{item("Iron Sword", "weapons")}}
	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if err := cache.Reload(context.Background(), &errorStore{}); err == nil {
		t.Fatal("expected reload error")
	}
	if _, ok := cache.Validate("iron sword"); !ok {
		t.Fatal("previous snapshot lost after failed reload")
	}
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewCache(0)
	store := &fakeStore{items: []storage.Item{item("Iron Sword", "weapons")}}
	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}

	store.mu.Lock()
	store.items = append(store.items, item("Dragon Scale", "materials"))
	store.mu.Unlock()

	if err := cache.Invalidate(context.Background(), store, "Dragon Scale"); err != nil {
		t.Fatalf("invalidate add: %v", err)
	}
	if _, ok := cache.Validate("dragon scale"); !ok {
		t.Fatal("added item not visible")
	}

	store.mu.Lock()
	store.items = store.items[:1]
	store.mu.Unlock()

	if err := cache.Invalidate(context.Background(), store, "Dragon Scale"); err != nil {
		t.Fatalf("invalidate remove: %v", err)
	}
	if _, ok := cache.Validate("dragon scale"); ok {
		t.Fatal("deleted item still visible")
	}
}

func TestCacheConcurrentReadersDuringReload(t *testing.T) {
	cache := NewCache(0)
	store := &fakeStore{items: []storage.Item{
		item("Iron Sword", "weapons"),
		item("Dragon Scale", "materials"),
	}}
	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, ok := cache.Validate("iron sword"); !ok {
					t.Error("reader observed missing item mid-reload")
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if err := cache.Reload(context.Background(), store); err != nil {
			t.Fatalf("reload: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestCacheValidateOrFetch(t *testing.T) {
	store := &fakeStore{items: []storage.Item{item("Iron Sword", "weapons")}}

	t.Run("fresh snapshot misses stay misses", func(t *testing.T) {
		cache := NewCache(time.Hour)
		if err := cache.Reload(context.Background(), store); err != nil {
			t.Fatalf("reload: %v", err)
		}
		store.mu.Lock()
		store.items = append(store.items, item("Dragon Scale", "materials"))
		store.mu.Unlock()

		if _, ok := cache.ValidateOrFetch(context.Background(), store, "Dragon Scale"); ok {
			t.Fatal("fresh snapshot should not consult the store")
		}

		store.mu.Lock()
		store.items = store.items[:1]
		store.mu.Unlock()
	})

	t.Run("stale snapshot falls back to store", func(t *testing.T) {
		cache := NewCache(time.Nanosecond)
		if err := cache.Reload(context.Background(), store); err != nil {
			t.Fatalf("reload: %v", err)
		}
		store.mu.Lock()
		store.items = append(store.items, item("Dragon Scale", "materials"))
		store.mu.Unlock()
		time.Sleep(time.Millisecond)

		got, ok := cache.ValidateOrFetch(context.Background(), store, "Dragon Scale")
		if !ok {
			t.Fatal("stale snapshot miss should consult the store")
		}
		if got.Name != "Dragon Scale" {
			t.Fatalf("got %q, want Dragon Scale", got.Name)
		}

		// The hit is folded in: the fast path serves it now.
		if _, ok := cache.Validate("dragon scale"); !ok {
			t.Fatal("fetched item not folded into snapshot")
		}
	})
}

func TestCacheSearch(t *testing.T) {
	cache := NewCache(0)
	store := &fakeStore{items: []storage.Item{
		item("Iron Sword", "weapons"),
		item("Enchanted Sword", "weapons"),
		item("Healing Potion", "consumables"),
	}}
	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}

	got := cache.Search("sword", 10)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2: %v", len(got), got)
	}
	if got[0] != "Enchanted Sword" || got[1] != "Iron Sword" {
		t.Fatalf("results not in name order: %v", got)
	}

	if got := cache.Search("sword", 1); len(got) != 1 {
		t.Fatalf("limit not applied: %v", got)
	}
	if got := cache.Search("axe", 10); len(got) != 0 {
		t.Fatalf("expected no results, got %v", got)
	}
}

func TestCacheAutoRefresh(t *testing.T) {
	cache := NewCache(0)
	store := &fakeStore{items: []storage.Item{item("Iron Sword", "weapons")}}
	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.StartAutoRefresh(ctx, store, 10*time.Millisecond, nil, nil, nil)

	store.mu.Lock()
	store.items = append(store.items, item("Dragon Scale", "materials"))
	store.mu.Unlock()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := cache.Validate("dragon scale"); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("auto refresh never picked up the new item")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type recordingHealth struct {
	mu       sync.Mutex
	degraded bool
}

func (h *recordingHealth) SetDegraded(degraded bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded = degraded
}

func (h *recordingHealth) isDegraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.degraded
}

func TestCacheAutoRefreshReportsDegraded(t *testing.T) {
	cache := NewCache(0)
	store := &fakeStore{items: []storage.Item{item("Iron Sword", "weapons")}}
	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}

	store.mu.Lock()
	store.fail = true
	store.mu.Unlock()

	health := &recordingHealth{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.StartAutoRefresh(ctx, store, 10*time.Millisecond, nil, health, nil)

	waitFor := func(want bool, msg string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for health.isDegraded() != want {
			select {
			case <-deadline:
				t.Fatal(msg)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	waitFor(true, "failed refresh never reported degraded")

	// The previous snapshot keeps serving while degraded.
	if _, ok := cache.Validate("iron sword"); !ok {
		t.Fatal("snapshot lost while degraded")
	}

	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()
	waitFor(false, "recovered refresh never cleared degraded")
}
