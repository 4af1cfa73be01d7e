package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/catalog"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/storage"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/kafka"
)

type fakeStore struct {
	mu    sync.Mutex
	items map[string]storage.Item
}

func (f *fakeStore) LoadAllItems(ctx context.Context) ([]storage.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Item, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeStore) GetItemByKey(ctx context.Context, key string) (*storage.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[key]; ok {
		found := it
		return &found, nil
	}
	return nil, storage.ErrItemNotFound
}

func newFixture(t *testing.T, names ...string) (*catalog.Cache, *fakeStore, *CatalogConsumer) {
	t.Helper()
	store := &fakeStore{items: make(map[string]storage.Item)}
	for _, name := range names {
		key := catalog.NormalizeKey(name)
		store.items[key] = storage.Item{ID: uuid.New(), Name: name, Key: key}
	}
	cache := catalog.NewCache(0)
	if err := cache.Reload(context.Background(), store); err != nil {
		t.Fatalf("load cache: %v", err)
	}
	return cache, store, NewCatalogConsumer(cache, store, nil)
}

func message(t *testing.T, action, itemName string) *sarama.ConsumerMessage {
	t.Helper()
	env, err := kafka.NewEnvelope(CatalogChangedEventType, 1, "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	payload, err := json.Marshal(CatalogChangedEvent{Envelope: env, Action: action, ItemName: itemName})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "catalog.changed", Value: payload}
}

func TestHandleAdded(t *testing.T) {
	cache, store, c := newFixture(t, "Iron Sword")

	store.mu.Lock()
	store.items["dragon scale"] = storage.Item{ID: uuid.New(), Name: "Dragon Scale", Key: "dragon scale"}
	store.mu.Unlock()

	if err := c.HandleMessage(context.Background(), message(t, ActionAdded, "Dragon Scale")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := cache.Validate("dragon scale"); !ok {
		t.Fatal("added item not in cache")
	}
}

func TestHandleRemoved(t *testing.T) {
	cache, store, c := newFixture(t, "Iron Sword")

	store.mu.Lock()
	delete(store.items, "iron sword")
	store.mu.Unlock()

	if err := c.HandleMessage(context.Background(), message(t, ActionRemoved, "Iron Sword")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := cache.Validate("iron sword"); ok {
		t.Fatal("removed item still in cache")
	}
}

func TestHandleReload(t *testing.T) {
	cache, store, c := newFixture(t, "Iron Sword")

	store.mu.Lock()
	store.items["dragon scale"] = storage.Item{ID: uuid.New(), Name: "Dragon Scale", Key: "dragon scale"}
	delete(store.items, "iron sword")
	store.mu.Unlock()

	if err := c.HandleMessage(context.Background(), message(t, ActionReload, "")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := cache.Validate("dragon scale"); !ok {
		t.Fatal("reload missed the new item")
	}
	if _, ok := cache.Validate("iron sword"); ok {
		t.Fatal("reload kept the deleted item")
	}
}

func TestHandleRejectsBadMessages(t *testing.T) {
	_, _, c := newFixture(t, "Iron Sword")
	ctx := context.Background()

	cases := []struct {
		name string
		msg  *sarama.ConsumerMessage
	}{
		{"nil message", nil},
		{"empty value", &sarama.ConsumerMessage{}},
		{"not json", &sarama.ConsumerMessage{Value: []byte("nope")}},
		{"unknown action", message(t, "renamed", "Iron Sword")},
		{"added without item", message(t, ActionAdded, "")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.HandleMessage(ctx, tc.msg); err == nil {
				t.Fatal("bad message accepted")
			}
		})
	}
}

func TestHandleRejectsWrongEventType(t *testing.T) {
	_, _, c := newFixture(t, "Iron Sword")

	env, err := kafka.NewEnvelope("listings.matched", 1, "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	payload, _ := json.Marshal(CatalogChangedEvent{Envelope: env, Action: ActionReload})
	msg := &sarama.ConsumerMessage{Value: payload}

	if err := c.HandleMessage(context.Background(), msg); err == nil {
		t.Fatal("wrong event type accepted")
	}
}
