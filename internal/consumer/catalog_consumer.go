// Package consumer applies catalog change events published by other
// services so every instance converges on the same item snapshot.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/catalog"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/kafka"
	"log/slog"
)

const (
	CatalogChangedEventType = "catalog.changed"

	ActionAdded   = "added"
	ActionRemoved = "removed"
	ActionReload  = "reload"
)

type CatalogChangedEvent struct {
	kafka.Envelope
	Action   string `json:"action"`
	ItemName string `json:"item_name,omitempty"`
}

type CatalogConsumer struct {
	cache  *catalog.Cache
	store  catalog.ItemStore
	logger *slog.Logger
}

func NewCatalogConsumer(cache *catalog.Cache, store catalog.ItemStore, logger *slog.Logger) *CatalogConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogConsumer{
		cache:  cache,
		store:  store,
		logger: logger,
	}
}

func (c *CatalogConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return fmt.Errorf("empty kafka message")
	}

	var event CatalogChangedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode catalog.changed: %w", err)
	}
	if err := event.Validate(); err != nil {
		return err
	}
	if event.EventType != CatalogChangedEventType {
		return fmt.Errorf("unexpected event type %q", event.EventType)
	}

	action := strings.ToLower(strings.TrimSpace(event.Action))
	switch action {
	case ActionAdded, ActionRemoved:
		if strings.TrimSpace(event.ItemName) == "" {
			return fmt.Errorf("catalog.changed %s without item_name", action)
		}
		if err := c.cache.Invalidate(ctx, c.store, event.ItemName); err != nil {
			return fmt.Errorf("refresh item %q: %w", event.ItemName, err)
		}
		c.logger.Info("catalog entry refreshed", "action", action, "item", catalog.NormalizeKey(event.ItemName), "event_id", event.EventID)
	case ActionReload:
		if err := c.cache.Reload(ctx, c.store); err != nil {
			return fmt.Errorf("reload catalog: %w", err)
		}
		c.logger.Info("catalog reloaded", "size", c.cache.Size(), "event_id", event.EventID)
	default:
		return fmt.Errorf("unknown catalog.changed action %q", event.Action)
	}
	return nil
}
