// Package session turns match events into negotiation channels, at most
// one per matched pair no matter how often a match is replayed.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/ravenousdox/MarketplaceMatchmaker/internal/storage"
	"log/slog"
)

type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeFailed        Outcome = "failed"
)

type Result struct {
	Outcome   Outcome
	ChannelID string
	Reason    string
}

// Messenger is the external chat collaborator. ChannelExistsForTag is
// the reconciliation probe for channels whose registry commit was lost.
type Messenger interface {
	CreatePrivateChannel(ctx context.Context, name, participantA, participantB, tag string) (string, error)
	ChannelExistsForTag(ctx context.Context, tag string) (string, error)
	PostMessage(ctx context.Context, channelID, body string) error
	ArchiveChannel(ctx context.Context, channelID string) error
}

type Metrics interface {
	ObserveSession(outcome string)
}

type Orchestrator struct {
	registry  Registry
	messenger Messenger
	timeout   time.Duration
	logger    *slog.Logger
	metrics   Metrics
}

func NewOrchestrator(registry Registry, messenger Messenger, timeout time.Duration, logger *slog.Logger, metrics Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Orchestrator{
		registry:  registry,
		messenger: messenger,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
	}
}

// EnsureSession creates the negotiation channel for a match exactly
// once. Replays and retries with the same session key land on
// AlreadyExists; failures are retryable with the same key. No listing
// or catalog locks are held across the messenger calls.
func (o *Orchestrator) EnsureSession(ctx context.Context, match *storage.Match) Result {
	if match == nil {
		return o.fail("match required")
	}
	key := match.SessionKey
	if key == "" {
		key = KeyForPair(match.BuyListingID, match.SellListingID)
	}

	if existing, err := o.registry.Get(ctx, key); err != nil {
		return o.fail(fmt.Sprintf("registry lookup: %v", err))
	} else if existing != "" {
		return o.done(OutcomeAlreadyExists, existing)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// A channel may exist without a registry entry if a prior attempt
	// died between creation and commit. The deterministic tag finds it.
	if channelID, err := o.messenger.ChannelExistsForTag(callCtx, key); err != nil {
		return o.fail(fmt.Sprintf("channel reconciliation: %v", err))
	} else if channelID != "" {
		committed, _, err := o.registry.PutIfAbsent(ctx, key, channelID)
		if err != nil {
			return o.fail(fmt.Sprintf("registry commit after reconciliation: %v", err))
		}
		return o.done(OutcomeAlreadyExists, committed)
	}

	channelID, err := o.messenger.CreatePrivateChannel(callCtx, channelName(match), match.BuyerID, match.SellerID, key)
	if err != nil {
		return o.fail(fmt.Sprintf("channel creation: %v", err))
	}

	committed, inserted, err := o.registry.PutIfAbsent(ctx, key, channelID)
	if err != nil {
		// The channel exists but the commit was lost; the next retry
		// recovers it through the tag probe instead of creating a second
		// one.
		o.logger.Error("session registry commit failed", "session_key", key, "channel_id", channelID, "error", err)
		return o.fail(fmt.Sprintf("registry commit: %v", err))
	}
	if !inserted && committed != channelID {
		// A concurrent EnsureSession won the commit. Ours is surplus.
		if archiveErr := o.messenger.ArchiveChannel(callCtx, channelID); archiveErr != nil {
			o.logger.Warn("duplicate channel archive failed", "channel_id", channelID, "error", archiveErr)
		}
		return o.done(OutcomeAlreadyExists, committed)
	}

	o.announce(callCtx, channelID, match)
	return o.done(OutcomeCreated, channelID)
}

func (o *Orchestrator) announce(ctx context.Context, channelID string, match *storage.Match) {
	body := fmt.Sprintf(
		"Match found for %s. Buyer offers %s, seller asks %s. Agree on a final price here and coordinate the exchange.",
		match.ItemName, match.BuyerPrice.StringFixed(2), match.SellerPrice.StringFixed(2),
	)
	if err := o.messenger.PostMessage(ctx, channelID, body); err != nil {
		o.logger.Warn("match announcement failed", "channel_id", channelID, "error", err)
	}
}

func (o *Orchestrator) fail(reason string) Result {
	if o.metrics != nil {
		o.metrics.ObserveSession(string(OutcomeFailed))
	}
	return Result{Outcome: OutcomeFailed, Reason: reason}
}

func (o *Orchestrator) done(outcome Outcome, channelID string) Result {
	if o.metrics != nil {
		o.metrics.ObserveSession(string(outcome))
	}
	return Result{Outcome: outcome, ChannelID: channelID}
}

const maxChannelNameLen = 100

func channelName(match *storage.Match) string {
	name := fmt.Sprintf("trade: %s (%s & %s)", match.ItemName, match.BuyerID, match.SellerID)
	runes := []rune(name)
	if len(runes) > maxChannelNameLen {
		name = string(runes[:maxChannelNameLen-3]) + "..."
	}
	return name
}
