// Package engine finds a compatible counterpart for each new listing
// and claims the pair atomically through the listing store's
// compare-and-set primitive.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/listing"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/session"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/storage"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/kafka"
	"github.com/shopspring/decimal"
	"log/slog"
)

// ErrInvariant marks a state the matching rules say cannot happen. It is
// never swallowed: the operation aborts and the condition is logged at
// the highest severity.
var ErrInvariant = errors.New("matching invariant violated")

type ListingSet interface {
	FindCounterparts(itemKey, side, excludingUser string) []storage.Listing
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

type MatchStore interface {
	InsertMatch(ctx context.Context, m storage.Match) error
}

type Metrics interface {
	ObserveMatch(outcome string, duration time.Duration)
	ObserveCandidates(count int)
}

type Engine struct {
	listings ListingSet
	store    MatchStore
	producer kafka.Publisher
	topic    string
	logger   *slog.Logger
	metrics  Metrics
}

func NewEngine(listings ListingSet, store MatchStore, producer kafka.Publisher, topic string, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = "listings.matched"
	}
	return &Engine{
		listings: listings,
		store:    store,
		producer: producer,
		topic:    topic,
		logger:   logger,
		metrics:  metrics,
	}
}

// OnNewListing scans open counterparts for the freshly inserted listing
// and returns at most one Match. Candidates lost to concurrent matches
// are skipped; the retry is bounded by the initial scan, and an empty
// remainder degrades to no match, not an error.
func (e *Engine) OnNewListing(ctx context.Context, newListing *storage.Listing, correlationID string) (*storage.Match, error) {
	start := time.Now()
	if newListing == nil {
		return nil, fmt.Errorf("listing required")
	}
	opposite := storage.OppositeSide(newListing.Side)
	if opposite == "" {
		return nil, fmt.Errorf("invalid side %q", newListing.Side)
	}

	candidates := e.listings.FindCounterparts(newListing.ItemKey, opposite, newListing.UserID)
	compatible := filterCompatible(newListing, candidates)
	rankCandidates(newListing.Side, compatible)
	if e.metrics != nil {
		e.metrics.ObserveCandidates(len(compatible))
	}

	for i := range compatible {
		candidate := compatible[i]

		err := e.listings.TransitionStatus(ctx, candidate.ID, storage.StatusOpen, storage.StatusMatched)
		if errors.Is(err, listing.ErrAlreadyTaken) {
			continue
		}
		if err != nil {
			e.observe("error", start)
			return nil, err
		}

		err = e.listings.TransitionStatus(ctx, newListing.ID, storage.StatusOpen, storage.StatusMatched)
		if errors.Is(err, listing.ErrAlreadyTaken) {
			// The submitter retired their own listing mid-flight. Release
			// the candidate and stop; there is nothing left to match.
			if rbErr := e.listings.TransitionStatus(ctx, candidate.ID, storage.StatusMatched, storage.StatusOpen); rbErr != nil {
				e.logger.Error("counterpart release failed", "listing_id", candidate.ID, "error", rbErr)
				e.observe("invariant", start)
				return nil, fmt.Errorf("%w: counterpart %s stuck in matched", ErrInvariant, candidate.ID)
			}
			e.observe("withdrawn", start)
			return nil, nil
		}
		if err != nil {
			e.observe("error", start)
			return nil, err
		}

		match, err := e.commitMatch(ctx, newListing, &candidate, correlationID)
		if err != nil {
			e.observe("error", start)
			return nil, err
		}
		e.observe("matched", start)
		return match, nil
	}

	e.observe("no_match", start)
	return nil, nil
}

// commitMatch persists the match record and announces it. Both listings
// are already durably matched; the announcement is advisory and must
// not undo them.
func (e *Engine) commitMatch(ctx context.Context, newListing, candidate *storage.Listing, correlationID string) (*storage.Match, error) {
	buy, sell := newListing, candidate
	if newListing.Side == storage.SideSell {
		buy, sell = candidate, newListing
	}

	match := storage.Match{
		ID:            uuid.New(),
		BuyListingID:  buy.ID,
		SellListingID: sell.ID,
		BuyerID:       buy.UserID,
		SellerID:      sell.UserID,
		ItemName:      newListing.ItemName,
		BuyerPrice:    buy.Price,
		SellerPrice:   sell.Price,
		AgreedPrice:   sell.Price,
		SessionKey:    session.KeyForPair(buy.ID, sell.ID),
		CreatedAt:     time.Now().UTC(),
	}

	if err := e.store.InsertMatch(ctx, match); err != nil {
		// Listings stay matched: a recorded pair without a match row is
		// recoverable by replay, the reverse is not. Surface the error.
		return nil, fmt.Errorf("persist match: %w", err)
	}

	e.publish(ctx, match, correlationID)
	return &match, nil
}

func (e *Engine) publish(ctx context.Context, match storage.Match, correlationID string) {
	if e.producer == nil {
		return
	}

	env, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(ListingsMatchedEventType, match.SessionKey),
		ListingsMatchedEventType, 1, correlationID,
	)
	if err != nil {
		e.logger.Error("match event envelope failed", "error", err)
		return
	}

	event := ListingMatchedEvent{
		Envelope:      env,
		MatchID:       match.ID.String(),
		SessionKey:    match.SessionKey,
		ItemName:      match.ItemName,
		BuyListingID:  match.BuyListingID.String(),
		SellListingID: match.SellListingID.String(),
		BuyerID:       match.BuyerID,
		SellerID:      match.SellerID,
		BuyerPrice:    match.BuyerPrice.String(),
		SellerPrice:   match.SellerPrice.String(),
		AgreedPrice:   match.AgreedPrice.String(),
		MatchedAt:     match.CreatedAt.Format(time.RFC3339),
	}

	if _, _, err := e.producer.PublishJSON(ctx, e.topic, match.SessionKey, event); err != nil {
		e.logger.Error("match event publish failed", "match_id", match.ID, "error", err)
	}
}

func (e *Engine) observe(outcome string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveMatch(outcome, time.Since(start))
	}
}

// filterCompatible keeps counterparts whose price crosses the new
// listing's: a buy must meet or beat the ask, a sell must be met or
// beaten by the bid.
func filterCompatible(newListing *storage.Listing, candidates []storage.Listing) []storage.Listing {
	out := make([]storage.Listing, 0, len(candidates))
	for _, c := range candidates {
		if priceCompatible(newListing.Side, newListing.Price, c.Price) {
			out = append(out, c)
		}
	}
	return out
}

func priceCompatible(side string, newPrice, counterpartPrice decimal.Decimal) bool {
	if side == storage.SideBuy {
		return newPrice.GreaterThanOrEqual(counterpartPrice)
	}
	return counterpartPrice.GreaterThanOrEqual(newPrice)
}

// rankCandidates orders counterparts best-first for the new listing's
// owner: lowest ask for a buyer, highest bid for a seller. The input is
// already oldest-first, so a stable sort keeps age as the tie-break.
func rankCandidates(side string, candidates []storage.Listing) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if side == storage.SideBuy {
			return candidates[i].Price.LessThan(candidates[j].Price)
		}
		return candidates[i].Price.GreaterThan(candidates[j].Price)
	})
}
