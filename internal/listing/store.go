// Package listing holds the live set of open listings. The in-memory
// maps are the synchronization point for all status transitions; every
// accepted mutation is written through to the durable store.
package listing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/storage"
	"github.com/shopspring/decimal"
)

var (
	// ErrAlreadyTaken reports a compare-and-set that lost the race: the
	// listing was matched or removed by a concurrent operation.
	ErrAlreadyTaken = errors.New("listing already taken")

	ErrTooManyListings = errors.New("too many open listings")
)

// statusPending marks a listing whose write-through has not committed
// yet. It exists only in memory: the durable row is inserted as open,
// and scans and claims treat pending as not-yet-there.
const statusPending = "pending"

type Persistence interface {
	InsertListing(ctx context.Context, l storage.Listing) error
	UpdateListingStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
}

// Store indexes listings two ways: byKey holds the single claimable
// listing per (user, item, side), byID holds every live listing
// including matched ones, so a compensating release can still find
// them.
type Store struct {
	mu         sync.Mutex
	byKey      map[string]*storage.Listing
	byID       map[uuid.UUID]*storage.Listing
	seq        uint64
	maxPerUser int
	persist    Persistence
}

func NewStore(persist Persistence, maxPerUser int) *Store {
	return &Store{
		byKey:      make(map[string]*storage.Listing),
		byID:       make(map[uuid.UUID]*storage.Listing),
		maxPerUser: maxPerUser,
		persist:    persist,
	}
}

func listingKey(userID, itemKey, side string) string {
	return strings.Join([]string{userID, itemKey, side}, "|")
}

// Load rehydrates the open set from rows persisted by a previous run.
func (s *Store) Load(rows []storage.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range rows {
		l := rows[i]
		if l.Status != storage.StatusOpen {
			continue
		}
		copy := l
		s.byKey[listingKey(l.UserID, l.ItemKey, l.Side)] = &copy
		s.byID[l.ID] = &copy
		if l.Seq >= s.seq {
			s.seq = l.Seq + 1
		}
	}
}

// Insert installs a new open listing for (user, item, side). A prior
// open listing under the same key is retired and returned as replaced:
// resubmitting a price updates the standing offer rather than stacking
// a second one.
func (s *Store) Insert(ctx context.Context, userID string, item *storage.Item, side string, price decimal.Decimal) (created *storage.Listing, replaced *storage.Listing, err error) {
	if item == nil {
		return nil, nil, fmt.Errorf("item required")
	}
	if storage.OppositeSide(side) == "" {
		return nil, nil, fmt.Errorf("invalid side %q", side)
	}

	now := time.Now().UTC()
	key := listingKey(userID, item.Key, side)

	s.mu.Lock()
	prior := s.byKey[key]
	if prior == nil && s.maxPerUser > 0 && s.countOpenLocked(userID) >= s.maxPerUser {
		s.mu.Unlock()
		return nil, nil, ErrTooManyListings
	}

	// Reserve the key slot as pending: concurrent inserts under the same
	// key are serialized here, but scans and claims cannot see the
	// listing until the write-through commits.
	next := &storage.Listing{
		ID:        uuid.New(),
		UserID:    userID,
		ItemKey:   item.Key,
		ItemName:  item.Name,
		Side:      side,
		Price:     price,
		Status:    statusPending,
		Seq:       s.seq,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.seq++

	var priorID uuid.UUID
	hasPrior := prior != nil
	if hasPrior {
		priorID = prior.ID
	}
	s.byKey[key] = next
	s.byID[next.ID] = next
	s.mu.Unlock()

	// Write-through outside the lock; a persistence failure rolls the
	// in-memory state back and rejects the insert. The prior listing
	// stays claimable (via byID) until its durable retire commits.
	if hasPrior {
		retired, perr := s.persist.UpdateListingStatus(ctx, priorID, storage.StatusOpen, storage.StatusRemoved)
		if perr != nil {
			s.rollbackInsert(key, next.ID, priorID, true)
			return nil, nil, fmt.Errorf("retire prior listing: %w", perr)
		}
		if !retired {
			// The prior listing changed under us, most likely claimed by
			// a concurrent match.
			s.rollbackInsert(key, next.ID, priorID, true)
			return nil, nil, fmt.Errorf("retire prior listing: %w", ErrAlreadyTaken)
		}
		s.mu.Lock()
		if p, ok := s.byID[priorID]; ok {
			p.Status = storage.StatusRemoved
			p.UpdatedAt = now
			priorCopy := *p
			replaced = &priorCopy
			delete(s.byID, priorID)
		}
		s.mu.Unlock()
	}

	durable := *next
	durable.Status = storage.StatusOpen
	if perr := s.persist.InsertListing(ctx, durable); perr != nil {
		s.rollbackInsert(key, next.ID, priorID, hasPrior)
		return nil, nil, fmt.Errorf("persist listing: %w", perr)
	}

	s.mu.Lock()
	next.Status = storage.StatusOpen
	createdCopy := *next
	s.mu.Unlock()
	return &createdCopy, replaced, nil
}

func (s *Store) rollbackInsert(key string, createdID, priorID uuid.UUID, hasPrior bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, createdID)
	if cur, ok := s.byKey[key]; ok && cur.ID == createdID {
		delete(s.byKey, key)
	}
	// Give the slot back to the prior listing unless it already left the
	// open state on its own.
	if hasPrior {
		if p, ok := s.byID[priorID]; ok && p.Status == storage.StatusOpen {
			s.byKey[key] = p
		}
	}
}

// TransitionStatus is the sole status mutation primitive. It succeeds
// only when the listing still holds the expected status; a lost race
// reports ErrAlreadyTaken without side effects. Listings leaving open
// give up their key slot but stay in byID, so a matched listing can be
// released back to open by the compensation path.
func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	s.mu.Lock()
	l, ok := s.byID[id]
	if !ok || l.Status != from {
		s.mu.Unlock()
		return ErrAlreadyTaken
	}
	key := listingKey(l.UserID, l.ItemKey, l.Side)
	prev := *l
	l.Status = to
	l.UpdatedAt = time.Now().UTC()
	if from == storage.StatusOpen {
		if cur, held := s.byKey[key]; held && cur.ID == id {
			delete(s.byKey, key)
		}
	}
	if to == storage.StatusOpen {
		// Released back to open: retake the key slot unless a newer
		// listing claimed it in the meantime.
		if _, held := s.byKey[key]; !held {
			s.byKey[key] = l
		}
	}
	if to == storage.StatusRemoved {
		delete(s.byID, id)
	}
	s.mu.Unlock()

	updated, err := s.persist.UpdateListingStatus(ctx, id, from, to)
	if err == nil && !updated {
		// The durable row no longer holds the expected status: memory
		// and store diverged, do not pretend the transition happened.
		err = fmt.Errorf("listing %s not %s in durable store", id, from)
	}
	if err != nil {
		// Restore so a retry can observe the listing again.
		s.mu.Lock()
		restored := prev
		s.byID[id] = &restored
		if prev.Status == storage.StatusOpen {
			s.byKey[key] = &restored
		} else if cur, held := s.byKey[key]; held && cur.ID == id {
			delete(s.byKey, key)
		}
		s.mu.Unlock()
		return fmt.Errorf("persist status transition: %w", err)
	}
	return nil
}

// Remove retires the caller's open listing for (item, side).
func (s *Store) Remove(ctx context.Context, userID, itemKey, side string) (bool, error) {
	s.mu.Lock()
	l, ok := s.byKey[listingKey(userID, itemKey, side)]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	id := l.ID
	s.mu.Unlock()

	err := s.TransitionStatus(ctx, id, storage.StatusOpen, storage.StatusRemoved)
	if errors.Is(err, ErrAlreadyTaken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindCounterparts returns open listings for the item on the given side,
// excluding the user's own, oldest first.
func (s *Store) FindCounterparts(itemKey, side, excludingUser string) []storage.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Listing
	for _, l := range s.byKey {
		if l.Status != storage.StatusOpen {
			continue
		}
		if l.ItemKey != itemKey || l.Side != side || l.UserID == excludingUser {
			continue
		}
		out = append(out, *l)
	}
	sortBySeq(out)
	return out
}

// OpenByUser returns the user's open listings, oldest first.
func (s *Store) OpenByUser(userID string) []storage.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Listing
	for _, l := range s.byKey {
		if l.UserID == userID && l.Status == storage.StatusOpen {
			out = append(out, *l)
		}
	}
	sortBySeq(out)
	return out
}

func (s *Store) CountOpen(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countOpenLocked(userID)
}

func (s *Store) countOpenLocked(userID string) int {
	n := 0
	for _, l := range s.byKey {
		if l.UserID == userID && l.Status == storage.StatusOpen {
			n++
		}
	}
	return n
}

func sortBySeq(listings []storage.Listing) {
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].Seq < listings[j].Seq
	})
}
