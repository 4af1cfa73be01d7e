package listing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/storage"
	"github.com/shopspring/decimal"
)

type fakePersistence struct {
	mu          sync.Mutex
	inserted    []storage.Listing
	transitions []string
	failInsert  bool
	failUpdate  bool
	staleUpdate bool
	onInsert    func(l storage.Listing)
}

func (f *fakePersistence) InsertListing(ctx context.Context, l storage.Listing) error {
	f.mu.Lock()
	hook := f.onInsert
	fail := f.failInsert
	f.mu.Unlock()
	if hook != nil {
		hook(l)
	}
	if fail {
		return errors.New("insert failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, l)
	return nil
}

func (f *fakePersistence) UpdateListingStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate {
		return false, errors.New("update failed")
	}
	if f.staleUpdate {
		return false, nil
	}
	f.transitions = append(f.transitions, from+"->"+to)
	return true, nil
}

func testItem(name string) *storage.Item {
	return &storage.Item{
		ID:   uuid.New(),
		Name: name,
		Key:  name,
	}
}

func price(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestInsertOnePerUserItemSide(t *testing.T) {
	store := NewStore(&fakePersistence{}, 50)
	ctx := context.Background()
	sword := testItem("iron sword")

	first, replaced, err := store.Insert(ctx, "alice", sword, storage.SideSell, price("100"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if replaced != nil {
		t.Fatal("first insert should not replace")
	}

	// Same key again: the standing offer is replaced, not stacked.
	second, replaced, err := store.Insert(ctx, "alice", sword, storage.SideSell, price("90"))
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if replaced == nil || replaced.ID != first.ID {
		t.Fatalf("expected prior listing %s replaced, got %+v", first.ID, replaced)
	}
	if replaced.Status != storage.StatusRemoved {
		t.Fatalf("replaced listing status %q, want removed", replaced.Status)
	}

	open := store.OpenByUser("alice")
	if len(open) != 1 || open[0].ID != second.ID {
		t.Fatalf("open set = %+v, want only %s", open, second.ID)
	}

	// The opposite side is a distinct key.
	if _, replaced, err := store.Insert(ctx, "alice", sword, storage.SideBuy, price("80")); err != nil || replaced != nil {
		t.Fatalf("buy side insert: replaced=%v err=%v", replaced, err)
	}
	if got := store.CountOpen("alice"); got != 2 {
		t.Fatalf("open count = %d, want 2", got)
	}
}

func TestInsertPerUserCap(t *testing.T) {
	store := NewStore(&fakePersistence{}, 2)
	ctx := context.Background()

	for i, name := range []string{"a", "b"} {
		if _, _, err := store.Insert(ctx, "alice", testItem(name), storage.SideSell, price("10")); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	_, _, err := store.Insert(ctx, "alice", testItem("c"), storage.SideSell, price("10"))
	if !errors.Is(err, ErrTooManyListings) {
		t.Fatalf("err = %v, want ErrTooManyListings", err)
	}

	// Replacing an existing key does not count against the cap.
	if _, replaced, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("12")); err != nil || replaced == nil {
		t.Fatalf("replace at cap: replaced=%v err=%v", replaced, err)
	}
}

func TestInsertPersistFailureRollsBack(t *testing.T) {
	persist := &fakePersistence{failInsert: true}
	store := NewStore(persist, 50)
	ctx := context.Background()

	if _, _, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("10")); err == nil {
		t.Fatal("expected persist failure")
	}
	if got := store.CountOpen("alice"); got != 0 {
		t.Fatalf("open count after rollback = %d, want 0", got)
	}

	// The store accepts the listing once persistence recovers.
	persist.mu.Lock()
	persist.failInsert = false
	persist.mu.Unlock()
	if _, _, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("10")); err != nil {
		t.Fatalf("insert after recovery: %v", err)
	}
}

func TestTransitionStatusCAS(t *testing.T) {
	store := NewStore(&fakePersistence{}, 50)
	ctx := context.Background()

	created, _, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("10"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := store.TransitionStatus(ctx, created.ID, storage.StatusOpen, storage.StatusMatched); err != nil {
		t.Fatalf("transition: %v", err)
	}

	// Second claim loses.
	err = store.TransitionStatus(ctx, created.ID, storage.StatusOpen, storage.StatusMatched)
	if !errors.Is(err, ErrAlreadyTaken) {
		t.Fatalf("err = %v, want ErrAlreadyTaken", err)
	}
}

func TestTransitionStatusConcurrentSingleWinner(t *testing.T) {
	store := NewStore(&fakePersistence{}, 50)
	ctx := context.Background()

	created, _, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("10"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.TransitionStatus(ctx, created.ID, storage.StatusOpen, storage.StatusMatched); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var won int
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("%d racers claimed the listing, want exactly 1", won)
	}
}

func TestMatchedListingReleasedBackToOpen(t *testing.T) {
	store := NewStore(&fakePersistence{}, 50)
	ctx := context.Background()

	created, _, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("10"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := store.TransitionStatus(ctx, created.ID, storage.StatusOpen, storage.StatusMatched); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := store.FindCounterparts("a", storage.SideSell, ""); len(got) != 0 {
		t.Fatalf("claimed listing still claimable: %v", got)
	}

	// The compensation path returns the listing to the open set.
	if err := store.TransitionStatus(ctx, created.ID, storage.StatusMatched, storage.StatusOpen); err != nil {
		t.Fatalf("release: %v", err)
	}
	got := store.FindCounterparts("a", storage.SideSell, "")
	if len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("released listing not claimable again: %v", got)
	}
	if err := store.TransitionStatus(ctx, created.ID, storage.StatusOpen, storage.StatusMatched); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
}

func TestReleaseDoesNotClobberNewerListing(t *testing.T) {
	store := NewStore(&fakePersistence{}, 50)
	ctx := context.Background()
	sword := testItem("a")

	old, _, err := store.Insert(ctx, "alice", sword, storage.SideSell, price("10"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.TransitionStatus(ctx, old.ID, storage.StatusOpen, storage.StatusMatched); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The user re-lists while the old listing is held matched.
	newer, _, err := store.Insert(ctx, "alice", sword, storage.SideSell, price("12"))
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}

	if err := store.TransitionStatus(ctx, old.ID, storage.StatusMatched, storage.StatusOpen); err != nil {
		t.Fatalf("release: %v", err)
	}
	got := store.FindCounterparts("a", storage.SideSell, "")
	if len(got) != 1 || got[0].ID != newer.ID {
		t.Fatalf("newer listing lost its slot: %v", got)
	}
}

func TestInsertInvisibleUntilPersisted(t *testing.T) {
	persist := &fakePersistence{}
	store := NewStore(persist, 50)
	ctx := context.Background()

	var midScan int
	var midClaim error
	persist.onInsert = func(l storage.Listing) {
		midScan = len(store.FindCounterparts("a", storage.SideSell, ""))
		midClaim = store.TransitionStatus(ctx, l.ID, storage.StatusOpen, storage.StatusMatched)
	}

	created, _, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("10"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Before the write-through commits the listing is neither scannable
	// nor claimable.
	if midScan != 0 {
		t.Fatalf("listing visible to scans before persist: %d", midScan)
	}
	if !errors.Is(midClaim, ErrAlreadyTaken) {
		t.Fatalf("mid-persist claim = %v, want ErrAlreadyTaken", midClaim)
	}

	got := store.FindCounterparts("a", storage.SideSell, "")
	if len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("listing not visible after persist: %v", got)
	}
}

func TestTransitionStatusDurableDivergence(t *testing.T) {
	persist := &fakePersistence{}
	store := NewStore(persist, 50)
	ctx := context.Background()

	created, _, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("10"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// The durable CAS matches zero rows: the transition must fail, not
	// silently succeed in memory only.
	persist.mu.Lock()
	persist.staleUpdate = true
	persist.mu.Unlock()

	err = store.TransitionStatus(ctx, created.ID, storage.StatusOpen, storage.StatusMatched)
	if err == nil {
		t.Fatal("expected divergence error")
	}
	if errors.Is(err, ErrAlreadyTaken) {
		t.Fatalf("divergence reported as lost race: %v", err)
	}

	// In-memory state is restored for a retry.
	persist.mu.Lock()
	persist.staleUpdate = false
	persist.mu.Unlock()
	if err := store.TransitionStatus(ctx, created.ID, storage.StatusOpen, storage.StatusMatched); err != nil {
		t.Fatalf("retry after restore: %v", err)
	}
}

func TestTransitionStatusPersistFailureRestores(t *testing.T) {
	persist := &fakePersistence{}
	store := NewStore(persist, 50)
	ctx := context.Background()

	created, _, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("10"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	persist.mu.Lock()
	persist.failUpdate = true
	persist.mu.Unlock()

	if err := store.TransitionStatus(ctx, created.ID, storage.StatusOpen, storage.StatusMatched); err == nil {
		t.Fatal("expected persist failure")
	}

	// The listing is observable again for a retry.
	persist.mu.Lock()
	persist.failUpdate = false
	persist.mu.Unlock()
	if err := store.TransitionStatus(ctx, created.ID, storage.StatusOpen, storage.StatusMatched); err != nil {
		t.Fatalf("retry after restore: %v", err)
	}
}

func TestRemove(t *testing.T) {
	store := NewStore(&fakePersistence{}, 50)
	ctx := context.Background()

	if _, _, err := store.Insert(ctx, "alice", testItem("a"), storage.SideSell, price("10")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	removed, err := store.Remove(ctx, "alice", "a", storage.SideSell)
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}

	// Idempotent: a second withdraw finds nothing.
	removed, err = store.Remove(ctx, "alice", "a", storage.SideSell)
	if err != nil || removed {
		t.Fatalf("second remove: removed=%v err=%v", removed, err)
	}
}

func TestFindCounterpartsOldestFirst(t *testing.T) {
	store := NewStore(&fakePersistence{}, 50)
	ctx := context.Background()
	item := testItem("a")

	for _, user := range []string{"bob", "carol", "dave"} {
		if _, _, err := store.Insert(ctx, user, item, storage.SideSell, price("10")); err != nil {
			t.Fatalf("insert %s: %v", user, err)
		}
	}

	got := store.FindCounterparts("a", storage.SideSell, "alice")
	if len(got) != 3 {
		t.Fatalf("got %d counterparts, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Seq > got[i].Seq {
			t.Fatalf("counterparts not oldest-first: %v", got)
		}
	}

	// The submitter's own listings never come back.
	got = store.FindCounterparts("a", storage.SideSell, "bob")
	for _, l := range got {
		if l.UserID == "bob" {
			t.Fatal("own listing returned as counterpart")
		}
	}
}

func TestLoadRehydratesOpenRows(t *testing.T) {
	store := NewStore(&fakePersistence{}, 50)

	rows := []storage.Listing{
		{ID: uuid.New(), UserID: "alice", ItemKey: "a", Side: storage.SideSell, Price: price("10"), Status: storage.StatusOpen, Seq: 7},
		{ID: uuid.New(), UserID: "bob", ItemKey: "a", Side: storage.SideBuy, Price: price("12"), Status: storage.StatusMatched, Seq: 8},
	}
	store.Load(rows)

	if got := store.CountOpen("alice"); got != 1 {
		t.Fatalf("alice open count = %d, want 1", got)
	}
	if got := store.CountOpen("bob"); got != 0 {
		t.Fatalf("matched row rehydrated as open")
	}

	// New listings continue the sequence past the rehydrated rows.
	created, _, err := store.Insert(context.Background(), "carol", testItem("b"), storage.SideSell, price("5"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created.Seq <= 7 {
		t.Fatalf("seq %d not past rehydrated max", created.Seq)
	}
}
