package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	StatusOpen    = "open"
	StatusMatched = "matched"
	StatusRemoved = "removed"
)

// OppositeSide returns the counterpart side, or "" for invalid input.
func OppositeSide(side string) string {
	switch side {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return ""
}

// Item is a catalog entry. Name is stored as entered; Key is the
// case-normalized form all lookups use.
type Item struct {
	ID          uuid.UUID
	Name        string
	Key         string
	Category    string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
}

// Listing is a user's standing buy or sell offer for one catalog item.
// Seq is a monotonic insertion counter used for oldest-first tie-breaks.
type Listing struct {
	ID        uuid.UUID
	UserID    string
	ItemKey   string
	ItemName  string
	Side      string
	Price     decimal.Decimal
	Status    string
	Seq       uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Match pairs one buy and one sell listing. AgreedPrice is the seller's
// ask; both raw prices are kept for the negotiation channel.
type Match struct {
	ID            uuid.UUID
	BuyListingID  uuid.UUID
	SellListingID uuid.UUID
	BuyerID       string
	SellerID      string
	ItemName      string
	BuyerPrice    decimal.Decimal
	SellerPrice   decimal.Decimal
	AgreedPrice   decimal.Decimal
	SessionKey    string
	CreatedAt     time.Time
}

// Stats backs the admin overview.
type Stats struct {
	Items        int64
	OpenListings int64
	Matches      int64
	Sessions     int64
	AdminActions int64
}
