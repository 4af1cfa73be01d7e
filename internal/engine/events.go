package engine

import "github.com/ravenousdox/MarketplaceMatchmaker/libs/kafka"

const ListingsMatchedEventType = "listings.matched"

type ListingMatchedEvent struct {
	kafka.Envelope
	MatchID       string `json:"match_id"`
	SessionKey    string `json:"session_key"`
	ItemName      string `json:"item_name"`
	BuyListingID  string `json:"buy_listing_id"`
	SellListingID string `json:"sell_listing_id"`
	BuyerID       string `json:"buyer_id"`
	SellerID      string `json:"seller_id"`
	BuyerPrice    string `json:"buyer_price"`
	SellerPrice   string `json:"seller_price"`
	AgreedPrice   string `json:"agreed_price"`
	MatchedAt     string `json:"matched_at"`
}
