package models

import (
	"strconv"
	"time"
)

// Trade is a single fill reported by the CLOB trades endpoint or the
// market websocket channel. Size and price stay strings as received;
// malformed values become a skip decision at evaluation time, not an error.
type Trade struct {
	ID              string    `json:"id"`
	TokenID         string    `json:"market"`
	AssetID         string    `json:"asset_id"`
	MakerAddress    string    `json:"maker_address"`
	TakerAddress    string    `json:"taker_address"`
	Side            string    `json:"side"`
	Outcome         string    `json:"outcome"`
	Size            string    `json:"size"`
	Price           string    `json:"price"`
	TransactionHash string    `json:"transaction_hash"`
	Timestamp       time.Time `json:"-"`
}

// DedupID returns the identifier used for processed-trade deduplication,
// preferring the trade ID and falling back to the transaction hash.
func (t *Trade) DedupID() string {
	if t.ID != "" {
		return t.ID
	}
	return t.TransactionHash
}

// Wallet returns the wallet address associated with the trade, preferring
// the maker side.
func (t *Trade) Wallet() string {
	if t.MakerAddress != "" {
		return t.MakerAddress
	}
	return t.TakerAddress
}

// USDValue computes size*price. The boolean is false when either numeric
// field is malformed.
func (t *Trade) USDValue() (float64, bool) {
	size, err := strconv.ParseFloat(t.Size, 64)
	if err != nil {
		return 0, false
	}
	price, ok := t.PriceFloat()
	if !ok {
		return 0, false
	}
	return size * price, true
}

// PriceFloat parses the price field; false when malformed.
func (t *Trade) PriceFloat() (float64, bool) {
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}
