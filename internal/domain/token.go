package domain

import (
	"bytes"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the ledger key used for the chain's native coin.
var NativeAsset = common.Address{}

// Token describes an ERC-20 style asset tracked by the bot.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int            `json:"decimals"`
}

// VenueID identifies a registered liquidity venue (one DEX deployment).
type VenueID string

// PairKey is the canonical, order-independent key for a token pair.
type PairKey struct {
	Lo common.Address
	Hi common.Address
}

// NewPairKey returns the canonical key for (a, b). NewPairKey(a, b) and
// NewPairKey(b, a) are equal.
func NewPairKey(a, b common.Address) PairKey {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// String renders the key as "lo-hi" using lower-case hex.
func (k PairKey) String() string {
	return strings.ToLower(k.Lo.Hex()) + "-" + strings.ToLower(k.Hi.Hex())
}

// WatchedPair is a pair the orchestrator scans every cycle. Base is the
// borrowed asset, Quote the counter asset.
type WatchedPair struct {
	Base  Token
	Quote Token
}

// Key returns the canonical pair key.
func (p WatchedPair) Key() PairKey {
	return NewPairKey(p.Base.Address, p.Quote.Address)
}

// Label returns a human readable "BASE/QUOTE" label.
func (p WatchedPair) Label() string {
	return p.Base.Symbol + "/" + p.Quote.Symbol
}
