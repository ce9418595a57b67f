// Package model defines the core domain types shared across the PnL engine.
// Human-unit quantities (prices, held amounts, values) use shopspring/decimal;
// raw token-unit quantities stay in *big.Int until the final scale conversion.
package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EventType classifies a ledger entry.
type EventType string

const (
	// EventTrade is a position-changing trade execution.
	EventTrade EventType = "TRADE"
	// EventClaim is a post-resolution claim adjustment.
	EventClaim EventType = "CLAIM"
	// EventFinalize is the terminal settlement event written when a market
	// resolves. Excluded from liquidity and volume sums.
	EventFinalize EventType = "FINALIZE"
)

// LedgerEntry is one immutable trade/settlement event from the remote query
// service. Among all entries sharing (user, market, token), the entry with
// the greatest timestamp carries the authoritative quantity and realized PnL
// snapshots.
type LedgerEntry struct {
	User            string          `json:"user" db:"user_address"`
	Market          string          `json:"market" db:"market_address"`
	TokenID         int64           `json:"token_id" db:"token_id"`                 // outcome bitmask
	DeltaQuantity   *big.Int        `json:"delta_quantity" db:"delta_quantity"`     // raw units, signed
	DeltaCollateral decimal.Decimal `json:"delta_collateral" db:"delta_collateral"` // human units, signed
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`                 // running held snapshot, human units
	RealizedPnL     decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`         // running snapshot
	Type            EventType       `json:"type" db:"event_type"`
	Timestamp       int64           `json:"timestamp" db:"block_timestamp"`
}

// ClaimRecord is one redemption of resolved-market winnings. Claims are
// cumulative: all records for a (user, market, token) sum, there is no
// "latest" semantics.
type ClaimRecord struct {
	User      string   `json:"user" db:"user_address"`
	Market    string   `json:"market" db:"market_address"`
	TokenID   int64    `json:"token_id" db:"token_id"`
	Amount    *big.Int `json:"amount" db:"amount"` // raw units, > 0
	Timestamp int64    `json:"timestamp" db:"block_timestamp"`
}

// MarketOutcome is one row of the market/outcome-token catalog: the market's
// resolution state plus the latest price/payout snapshot for one token.
type MarketOutcome struct {
	Market    string          `json:"market" db:"market_address"`
	TokenID   int64           `json:"token_id" db:"token_id"`
	Answer    *int64          `json:"answer" db:"answer"` // nil until resolved
	Price     decimal.Decimal `json:"price" db:"price"`   // latest marginal price
	Payout    decimal.Decimal `json:"payout" db:"payout"` // per-unit, resolved markets only
	Timestamp int64           `json:"timestamp" db:"block_timestamp"`
}

// Resolved reports whether the owning market has a non-null answer.
func (o MarketOutcome) Resolved() bool { return o.Answer != nil }

// Position is the derived latest state of one (user, market, token) triple.
// Recomputed from scratch on every query, never persisted.
type Position struct {
	User        string          `json:"user"`
	Market      string          `json:"market"`
	TokenID     int64           `json:"token_id"`
	Quantity    decimal.Decimal `json:"quantity"` // human units
	LastDelta   *big.Int        `json:"-"`        // raw delta of the most recent event
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Resolved    bool            `json:"resolved"`
	Winning     bool            `json:"winning"`
	Answer      int64           `json:"answer,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Payout      decimal.Decimal `json:"payout"`
	Value       decimal.Decimal `json:"value"`
	Timestamp   int64           `json:"block_timestamp"`
}

// MarketMetrics is the per-market report produced by the metrics builder.
type MarketMetrics struct {
	Market    string                 `json:"market"`
	Liquidity decimal.Decimal        `json:"liquidity"` // turnover: Σ |collateral delta|
	Tokens    map[int64]TokenMetrics `json:"tokens"`
}

// TokenMetrics is the per-outcome-token slice of MarketMetrics.
type TokenMetrics struct {
	Supply decimal.Decimal `json:"supply"` // Σ latest held quantity across users
	Price  decimal.Decimal `json:"price"`
	Payoff decimal.Decimal `json:"payoff"` // (liquidity/supply)/price, 0 if undefined
}

// Wins reports whether a token's bitmask intersects the answer bitmask.
func Wins(tokenID, answer int64) bool { return tokenID&answer != 0 }

// NormalizeAddress case-folds an address for map keys and comparisons.
// Upstream services are inconsistent about checksummed casing.
func NormalizeAddress(addr string) string { return strings.ToLower(addr) }

// Key builds the three-part accumulation key. Addresses and token ids are
// alphanumeric, so the hyphen separator cannot collide.
func Key(user, market string, tokenID int64) string {
	return fmt.Sprintf("%s-%s-%d", NormalizeAddress(user), NormalizeAddress(market), tokenID)
}
