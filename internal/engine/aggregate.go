package engine

import (
	"github.com/shopspring/decimal"
)

// Depth selects the grouping granularity of a Board.
type Depth int

const (
	// DepthUser keeps one scalar per user.
	DepthUser Depth = 1
	// DepthMarket additionally keeps per-market sub-totals.
	DepthMarket Depth = 2
	// DepthToken additionally keeps per-token leaf entries.
	DepthToken Depth = 3
)

// MarketAgg is a user's per-market slice of a Board.
type MarketAgg struct {
	Total  decimal.Decimal           `json:"total"`
	Tokens map[int64]decimal.Decimal `json:"tokens,omitempty"`
}

// UserAgg is one user's entry in a Board.
type UserAgg struct {
	Total   decimal.Decimal       `json:"total"`
	Markets map[string]*MarketAgg `json:"markets,omitempty"`
}

// Board is the explicit three-level accumulation structure behind every
// leaderboard: user, then market, then token. Each level is summed independently; a
// contribution lands in its user total and its user-market sub-total, which
// are distinct key paths, so nothing is double counted.
//
// The two leaf modes are deliberate and must not be unified: PnL-style
// reports overwrite the token leaf (each (user, market, token) is unique
// after distinct-latest extraction), while volume-style reports accumulate
// at the leaf (many ledger rows feed one token).
type Board struct {
	Depth Depth               `json:"depth"`
	Users map[string]*UserAgg `json:"users"`
}

// NewBoard creates an empty board of the given depth. Depths outside [1,3]
// are clamped.
func NewBoard(depth Depth) *Board {
	if depth < DepthUser {
		depth = DepthUser
	}
	if depth > DepthToken {
		depth = DepthToken
	}
	return &Board{Depth: depth, Users: make(map[string]*UserAgg)}
}

// Add accumulates v into the user total, the market sub-total (depth ≥ 2) and
// the token leaf (depth 3, accumulating).
func (b *Board) Add(user, market string, tokenID int64, v decimal.Decimal) {
	ua, ma := b.path(user, market)
	ua.Total = ua.Total.Add(v)
	if ma == nil {
		return
	}
	ma.Total = ma.Total.Add(v)
	if b.Depth >= DepthToken {
		ma.Tokens[tokenID] = ma.Tokens[tokenID].Add(v)
	}
}

// Put accumulates v into the user and market totals but overwrites the token
// leaf (depth 3).
func (b *Board) Put(user, market string, tokenID int64, v decimal.Decimal) {
	ua, ma := b.path(user, market)
	ua.Total = ua.Total.Add(v)
	if ma == nil {
		return
	}
	ma.Total = ma.Total.Add(v)
	if b.Depth >= DepthToken {
		ma.Tokens[tokenID] = v
	}
}

// path gets or inserts the user entry and, at depth ≥ 2, the market entry.
func (b *Board) path(user, market string) (*UserAgg, *MarketAgg) {
	ua, ok := b.Users[user]
	if !ok {
		ua = &UserAgg{}
		if b.Depth >= DepthMarket {
			ua.Markets = make(map[string]*MarketAgg)
		}
		b.Users[user] = ua
	}
	if b.Depth < DepthMarket {
		return ua, nil
	}
	ma, ok := ua.Markets[market]
	if !ok {
		ma = &MarketAgg{}
		if b.Depth >= DepthToken {
			ma.Tokens = make(map[int64]decimal.Decimal)
		}
		ua.Markets[market] = ma
	}
	return ua, ma
}
