package engine

import (
	"math/big"

	"github.com/oddsight/pnl-engine/internal/model"
)

// ClaimSet accumulates total redeemed raw quantity per (user, market, token).
// Claims are cumulative redemptions, not snapshots, so every record for a key
// sums. Quantities stay in the exact integer domain: raw token units can
// exceed what float64 (or even int64) represents without loss.
type ClaimSet map[string]*big.Int

// NewClaimSet creates an empty claim accumulator.
func NewClaimSet() ClaimSet {
	return make(ClaimSet)
}

// Add folds one claim record into the set. Records with nil or non-positive
// amounts are ignored; the query layer should already have filtered them.
func (c ClaimSet) Add(rec model.ClaimRecord) {
	if rec.Amount == nil || rec.Amount.Sign() <= 0 {
		return
	}
	k := model.Key(rec.User, rec.Market, rec.TokenID)
	total, ok := c[k]
	if !ok {
		total = new(big.Int)
		c[k] = total
	}
	total.Add(total, rec.Amount)
}

// AddAll folds a batch of claim records.
func (c ClaimSet) AddAll(records []model.ClaimRecord) {
	for _, rec := range records {
		c.Add(rec)
	}
}

// Total returns the accumulated redeemed quantity for a key. Never nil; keys
// with no claims yield zero. The returned value must not be mutated.
func (c ClaimSet) Total(user, market string, tokenID int64) *big.Int {
	if total, ok := c[model.Key(user, market, tokenID)]; ok {
		return total
	}
	return big.NewInt(0)
}
