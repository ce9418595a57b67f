package engine

import (
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/oddsight/pnl-engine/internal/model"
)

// Valuator computes the current value of a latest position.
//
// Unresolved markets are marked to market: latest marginal price × held
// quantity, both already in human units. Resolved markets pay out only on
// tokens whose bitmask intersects the answer; the remaining entitlement is
// computed in the exact raw-integer domain (gross − claimed) and converted to
// human units only at the very end.
type Valuator struct {
	claims        ClaimSet
	positionScale int32 // decimal places of the position token, typically 18
}

// NewValuator creates a valuator over the given reconciled claims.
func NewValuator(claims ClaimSet, positionScale int32) *Valuator {
	return &Valuator{claims: claims, positionScale: positionScale}
}

// Value fills in p.Value.
func (v *Valuator) Value(p *model.Position) {
	if !p.Resolved {
		p.Value = p.Price.Mul(p.Quantity)
		return
	}
	if !p.Winning {
		p.Value = decimal.Zero
		return
	}

	// The ledger winds a position down with a negative delta at resolution,
	// so the gross entitlement is the negation of the most recent delta.
	gross := new(big.Int).Neg(p.LastDelta)
	remaining := gross.Sub(gross, v.claims.Total(p.User, p.Market, p.TokenID))

	if remaining.Sign() <= 0 {
		if remaining.Sign() < 0 {
			// Claims exceeding the entitlement indicate timing skew between
			// the ledger and claims tables, not a caller error. Clamp.
			slog.Warn("negative remaining entitlement, clamping to zero",
				"user", p.User, "market", p.Market, "token_id", p.TokenID,
				"remaining", remaining.String())
		}
		p.Value = decimal.Zero
		return
	}

	p.Value = p.Payout.Mul(decimal.NewFromBigInt(remaining, -v.positionScale))
}

// ValueAll values every position in place.
func (v *Valuator) ValueAll(positions []model.Position) {
	for i := range positions {
		v.Value(&positions[i])
	}
}
