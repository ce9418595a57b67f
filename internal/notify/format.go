package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/oddsight/pnl-engine/internal/model"
)

// FormatResolution renders a market-resolved announcement.
func FormatResolution(market string, answer int64) string {
	return fmt.Sprintf("Market %s resolved, winning outcome mask %b", market, answer)
}

// FormatClaim renders a claim announcement; the raw amount is converted to
// human units with the position-token scale.
func FormatClaim(rec model.ClaimRecord, positionScale int32) string {
	amount := decimal.NewFromBigInt(rec.Amount, -positionScale)
	return fmt.Sprintf("%s claimed %s from market %s (token %d)",
		model.NormalizeAddress(rec.User), amount, model.NormalizeAddress(rec.Market), rec.TokenID)
}
