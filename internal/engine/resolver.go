package engine

import (
	"log/slog"

	"github.com/oddsight/pnl-engine/internal/model"
)

// Catalog indexes the market/outcome-token catalog for O(1) lookups during
// resolution and valuation: per-market answer bitmask plus the latest
// price/payout snapshot per (market, token).
type Catalog struct {
	answers map[string]*int64
	stats   map[string]model.MarketOutcome
}

// NewCatalog builds a catalog from deduplicated catalog rows (latest snapshot
// per (market, token), as the query layer guarantees).
func NewCatalog(rows []model.MarketOutcome) *Catalog {
	c := &Catalog{
		answers: make(map[string]*int64),
		stats:   make(map[string]model.MarketOutcome),
	}
	for _, row := range rows {
		market := model.NormalizeAddress(row.Market)
		// Resolution is monotonic: once any row carries an answer, keep it.
		if row.Answer != nil || c.answers[market] == nil {
			c.answers[market] = row.Answer
		}
		c.stats[model.Key("", row.Market, row.TokenID)] = row
	}
	return c
}

// Answer returns the market's answer bitmask and whether it is resolved.
func (c *Catalog) Answer(market string) (int64, bool) {
	a := c.answers[model.NormalizeAddress(market)]
	if a == nil {
		return 0, false
	}
	return *a, true
}

// Stat returns the latest snapshot for a (market, token), if known.
func (c *Catalog) Stat(market string, tokenID int64) (model.MarketOutcome, bool) {
	stat, ok := c.stats[model.Key("", market, tokenID)]
	return stat, ok
}

// Resolver extracts the latest position per distinct (user, market, token)
// from the deduplicated ledger stream. The query layer orders rows so the
// first row seen per group is the most recent; once a group's representative
// has been chosen it is never revisited, regardless of how the stream was
// paginated.
type Resolver struct {
	catalog   *Catalog
	seen      map[string]struct{}
	positions []model.Position
}

// NewResolver creates a resolver against the given catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{
		catalog: catalog,
		seen:    make(map[string]struct{}),
	}
}

// Consume folds one page of ledger rows. A second row for an already-chosen
// group means the upstream distinct/ordering guarantee was violated; the row
// is dropped and logged rather than silently overwriting the latest state.
func (r *Resolver) Consume(entries []model.LedgerEntry) {
	for _, e := range entries {
		k := model.Key(e.User, e.Market, e.TokenID)
		if _, dup := r.seen[k]; dup {
			slog.Warn("duplicate group row from query layer, keeping first",
				"user", e.User, "market", e.Market, "token_id", e.TokenID,
				"timestamp", e.Timestamp)
			continue
		}
		r.seen[k] = struct{}{}

		p := model.Position{
			User:        model.NormalizeAddress(e.User),
			Market:      model.NormalizeAddress(e.Market),
			TokenID:     e.TokenID,
			Quantity:    e.Quantity,
			LastDelta:   e.DeltaQuantity,
			RealizedPnL: e.RealizedPnL,
			Timestamp:   e.Timestamp,
		}
		if answer, resolved := r.catalog.Answer(e.Market); resolved {
			p.Resolved = true
			p.Answer = answer
			p.Winning = model.Wins(e.TokenID, answer)
		}
		if stat, ok := r.catalog.Stat(e.Market, e.TokenID); ok {
			p.Price = stat.Price
			p.Payout = stat.Payout
		}
		r.positions = append(r.positions, p)
	}
}

// Positions returns the resolved latest positions in first-seen order.
func (r *Resolver) Positions() []model.Position {
	return r.positions
}
