package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/oddsight/pnl-engine/internal/model"
	"github.com/oddsight/pnl-engine/internal/pager"
	"github.com/oddsight/pnl-engine/internal/source"
)

// Market liquidity mode: turnover. Liquidity is the sum of ABSOLUTE collateral
// deltas over non-finalize events, so it is always non-negative and measures
// total capital that moved through the market. The alternative signed-sum
// convention (net capital inflow) is intentionally not used anywhere in this
// builder; mixing the two silently produces meaningless ratios.

// MarketMetrics computes liquidity, per-token outstanding supply, and payoff
// ratios for every unresolved market. Markets are processed concurrently,
// bounded by the configured concurrency limit; pages within one market stay
// strictly sequential. Each market builds its own local maps, so no locking
// is needed beyond the result slots.
func (e *Engine) MarketMetrics(ctx context.Context) ([]model.MarketMetrics, error) {
	rows, err := pager.Collect(ctx, e.cfg.PageSize, func(ctx context.Context, offset, limit int) ([]model.MarketOutcome, error) {
		return e.src.Outcomes(ctx, source.OutcomeFilter{OnlyUnresolved: true}, offset, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("market metrics: catalog: %w", err)
	}

	// Group catalog rows per market, markets sorted for deterministic output.
	tokensByMarket := make(map[string][]model.MarketOutcome)
	for _, row := range rows {
		market := model.NormalizeAddress(row.Market)
		tokensByMarket[market] = append(tokensByMarket[market], row)
	}
	markets := make([]string, 0, len(tokensByMarket))
	for market := range tokensByMarket {
		markets = append(markets, market)
	}
	sort.Strings(markets)

	results := make([]model.MarketMetrics, len(markets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, market := range markets {
		i, market := i, market
		g.Go(func() error {
			metrics, err := e.buildMarketMetrics(gctx, market, tokensByMarket[market])
			if err != nil {
				return err
			}
			results[i] = *metrics
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("market metrics: %w", err)
	}
	return results, nil
}

// buildMarketMetrics computes one market's report.
func (e *Engine) buildMarketMetrics(ctx context.Context, market string, tokens []model.MarketOutcome) (*model.MarketMetrics, error) {
	liquidity, err := e.marketLiquidity(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", market, err)
	}
	supply, err := e.outstandingSupply(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", market, err)
	}

	metrics := &model.MarketMetrics{
		Market:    market,
		Liquidity: liquidity,
		Tokens:    make(map[int64]model.TokenMetrics, len(tokens)),
	}
	for _, token := range tokens {
		tm := model.TokenMetrics{
			Supply: supply[token.TokenID],
			Price:  token.Price,
		}
		// Fair-value deviation estimate, defined only when both supply and
		// price are positive.
		if tm.Supply.IsPositive() && tm.Price.IsPositive() {
			tm.Payoff = liquidity.Div(tm.Supply).Div(tm.Price)
		}
		metrics.Tokens[token.TokenID] = tm
	}
	return metrics, nil
}

// marketLiquidity sums absolute collateral deltas over the market's
// non-finalize ledger events (turnover mode).
func (e *Engine) marketLiquidity(ctx context.Context, market string) (decimal.Decimal, error) {
	liquidity := decimal.Zero
	fetch := func(ctx context.Context, offset, limit int) ([]model.LedgerEntry, error) {
		return e.src.Events(ctx, source.EventFilter{Market: market, ExcludeFinalize: true}, offset, limit)
	}
	err := pager.Each(ctx, e.cfg.PageSize, fetch, func(page []model.LedgerEntry) error {
		for _, entry := range page {
			liquidity = liquidity.Add(entry.DeltaCollateral.Abs())
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("liquidity: %w", err)
	}
	return liquidity, nil
}

// outstandingSupply sums, per outcome token, the latest held quantity across
// every user of the market.
func (e *Engine) outstandingSupply(ctx context.Context, market string) (map[int64]decimal.Decimal, error) {
	supply := make(map[int64]decimal.Decimal)
	fetch := func(ctx context.Context, offset, limit int) ([]model.LedgerEntry, error) {
		return e.src.LatestPositions(ctx, source.LedgerFilter{Market: market}, offset, limit)
	}
	err := pager.Each(ctx, e.cfg.PageSize, fetch, func(page []model.LedgerEntry) error {
		for _, entry := range page {
			supply[entry.TokenID] = supply[entry.TokenID].Add(entry.Quantity)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("supply: %w", err)
	}
	return supply, nil
}
