// Package engine derives per-user financial state (holdings, realized PnL,
// portfolio value, trading volume) from the append-only trade/claim
// ledger exposed by the query source.
//
// Every public operation is a stateless full re-scan of the ledger for the
// requested scope: it either returns a fully-formed result or fails with the
// first transport error encountered. Nothing is persisted between calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/oddsight/pnl-engine/internal/chain"
	"github.com/oddsight/pnl-engine/internal/metrics"
	"github.com/oddsight/pnl-engine/internal/model"
	"github.com/oddsight/pnl-engine/internal/pager"
	"github.com/oddsight/pnl-engine/internal/source"
)

// Config tunes fetch/fold batching and unit scales. Page size is a
// performance knob only; results are identical for any positive value.
type Config struct {
	PageSize           int   // rows per page, default 1000
	PositionDecimals   int32 // raw position-token scale, default 18
	CollateralDecimals int32 // raw settlement-currency scale, default 6
	Concurrency        int   // parallel per-market fetch loops, default 8
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.PositionDecimals == 0 {
		c.PositionDecimals = 18
	}
	if c.CollateralDecimals == 0 {
		c.CollateralDecimals = 6
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	return c
}

// Engine is the aggregation core. Dependencies are constructor-injected and
// caller-owned: the source and balance reader are created once at process
// start and reused for every operation.
type Engine struct {
	src      source.Source
	balances chain.BalanceReader // optional; nil disables cash contributions
	cfg      Config
}

// New creates an engine. Pass nil for balances if no chain reader is
// configured; portfolios then carry a zero cash contribution.
func New(src source.Source, balances chain.BalanceReader, cfg Config) *Engine {
	return &Engine{src: src, balances: balances, cfg: cfg.withDefaults()}
}

// PortfolioReport is the single-wallet portfolio result.
type PortfolioReport struct {
	User           string          `json:"user"`
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	Total          decimal.Decimal `json:"total"` // cash + positions value
}

// WalletPortfolio computes the current portfolio value of one wallet: the
// valued sum of its latest positions plus its settlement-currency cash
// balance. A failed balance read degrades to a zero cash contribution with a
// warning instead of aborting the whole computation.
func (e *Engine) WalletPortfolio(ctx context.Context, addr string) (*PortfolioReport, error) {
	positions, err := e.walletPositions(ctx, addr)
	if err != nil {
		return nil, err
	}

	report := &PortfolioReport{User: model.NormalizeAddress(addr)}
	for _, p := range positions {
		report.PositionsValue = report.PositionsValue.Add(p.Value)
		report.RealizedPnL = report.RealizedPnL.Add(p.RealizedPnL)
	}
	report.Cash = e.cashBalance(ctx, addr)
	report.Total = report.Cash.Add(report.PositionsValue)
	return report, nil
}

// WalletPositions returns the wallet's non-zero-quantity positions as
// individual valued records, for detail display rather than ranking.
func (e *Engine) WalletPositions(ctx context.Context, addr string) ([]model.Position, error) {
	positions, err := e.walletPositions(ctx, addr)
	if err != nil {
		return nil, err
	}

	held := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		if p.Quantity.IsZero() {
			continue
		}
		held = append(held, p)
	}
	return held, nil
}

// walletPositions resolves and values every latest position of one wallet.
func (e *Engine) walletPositions(ctx context.Context, addr string) ([]model.Position, error) {
	catalog, err := e.loadCatalog(ctx, source.OutcomeFilter{})
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", addr, err)
	}
	claims, err := e.loadClaims(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", addr, err)
	}
	positions, err := e.latestPositions(ctx, source.LedgerFilter{User: addr}, catalog)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", addr, err)
	}

	NewValuator(claims, e.cfg.PositionDecimals).ValueAll(positions)
	return positions, nil
}

// Kind selects which scalar a leaderboard folds.
type Kind string

const (
	// KindVolume ranks by traded quantity; token leaves accumulate across
	// every ledger row that feeds them.
	KindVolume Kind = "volume"
	// KindPnL ranks by realized PnL; token leaves hold the latest snapshot.
	KindPnL Kind = "pnl"
	// KindPortfolio ranks by current position value.
	KindPortfolio Kind = "portfolio"
)

// ErrUnknownKind is returned for leaderboard kinds this engine cannot build.
var ErrUnknownKind = fmt.Errorf("engine: unknown leaderboard kind")

// Leaderboard builds a full-ledger board of the requested kind at the
// requested grouping depth.
func (e *Engine) Leaderboard(ctx context.Context, kind Kind, depth Depth) (*Board, error) {
	switch kind {
	case KindVolume:
		return e.volumeBoard(ctx, depth)
	case KindPnL:
		return e.pnlBoard(ctx, depth)
	case KindPortfolio:
		return e.portfolioBoard(ctx, depth)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// volumeBoard accumulates absolute traded quantity over every non-finalize
// ledger row. Leaf entries accumulate: many rows feed one token.
func (e *Engine) volumeBoard(ctx context.Context, depth Depth) (*Board, error) {
	board := NewBoard(depth)
	fetch := func(ctx context.Context, offset, limit int) ([]model.LedgerEntry, error) {
		return e.src.Events(ctx, source.EventFilter{ExcludeFinalize: true}, offset, limit)
	}
	err := pager.Each(ctx, e.cfg.PageSize, fetch, func(page []model.LedgerEntry) error {
		for _, entry := range page {
			traded := decimal.NewFromBigInt(new(big.Int).Abs(entry.DeltaQuantity), -e.cfg.PositionDecimals)
			board.Add(model.NormalizeAddress(entry.User), model.NormalizeAddress(entry.Market), entry.TokenID, traded)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("volume leaderboard: %w", err)
	}
	return board, nil
}

// pnlBoard folds realized PnL from the latest position per group. Leaf
// entries overwrite: each (user, market, token) is unique after
// distinct-latest extraction.
func (e *Engine) pnlBoard(ctx context.Context, depth Depth) (*Board, error) {
	catalog, err := e.loadCatalog(ctx, source.OutcomeFilter{})
	if err != nil {
		return nil, fmt.Errorf("pnl leaderboard: %w", err)
	}
	positions, err := e.latestPositions(ctx, source.LedgerFilter{}, catalog)
	if err != nil {
		return nil, fmt.Errorf("pnl leaderboard: %w", err)
	}

	board := NewBoard(depth)
	for _, p := range positions {
		board.Put(p.User, p.Market, p.TokenID, p.RealizedPnL)
	}
	return board, nil
}

// portfolioBoard values every user's latest positions against resolution
// state and reconciled claims.
func (e *Engine) portfolioBoard(ctx context.Context, depth Depth) (*Board, error) {
	catalog, err := e.loadCatalog(ctx, source.OutcomeFilter{})
	if err != nil {
		return nil, fmt.Errorf("portfolio leaderboard: %w", err)
	}
	claims, err := e.loadClaims(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("portfolio leaderboard: %w", err)
	}
	positions, err := e.latestPositions(ctx, source.LedgerFilter{}, catalog)
	if err != nil {
		return nil, fmt.Errorf("portfolio leaderboard: %w", err)
	}

	NewValuator(claims, e.cfg.PositionDecimals).ValueAll(positions)

	board := NewBoard(depth)
	for _, p := range positions {
		board.Put(p.User, p.Market, p.TokenID, p.Value)
	}
	return board, nil
}

// --- fetch helpers ---

func (e *Engine) loadCatalog(ctx context.Context, f source.OutcomeFilter) (*Catalog, error) {
	rows, err := pager.Collect(ctx, e.cfg.PageSize, func(ctx context.Context, offset, limit int) ([]model.MarketOutcome, error) {
		return e.src.Outcomes(ctx, f, offset, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return NewCatalog(rows), nil
}

func (e *Engine) loadClaims(ctx context.Context, user string) (ClaimSet, error) {
	claims := NewClaimSet()
	fetch := func(ctx context.Context, offset, limit int) ([]model.ClaimRecord, error) {
		return e.src.Claims(ctx, user, offset, limit)
	}
	err := pager.Each(ctx, e.cfg.PageSize, fetch, func(page []model.ClaimRecord) error {
		claims.AddAll(page)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}
	return claims, nil
}

func (e *Engine) latestPositions(ctx context.Context, f source.LedgerFilter, catalog *Catalog) ([]model.Position, error) {
	resolver := NewResolver(catalog)
	fetch := func(ctx context.Context, offset, limit int) ([]model.LedgerEntry, error) {
		return e.src.LatestPositions(ctx, f, offset, limit)
	}
	err := pager.Each(ctx, e.cfg.PageSize, fetch, func(page []model.LedgerEntry) error {
		resolver.Consume(page)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	return resolver.Positions(), nil
}

// cashBalance reads the wallet's settlement-currency balance, degrading to
// zero on failure. A missing cash contribution is preferable to failing the
// whole portfolio computation.
func (e *Engine) cashBalance(ctx context.Context, addr string) decimal.Decimal {
	if e.balances == nil {
		return decimal.Zero
	}
	raw, err := e.balances.Balance(ctx, addr)
	if err != nil {
		metrics.BalanceReadFailures.Inc()
		slog.Warn("balance read failed, using zero cash", "user", addr, "err", err)
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -e.cfg.CollateralDecimals)
}
