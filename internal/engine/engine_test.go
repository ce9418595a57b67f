package engine_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/oddsight/pnl-engine/internal/engine"
	"github.com/oddsight/pnl-engine/internal/model"
	"github.com/oddsight/pnl-engine/internal/source"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// raw converts whole tokens to raw 18-decimal units.
func raw(units int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(units), scale)
}

func answer(mask int64) *int64 { return &mask }

const (
	alice  = "0xaaa1"
	bob    = "0xbbb2"
	mktWx  = "0xm001"
	mktEl  = "0xm002"
)

func trade(user, market string, token int64, qty float64, deltaUnits int64, pnl float64, ts int64) model.LedgerEntry {
	return model.LedgerEntry{
		User:            user,
		Market:          market,
		TokenID:         token,
		DeltaQuantity:   raw(deltaUnits),
		DeltaCollateral: d(float64(deltaUnits) * 0.5),
		Quantity:        d(qty),
		RealizedPnL:     d(pnl),
		Type:            model.EventTrade,
		Timestamp:       ts,
	}
}

func newEngine(src source.Source, balances *stubBalances, pageSize int) *engine.Engine {
	var reader *stubBalances
	if balances != nil {
		reader = balances
	}
	cfg := engine.Config{PageSize: pageSize}
	if reader == nil {
		return engine.New(src, nil, cfg)
	}
	return engine.New(src, reader, cfg)
}

// stubBalances is a canned chain.BalanceReader.
type stubBalances struct {
	raw *big.Int
	err error
}

func (s *stubBalances) Balance(context.Context, string) (*big.Int, error) {
	return s.raw, s.err
}

func TestWalletPositions_UnresolvedMarkToMarket(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(trade(alice, mktWx, 1, 10, 10, 0, 100))
	src.AddOutcomes(model.MarketOutcome{Market: mktWx, TokenID: 1, Price: d(0.40), Timestamp: 100})

	positions, err := newEngine(src, nil, 1000).WalletPositions(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	p := positions[0]
	if p.Resolved {
		t.Error("position should be unresolved")
	}
	if !p.Value.Equal(d(4.00)) {
		t.Errorf("expected value 4.00 (10 × 0.40), got %s", p.Value)
	}
}

func TestWalletPositions_ZeroQuantityValueIsZero(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(trade(alice, mktWx, 1, 0, -10, 2.5, 100))
	src.AddOutcomes(model.MarketOutcome{Market: mktWx, TokenID: 1, Price: d(0.40), Timestamp: 100})

	eng := newEngine(src, nil, 1000)

	// Filtered out of the positions view...
	positions, err := eng.WalletPositions(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("zero-quantity position should be filtered from positions view, got %d", len(positions))
	}

	// ...but still contributes its realized PnL to the portfolio.
	report, err := eng.WalletPortfolio(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.PositionsValue.IsZero() {
		t.Errorf("expected zero positions value, got %s", report.PositionsValue)
	}
	if !report.RealizedPnL.Equal(d(2.5)) {
		t.Errorf("expected realized pnl 2.5, got %s", report.RealizedPnL)
	}
}

func TestWalletPositions_ResolvedWinningNoClaims(t *testing.T) {
	src := source.NewMemorySource()
	// Position wound down at resolution: delta −100 whole tokens.
	src.AddLedger(trade(alice, mktWx, 0b01, 100, -100, 0, 200))
	src.AddOutcomes(model.MarketOutcome{
		Market: mktWx, TokenID: 0b01, Answer: answer(0b01),
		Price: d(1.0), Payout: d(1.0), Timestamp: 250,
	})

	positions, err := newEngine(src, nil, 1000).WalletPositions(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	p := positions[0]
	if !p.Resolved || !p.Winning {
		t.Fatalf("expected resolved winning position, got resolved=%v winning=%v", p.Resolved, p.Winning)
	}
	if !p.Value.Equal(d(100.0)) {
		t.Errorf("expected remaining value 100.0, got %s", p.Value)
	}
}

func TestWalletPositions_ResolvedWinningPartiallyClaimed(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(trade(alice, mktWx, 0b01, 100, -100, 0, 200))
	src.AddClaims(model.ClaimRecord{User: alice, Market: mktWx, TokenID: 0b01, Amount: raw(40), Timestamp: 300})
	src.AddOutcomes(model.MarketOutcome{
		Market: mktWx, TokenID: 0b01, Answer: answer(0b01),
		Price: d(1.0), Payout: d(1.0), Timestamp: 250,
	})

	positions, err := newEngine(src, nil, 1000).WalletPositions(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !positions[0].Value.Equal(d(60.0)) {
		t.Errorf("expected remaining value 60.0 after 40 claimed, got %s", positions[0].Value)
	}
}

func TestWalletPositions_FullyClaimedAndOverClaimedClampToZero(t *testing.T) {
	tests := []struct {
		name    string
		claimed int64
	}{
		{"fully claimed", 100},
		{"over-claimed clamps", 140},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := source.NewMemorySource()
			src.AddLedger(trade(alice, mktWx, 0b01, 100, -100, 0, 200))
			src.AddClaims(model.ClaimRecord{User: alice, Market: mktWx, TokenID: 0b01, Amount: raw(tt.claimed), Timestamp: 300})
			src.AddOutcomes(model.MarketOutcome{
				Market: mktWx, TokenID: 0b01, Answer: answer(0b01),
				Price: d(1.0), Payout: d(1.0), Timestamp: 250,
			})

			positions, err := newEngine(src, nil, 1000).WalletPositions(context.Background(), alice)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !positions[0].Value.IsZero() {
				t.Errorf("expected zero value, got %s", positions[0].Value)
			}
		})
	}
}

func TestWalletPositions_ResolvedLosingIsWorthless(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(trade(alice, mktWx, 0b01, 50, 50, 0, 200))
	src.AddOutcomes(model.MarketOutcome{
		Market: mktWx, TokenID: 0b01, Answer: answer(0b10),
		Price: d(0.7), Payout: d(1.0), Timestamp: 250,
	})

	positions, err := newEngine(src, nil, 1000).WalletPositions(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := positions[0]
	if !p.Resolved || p.Winning {
		t.Fatalf("expected resolved losing position, got resolved=%v winning=%v", p.Resolved, p.Winning)
	}
	if !p.Value.IsZero() {
		t.Errorf("losing token must be worthless regardless of quantity, got %s", p.Value)
	}
}

func TestWalletPositions_MissingSnapshotValuesZero(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(trade(alice, mktWx, 1, 10, 10, 0, 100))
	// No catalog row at all: unresolved, no price snapshot.

	positions, err := newEngine(src, nil, 1000).WalletPositions(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !positions[0].Value.IsZero() {
		t.Errorf("missing price snapshot should value to zero, got %s", positions[0].Value)
	}
}

func TestLatestPosition_MaxTimestampAcrossPages(t *testing.T) {
	// Three entries for one group across page boundaries; page size 2 puts
	// T3, T2 on page one and T1 on page two. T3 must win and T2/T1 must
	// never displace it.
	src := source.NewMemorySource()
	src.AddLedger(
		trade(alice, mktWx, 1, 5, -2, 1.0, 300), // T3, authoritative
		trade(alice, mktWx, 1, 7, 3, 0.5, 200),  // T2
		trade(alice, mktWx, 1, 4, 4, 0.0, 100),  // T1
	)
	src.AddOutcomes(model.MarketOutcome{Market: mktWx, TokenID: 1, Price: d(0.5), Timestamp: 300})

	for _, pageSize := range []int{1, 2, 3, 1000} {
		positions, err := newEngine(src, nil, pageSize).WalletPositions(context.Background(), alice)
		if err != nil {
			t.Fatalf("page size %d: unexpected error: %v", pageSize, err)
		}
		if len(positions) != 1 {
			t.Fatalf("page size %d: expected exactly 1 position, got %d", pageSize, len(positions))
		}
		if !positions[0].Quantity.Equal(d(5)) {
			t.Errorf("page size %d: expected latest quantity 5, got %s", pageSize, positions[0].Quantity)
		}
		if !positions[0].RealizedPnL.Equal(d(1.0)) {
			t.Errorf("page size %d: expected latest pnl 1.0, got %s", pageSize, positions[0].RealizedPnL)
		}
	}
}

func TestWalletPortfolio_CashContribution(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(trade(alice, mktWx, 1, 10, 10, 0, 100))
	src.AddOutcomes(model.MarketOutcome{Market: mktWx, TokenID: 1, Price: d(0.40), Timestamp: 100})

	// 25.5 units of 6-decimal settlement currency.
	balances := &stubBalances{raw: big.NewInt(25_500_000)}
	report, err := newEngine(src, balances, 1000).WalletPortfolio(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Cash.Equal(d(25.5)) {
		t.Errorf("expected cash 25.5, got %s", report.Cash)
	}
	if !report.Total.Equal(d(29.5)) {
		t.Errorf("expected total 29.5 (25.5 cash + 4.0 positions), got %s", report.Total)
	}
}

func TestWalletPortfolio_BalanceFailureDegradesToZero(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(trade(alice, mktWx, 1, 10, 10, 0, 100))
	src.AddOutcomes(model.MarketOutcome{Market: mktWx, TokenID: 1, Price: d(0.40), Timestamp: 100})

	balances := &stubBalances{err: errors.New("rpc unreachable")}
	report, err := newEngine(src, balances, 1000).WalletPortfolio(context.Background(), alice)
	if err != nil {
		t.Fatalf("balance failure must not abort the portfolio: %v", err)
	}
	if !report.Cash.IsZero() {
		t.Errorf("expected zero cash contribution, got %s", report.Cash)
	}
	if !report.PositionsValue.Equal(d(4.0)) {
		t.Errorf("positions value should be unaffected, got %s", report.PositionsValue)
	}
}

func TestLeaderboard_UserTotalEqualsMarketSubTotals(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(
		trade(alice, mktWx, 1, 10, 10, 1.5, 100),
		trade(alice, mktWx, 2, 3, 3, -0.5, 110),
		trade(alice, mktEl, 1, 8, 8, 2.0, 120),
		trade(bob, mktEl, 2, 6, 6, 0.25, 130),
		trade(bob, mktEl, 2, 9, 3, 0.75, 140), // later snapshot for same group
	)
	src.AddOutcomes(
		model.MarketOutcome{Market: mktWx, TokenID: 1, Price: d(0.4), Timestamp: 100},
		model.MarketOutcome{Market: mktWx, TokenID: 2, Price: d(0.6), Timestamp: 100},
		model.MarketOutcome{Market: mktEl, TokenID: 1, Price: d(0.3), Timestamp: 100},
		model.MarketOutcome{Market: mktEl, TokenID: 2, Price: d(0.7), Timestamp: 100},
	)

	eng := newEngine(src, nil, 2)
	for _, kind := range []engine.Kind{engine.KindVolume, engine.KindPnL, engine.KindPortfolio} {
		board, err := eng.Leaderboard(context.Background(), kind, engine.DepthMarket)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		for user, ua := range board.Users {
			sum := decimal.Zero
			for _, ma := range ua.Markets {
				sum = sum.Add(ma.Total)
			}
			if !sum.Equal(ua.Total) {
				t.Errorf("%s: user %s total %s != market sub-total sum %s", kind, user, ua.Total, sum)
			}
		}
	}
}

func TestLeaderboard_PnLUsesLatestSnapshotOnly(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(
		trade(bob, mktEl, 2, 6, 6, 0.25, 130),
		trade(bob, mktEl, 2, 9, 3, 0.75, 140),
	)
	src.AddOutcomes(model.MarketOutcome{Market: mktEl, TokenID: 2, Price: d(0.7), Timestamp: 100})

	board, err := newEngine(src, nil, 1000).Leaderboard(context.Background(), engine.KindPnL, engine.DepthToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ua := board.Users[bob]
	if ua == nil {
		t.Fatal("expected entry for bob")
	}
	// Latest snapshot 0.75, not 0.25+0.75.
	if !ua.Total.Equal(d(0.75)) {
		t.Errorf("expected pnl 0.75 from latest snapshot, got %s", ua.Total)
	}
	if got := ua.Markets[mktEl].Tokens[2]; !got.Equal(d(0.75)) {
		t.Errorf("expected token leaf 0.75, got %s", got)
	}
}

func TestLeaderboard_VolumeAccumulatesEveryRow(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(
		trade(bob, mktEl, 2, 6, 6, 0, 130),
		trade(bob, mktEl, 2, 2, -4, 0, 140), // sell still adds |−4| volume
	)
	finalize := trade(bob, mktEl, 2, 2, -2, 0, 150)
	finalize.Type = model.EventFinalize
	src.AddLedger(finalize)
	src.AddOutcomes(model.MarketOutcome{Market: mktEl, TokenID: 2, Price: d(0.7), Timestamp: 100})

	board, err := newEngine(src, nil, 1000).Leaderboard(context.Background(), engine.KindVolume, engine.DepthToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := board.Users[bob].Markets[mktEl].Tokens[2]
	if !got.Equal(d(10)) {
		t.Errorf("expected volume 10 (|6| + |−4|, finalize excluded), got %s", got)
	}
}

func TestLeaderboard_Idempotent(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(
		trade(alice, mktWx, 1, 10, 10, 1.5, 100),
		trade(bob, mktEl, 2, 6, 6, 0.25, 130),
	)
	src.AddClaims(model.ClaimRecord{User: alice, Market: mktWx, TokenID: 1, Amount: raw(2), Timestamp: 200})
	src.AddOutcomes(
		model.MarketOutcome{Market: mktWx, TokenID: 1, Answer: answer(1), Price: d(1), Payout: d(1), Timestamp: 100},
		model.MarketOutcome{Market: mktEl, TokenID: 2, Price: d(0.7), Timestamp: 100},
	)

	eng := newEngine(src, nil, 1)
	for _, kind := range []engine.Kind{engine.KindVolume, engine.KindPnL, engine.KindPortfolio} {
		first, err := eng.Leaderboard(context.Background(), kind, engine.DepthToken)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		second, err := eng.Leaderboard(context.Background(), kind, engine.DepthToken)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		for user, ua := range first.Users {
			ub := second.Users[user]
			if ub == nil || !ua.Total.Equal(ub.Total) {
				t.Errorf("%s: recompute changed user %s", kind, user)
			}
		}
		if len(first.Users) != len(second.Users) {
			t.Errorf("%s: recompute changed user count", kind)
		}
	}
}

func TestLeaderboard_UnknownKind(t *testing.T) {
	_, err := newEngine(source.NewMemorySource(), nil, 1000).
		Leaderboard(context.Background(), engine.Kind("elo"), engine.DepthUser)
	if !errors.Is(err, engine.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestMarketMetrics_TurnoverSupplyAndPayoff(t *testing.T) {
	src := source.NewMemorySource()
	// Two users in one unresolved market: collateral deltas +5, −3 → turnover 8.
	e1 := trade(alice, mktWx, 1, 10, 10, 0, 100)
	e1.DeltaCollateral = d(5)
	e2 := trade(bob, mktWx, 1, 6, 6, 0, 110)
	e2.DeltaCollateral = d(-3)
	fin := trade(bob, mktWx, 1, 6, 0, 0, 120)
	fin.Type = model.EventFinalize
	fin.DeltaCollateral = d(99) // must be excluded
	src.AddLedger(e1, e2, fin)
	src.AddOutcomes(model.MarketOutcome{Market: mktWx, TokenID: 1, Price: d(0.5), Timestamp: 100})

	metrics, err := newEngine(src, nil, 1000).MarketMetrics(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(metrics) != 1 {
		t.Fatalf("expected 1 market, got %d", len(metrics))
	}
	m := metrics[0]
	if !m.Liquidity.Equal(d(8)) {
		t.Errorf("expected turnover liquidity 8, got %s", m.Liquidity)
	}
	tm := m.Tokens[1]
	if !tm.Supply.Equal(d(16)) {
		t.Errorf("expected supply 16 (10 + 6 latest holdings), got %s", tm.Supply)
	}
	// payoff = (8 / 16) / 0.5 = 1.0
	if !tm.Payoff.Equal(d(1)) {
		t.Errorf("expected payoff 1.0, got %s", tm.Payoff)
	}
}

func TestMarketMetrics_SkipsResolvedMarketsAndZeroSupply(t *testing.T) {
	src := source.NewMemorySource()
	src.AddLedger(trade(alice, mktWx, 1, 0, 0, 0, 100))
	src.AddOutcomes(
		model.MarketOutcome{Market: mktWx, TokenID: 1, Price: d(0.5), Timestamp: 100},
		model.MarketOutcome{Market: mktEl, TokenID: 1, Answer: answer(1), Price: d(1), Payout: d(1), Timestamp: 100},
	)

	metrics, err := newEngine(src, nil, 1000).MarketMetrics(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Market != mktWx {
		t.Fatalf("expected only the unresolved market, got %+v", metrics)
	}
	if !metrics[0].Tokens[1].Payoff.IsZero() {
		t.Errorf("zero supply must yield zero payoff, got %s", metrics[0].Tokens[1].Payoff)
	}
}
