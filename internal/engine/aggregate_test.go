package engine_test

import (
	"testing"

	"github.com/oddsight/pnl-engine/internal/engine"
)

func TestBoard_AddAccumulatesAtEveryLevel(t *testing.T) {
	b := engine.NewBoard(engine.DepthToken)
	b.Add("u1", "m1", 1, d(3))
	b.Add("u1", "m1", 1, d(4))
	b.Add("u1", "m2", 1, d(1))

	ua := b.Users["u1"]
	if !ua.Total.Equal(d(8)) {
		t.Errorf("user total: expected 8, got %s", ua.Total)
	}
	if got := ua.Markets["m1"].Total; !got.Equal(d(7)) {
		t.Errorf("market total: expected 7, got %s", got)
	}
	if got := ua.Markets["m1"].Tokens[1]; !got.Equal(d(7)) {
		t.Errorf("token leaf should accumulate to 7, got %s", got)
	}
}

func TestBoard_PutOverwritesLeafButSumsTotals(t *testing.T) {
	// The overwrite-vs-accumulate split at the leaf is intentional: Put is
	// for values that are already per-(user,market,token) snapshots.
	b := engine.NewBoard(engine.DepthToken)
	b.Put("u1", "m1", 1, d(3))
	b.Put("u1", "m1", 1, d(4))

	ua := b.Users["u1"]
	if got := ua.Markets["m1"].Tokens[1]; !got.Equal(d(4)) {
		t.Errorf("token leaf should hold last value 4, got %s", got)
	}
	if !ua.Total.Equal(d(7)) {
		t.Errorf("totals still sum: expected 7, got %s", ua.Total)
	}
}

func TestBoard_DepthLimitsMaterialization(t *testing.T) {
	tests := []struct {
		depth       engine.Depth
		wantMarkets bool
		wantTokens  bool
	}{
		{engine.DepthUser, false, false},
		{engine.DepthMarket, true, false},
		{engine.DepthToken, true, true},
	}
	for _, tt := range tests {
		b := engine.NewBoard(tt.depth)
		b.Add("u1", "m1", 1, d(2))

		ua := b.Users["u1"]
		if !ua.Total.Equal(d(2)) {
			t.Errorf("depth %d: user total expected 2, got %s", tt.depth, ua.Total)
		}
		if got := ua.Markets != nil; got != tt.wantMarkets {
			t.Errorf("depth %d: markets materialized=%v, want %v", tt.depth, got, tt.wantMarkets)
		}
		if tt.wantMarkets {
			if got := ua.Markets["m1"].Tokens != nil; got != tt.wantTokens {
				t.Errorf("depth %d: tokens materialized=%v, want %v", tt.depth, got, tt.wantTokens)
			}
		}
	}
}

func TestNewBoard_ClampsDepth(t *testing.T) {
	if b := engine.NewBoard(0); b.Depth != engine.DepthUser {
		t.Errorf("expected clamp to depth 1, got %d", b.Depth)
	}
	if b := engine.NewBoard(9); b.Depth != engine.DepthToken {
		t.Errorf("expected clamp to depth 3, got %d", b.Depth)
	}
}
