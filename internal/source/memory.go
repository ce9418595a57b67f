package source

import (
	"context"
	"sort"
	"sync"

	"github.com/oddsight/pnl-engine/internal/model"
)

// MemorySource implements Source over in-memory slices. Used for testing and
// development. It reproduces the ordering and dedup guarantees the production
// query service provides, so engine tests exercise the same contracts.
type MemorySource struct {
	mu       sync.RWMutex
	ledger   []model.LedgerEntry
	claims   []model.ClaimRecord
	outcomes []model.MarketOutcome
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// AddLedger appends ledger entries.
func (s *MemorySource) AddLedger(entries ...model.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, entries...)
}

// AddClaims appends claim records.
func (s *MemorySource) AddClaims(records ...model.ClaimRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, records...)
}

// AddOutcomes appends catalog rows.
func (s *MemorySource) AddOutcomes(rows ...model.MarketOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, rows...)
}

func (s *MemorySource) LatestPositions(_ context.Context, f LedgerFilter, offset, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.LedgerEntry
	for _, e := range s.ledger {
		if f.User != "" && model.NormalizeAddress(e.User) != model.NormalizeAddress(f.User) {
			continue
		}
		if f.Market != "" && model.NormalizeAddress(e.Market) != model.NormalizeAddress(f.Market) {
			continue
		}
		if f.TokenID != nil && e.TokenID != *f.TokenID {
			continue
		}
		matched = append(matched, e)
	}

	// (user asc, market asc, token asc, timestamp desc) is the ordering the
	// production query service guarantees for distinct-latest extraction.
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.User != b.User {
			return a.User < b.User
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		if a.TokenID != b.TokenID {
			return a.TokenID < b.TokenID
		}
		return a.Timestamp > b.Timestamp
	})

	var distinct []model.LedgerEntry
	seen := make(map[string]bool)
	for _, e := range matched {
		k := model.Key(e.User, e.Market, e.TokenID)
		if seen[k] {
			continue
		}
		seen[k] = true
		distinct = append(distinct, e)
	}

	return slicePage(distinct, offset, limit), nil
}

func (s *MemorySource) Events(_ context.Context, f EventFilter, offset, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.LedgerEntry
	for _, e := range s.ledger {
		if f.User != "" && model.NormalizeAddress(e.User) != model.NormalizeAddress(f.User) {
			continue
		}
		if f.Market != "" && model.NormalizeAddress(e.Market) != model.NormalizeAddress(f.Market) {
			continue
		}
		if f.ExcludeFinalize && e.Type == model.EventFinalize {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp < matched[j].Timestamp
	})

	return slicePage(matched, offset, limit), nil
}

func (s *MemorySource) Claims(_ context.Context, user string, offset, limit int) ([]model.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.ClaimRecord
	for _, c := range s.claims {
		if c.Amount == nil || c.Amount.Sign() <= 0 {
			continue
		}
		if user != "" && model.NormalizeAddress(c.User) != model.NormalizeAddress(user) {
			continue
		}
		matched = append(matched, c)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp < matched[j].Timestamp
	})

	return slicePage(matched, offset, limit), nil
}

func (s *MemorySource) Outcomes(_ context.Context, f OutcomeFilter, offset, limit int) ([]model.MarketOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.MarketOutcome
	for _, o := range s.outcomes {
		if f.Market != "" && model.NormalizeAddress(o.Market) != model.NormalizeAddress(f.Market) {
			continue
		}
		if f.OnlyUnresolved && o.Resolved() {
			continue
		}
		matched = append(matched, o)
	}

	// Latest snapshot per (market, token).
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		if a.TokenID != b.TokenID {
			return a.TokenID < b.TokenID
		}
		return a.Timestamp > b.Timestamp
	})

	var distinct []model.MarketOutcome
	seen := make(map[string]bool)
	for _, o := range matched {
		k := model.Key("", o.Market, o.TokenID)
		if seen[k] {
			continue
		}
		seen[k] = true
		distinct = append(distinct, o)
	}

	return slicePage(distinct, offset, limit), nil
}

func slicePage[T any](rows []T, offset, limit int) []T {
	if offset >= len(rows) {
		return nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	out := make([]T, end-offset)
	copy(out, rows[offset:end])
	return out
}
