// Package source defines the read interface onto the remote ledger query
// service. Implementations include a GraphQL-over-HTTP client (production
// transport), PostgreSQL against a mirrored index (self-hosted deployments),
// and in-memory (for testing).
//
// The query layer owns "distinct on latest" semantics: LatestPositions must
// return exactly one row per (user, market, token), the most recent, in an
// order that is stable across pages. Consumers never merge rows across pages
// for the same group.
package source

import (
	"context"

	"github.com/oddsight/pnl-engine/internal/model"
)

// LedgerFilter narrows a LatestPositions query. Zero values mean "no filter".
type LedgerFilter struct {
	User    string
	Market  string
	TokenID *int64
}

// EventFilter narrows an Events query over the raw ledger stream.
type EventFilter struct {
	User            string
	Market          string
	ExcludeFinalize bool
}

// OutcomeFilter narrows a catalog query.
type OutcomeFilter struct {
	Market         string
	OnlyUnresolved bool
}

// Source is the paginated read interface onto the ledger query service.
// All methods are offset/limit paginated with deterministic ordering; any
// transport error aborts the caller's whole fetch.
type Source interface {
	// LatestPositions returns one deduplicated row per distinct
	// (user, market, token) triple, the entry with the greatest timestamp.
	LatestPositions(ctx context.Context, f LedgerFilter, offset, limit int) ([]model.LedgerEntry, error)

	// Events returns raw ledger entries, every row, ordered by timestamp
	// then insertion. Used for volume and liquidity sums.
	Events(ctx context.Context, f EventFilter, offset, limit int) ([]model.LedgerEntry, error)

	// Claims returns claim records with amount > 0, optionally filtered by
	// user address.
	Claims(ctx context.Context, user string, offset, limit int) ([]model.ClaimRecord, error)

	// Outcomes returns the market/outcome-token catalog with resolution
	// state and the latest price/payout snapshot per token.
	Outcomes(ctx context.Context, f OutcomeFilter, offset, limit int) ([]model.MarketOutcome, error)
}
