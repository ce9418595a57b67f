package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/oddsight/pnl-engine/internal/model"
)

// GraphSource reads the four ledger views from a GraphQL indexer endpoint.
// The indexer's deterministic orderBy plus distinct-on views make consecutive
// pages logically disjoint; this client performs no deduplication of its own.
type GraphSource struct {
	url    string
	client *http.Client
}

// NewGraphSource creates a client for the given GraphQL endpoint. Pass nil to
// use http.DefaultClient; timeouts belong to the injected client, not here.
func NewGraphSource(url string, client *http.Client) *GraphSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &GraphSource{url: url, client: client}
}

const latestPositionsQuery = `
query LatestPositions($first: Int!, $skip: Int!, $where: LedgerEntry_filter) {
  latestPositions(first: $first, skip: $skip, where: $where,
    orderBy: [user, market, tokenId], orderDirection: asc) {
    user market tokenId deltaQuantity deltaCollateral quantity realizedPnl eventType blockTimestamp
  }
}`

const eventsQuery = `
query LedgerEvents($first: Int!, $skip: Int!, $where: LedgerEntry_filter) {
  ledgerEntries(first: $first, skip: $skip, where: $where,
    orderBy: blockTimestamp, orderDirection: asc) {
    user market tokenId deltaQuantity deltaCollateral quantity realizedPnl eventType blockTimestamp
  }
}`

const claimsQuery = `
query Claims($first: Int!, $skip: Int!, $where: Claim_filter) {
  claims(first: $first, skip: $skip, where: $where,
    orderBy: blockTimestamp, orderDirection: asc) {
    user market tokenId amount blockTimestamp
  }
}`

const outcomesQuery = `
query Outcomes($first: Int!, $skip: Int!, $where: OutcomeStat_filter) {
  outcomeStats(first: $first, skip: $skip, where: $where,
    orderBy: [market, tokenId], orderDirection: asc) {
    market tokenId answer price payout blockTimestamp
  }
}`

// ledgerRow is the wire shape of one ledger entry. Big integers and decimals
// arrive as strings.
type ledgerRow struct {
	User            string `json:"user"`
	Market          string `json:"market"`
	TokenID         string `json:"tokenId"`
	DeltaQuantity   string `json:"deltaQuantity"`
	DeltaCollateral string `json:"deltaCollateral"`
	Quantity        string `json:"quantity"`
	RealizedPnL     string `json:"realizedPnl"`
	EventType       string `json:"eventType"`
	BlockTimestamp  string `json:"blockTimestamp"`
}

type claimRow struct {
	User           string `json:"user"`
	Market         string `json:"market"`
	TokenID        string `json:"tokenId"`
	Amount         string `json:"amount"`
	BlockTimestamp string `json:"blockTimestamp"`
}

type outcomeRow struct {
	Market         string  `json:"market"`
	TokenID        string  `json:"tokenId"`
	Answer         *string `json:"answer"`
	Price          string  `json:"price"`
	Payout         string  `json:"payout"`
	BlockTimestamp string  `json:"blockTimestamp"`
}

func (s *GraphSource) LatestPositions(ctx context.Context, f LedgerFilter, offset, limit int) ([]model.LedgerEntry, error) {
	where := map[string]any{}
	if f.User != "" {
		where["user"] = model.NormalizeAddress(f.User)
	}
	if f.Market != "" {
		where["market"] = model.NormalizeAddress(f.Market)
	}
	if f.TokenID != nil {
		where["tokenId"] = strconv.FormatInt(*f.TokenID, 10)
	}

	var out struct {
		LatestPositions []ledgerRow `json:"latestPositions"`
	}
	if err := s.do(ctx, latestPositionsQuery, pageVars(offset, limit, where), &out); err != nil {
		return nil, fmt.Errorf("latest positions: %w", err)
	}
	return decodeLedgerRows(out.LatestPositions)
}

func (s *GraphSource) Events(ctx context.Context, f EventFilter, offset, limit int) ([]model.LedgerEntry, error) {
	where := map[string]any{}
	if f.User != "" {
		where["user"] = model.NormalizeAddress(f.User)
	}
	if f.Market != "" {
		where["market"] = model.NormalizeAddress(f.Market)
	}
	if f.ExcludeFinalize {
		where["eventType_not"] = string(model.EventFinalize)
	}

	var out struct {
		LedgerEntries []ledgerRow `json:"ledgerEntries"`
	}
	if err := s.do(ctx, eventsQuery, pageVars(offset, limit, where), &out); err != nil {
		return nil, fmt.Errorf("ledger events: %w", err)
	}
	return decodeLedgerRows(out.LedgerEntries)
}

func (s *GraphSource) Claims(ctx context.Context, user string, offset, limit int) ([]model.ClaimRecord, error) {
	where := map[string]any{"amount_gt": "0"}
	if user != "" {
		where["user"] = model.NormalizeAddress(user)
	}

	var out struct {
		Claims []claimRow `json:"claims"`
	}
	if err := s.do(ctx, claimsQuery, pageVars(offset, limit, where), &out); err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}

	records := make([]model.ClaimRecord, 0, len(out.Claims))
	for _, row := range out.Claims {
		tokenID, err := strconv.ParseInt(row.TokenID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("claim token id %q: %w", row.TokenID, err)
		}
		amount, ok := new(big.Int).SetString(row.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("claim amount %q: not an integer", row.Amount)
		}
		ts, err := strconv.ParseInt(row.BlockTimestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("claim timestamp %q: %w", row.BlockTimestamp, err)
		}
		records = append(records, model.ClaimRecord{
			User:      row.User,
			Market:    row.Market,
			TokenID:   tokenID,
			Amount:    amount,
			Timestamp: ts,
		})
	}
	return records, nil
}

func (s *GraphSource) Outcomes(ctx context.Context, f OutcomeFilter, offset, limit int) ([]model.MarketOutcome, error) {
	where := map[string]any{}
	if f.Market != "" {
		where["market"] = model.NormalizeAddress(f.Market)
	}
	if f.OnlyUnresolved {
		where["answer"] = nil
	}

	var out struct {
		OutcomeStats []outcomeRow `json:"outcomeStats"`
	}
	if err := s.do(ctx, outcomesQuery, pageVars(offset, limit, where), &out); err != nil {
		return nil, fmt.Errorf("outcomes: %w", err)
	}

	rows := make([]model.MarketOutcome, 0, len(out.OutcomeStats))
	for _, row := range out.OutcomeStats {
		tokenID, err := strconv.ParseInt(row.TokenID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("outcome token id %q: %w", row.TokenID, err)
		}
		o := model.MarketOutcome{Market: row.Market, TokenID: tokenID}
		if row.Answer != nil {
			answer, err := strconv.ParseInt(*row.Answer, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("outcome answer %q: %w", *row.Answer, err)
			}
			o.Answer = &answer
		}
		if o.Price, err = decimal.NewFromString(row.Price); err != nil {
			return nil, fmt.Errorf("outcome price %q: %w", row.Price, err)
		}
		if row.Payout != "" {
			if o.Payout, err = decimal.NewFromString(row.Payout); err != nil {
				return nil, fmt.Errorf("outcome payout %q: %w", row.Payout, err)
			}
		}
		if o.Timestamp, err = strconv.ParseInt(row.BlockTimestamp, 10, 64); err != nil {
			return nil, fmt.Errorf("outcome timestamp %q: %w", row.BlockTimestamp, err)
		}
		rows = append(rows, o)
	}
	return rows, nil
}

// do executes one GraphQL request and decodes response.data into out.
func (s *GraphSource) do(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("indexer returned %d: %s", resp.StatusCode, snippet)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("indexer error: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}

func pageVars(offset, limit int, where map[string]any) map[string]any {
	return map[string]any{"first": limit, "skip": offset, "where": where}
}

func decodeLedgerRows(rows []ledgerRow) ([]model.LedgerEntry, error) {
	entries := make([]model.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		tokenID, err := strconv.ParseInt(row.TokenID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger token id %q: %w", row.TokenID, err)
		}
		delta, ok := new(big.Int).SetString(row.DeltaQuantity, 10)
		if !ok {
			return nil, fmt.Errorf("ledger delta quantity %q: not an integer", row.DeltaQuantity)
		}
		e := model.LedgerEntry{
			User:          row.User,
			Market:        row.Market,
			TokenID:       tokenID,
			DeltaQuantity: delta,
			Type:          model.EventType(row.EventType),
		}
		if e.DeltaCollateral, err = decimal.NewFromString(row.DeltaCollateral); err != nil {
			return nil, fmt.Errorf("ledger delta collateral %q: %w", row.DeltaCollateral, err)
		}
		if e.Quantity, err = decimal.NewFromString(row.Quantity); err != nil {
			return nil, fmt.Errorf("ledger quantity %q: %w", row.Quantity, err)
		}
		if e.RealizedPnL, err = decimal.NewFromString(row.RealizedPnL); err != nil {
			return nil, fmt.Errorf("ledger realized pnl %q: %w", row.RealizedPnL, err)
		}
		if e.Timestamp, err = strconv.ParseInt(row.BlockTimestamp, 10, 64); err != nil {
			return nil, fmt.Errorf("ledger timestamp %q: %w", row.BlockTimestamp, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
