package source_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/oddsight/pnl-engine/internal/source"
)

// fakeIndexer answers GraphQL POSTs by matching the operation name in the
// query text and echoing canned rows.
func fakeIndexer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for op, body := range responses {
			if strings.Contains(req.Query, op) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(body))
				return
			}
		}
		t.Errorf("unexpected query: %s", req.Query)
		http.Error(w, "unknown query", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGraphSource_LatestPositions(t *testing.T) {
	srv := fakeIndexer(t, map[string]string{
		"latestPositions": `{"data":{"latestPositions":[
			{"user":"0xa","market":"0xm","tokenId":"2",
			 "deltaQuantity":"-5000000000000000000","deltaCollateral":"2.5",
			 "quantity":"10","realizedPnl":"0.75","eventType":"TRADE","blockTimestamp":"1700000000"}
		]}}`,
	})

	src := source.NewGraphSource(srv.URL, nil)
	entries, err := src.LatestPositions(context.Background(), source.LedgerFilter{User: "0xA"}, 0, 100)
	if err != nil {
		t.Fatalf("latest positions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	e := entries[0]
	if e.TokenID != 2 {
		t.Errorf("token id = %d, want 2", e.TokenID)
	}
	if e.DeltaQuantity.String() != "-5000000000000000000" {
		t.Errorf("delta quantity = %s, want raw wire value", e.DeltaQuantity)
	}
	if want := decimal.NewFromFloat(0.75); !e.RealizedPnL.Equal(want) {
		t.Errorf("realized pnl = %s, want %s", e.RealizedPnL, want)
	}
	if e.Timestamp != 1700000000 {
		t.Errorf("timestamp = %d, want 1700000000", e.Timestamp)
	}
}

func TestGraphSource_OutcomesNullAnswer(t *testing.T) {
	srv := fakeIndexer(t, map[string]string{
		"outcomeStats": `{"data":{"outcomeStats":[
			{"market":"0xm","tokenId":"1","answer":null,"price":"0.4","payout":"","blockTimestamp":"10"},
			{"market":"0xm","tokenId":"2","answer":"3","price":"0.6","payout":"1","blockTimestamp":"20"}
		]}}`,
	})

	src := source.NewGraphSource(srv.URL, nil)
	rows, err := src.Outcomes(context.Background(), source.OutcomeFilter{}, 0, 100)
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Resolved() {
		t.Error("null answer must mean unresolved")
	}
	if !rows[1].Resolved() || *rows[1].Answer != 3 {
		t.Errorf("answer = %v, want 3", rows[1].Answer)
	}
}

func TestGraphSource_IndexerErrorsSurface(t *testing.T) {
	srv := fakeIndexer(t, map[string]string{
		"claims": `{"errors":[{"message":"field does not exist"}]}`,
	})

	src := source.NewGraphSource(srv.URL, nil)
	_, err := src.Claims(context.Background(), "0xa", 0, 100)
	if err == nil || !strings.Contains(err.Error(), "field does not exist") {
		t.Fatalf("err = %v, want indexer error message surfaced", err)
	}
}

func TestGraphSource_Non200Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	src := source.NewGraphSource(srv.URL, nil)
	_, err := src.Events(context.Background(), source.EventFilter{}, 0, 100)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want status surfaced", err)
	}
}
