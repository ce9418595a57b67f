package pager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oddsight/pnl-engine/internal/pager"
)

// pagedInts serves rows from a fixed slice, recording requested offsets.
func pagedInts(rows []int, offsets *[]int) pager.PageFunc[int] {
	return func(_ context.Context, offset, limit int) ([]int, error) {
		*offsets = append(*offsets, offset)
		if offset >= len(rows) {
			return nil, nil
		}
		end := offset + limit
		if end > len(rows) {
			end = len(rows)
		}
		return rows[offset:end], nil
	}
}

func TestCollect_ExhaustsOnShortPage(t *testing.T) {
	tests := []struct {
		name     string
		rows     int
		pageSize int
		wantReqs []int
	}{
		{"empty first page", 0, 10, []int{0}},
		{"single short page", 3, 10, []int{0}},
		{"exact page boundary fetches one extra", 10, 5, []int{0, 5, 10}},
		{"several pages", 12, 5, []int{0, 5, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := make([]int, tt.rows)
			for i := range rows {
				rows[i] = i
			}
			var offsets []int
			got, err := pager.Collect(context.Background(), tt.pageSize, pagedInts(rows, &offsets))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.rows {
				t.Errorf("expected %d rows, got %d", tt.rows, len(got))
			}
			if len(offsets) != len(tt.wantReqs) {
				t.Fatalf("expected offsets %v, got %v", tt.wantReqs, offsets)
			}
			for i, want := range tt.wantReqs {
				if offsets[i] != want {
					t.Errorf("request %d: expected offset %d, got %d", i, want, offsets[i])
				}
			}
		})
	}
}

func TestEach_PropagatesFetchError(t *testing.T) {
	boom := errors.New("transport down")
	calls := 0
	fetch := func(_ context.Context, offset, limit int) ([]int, error) {
		calls++
		if offset >= 5 {
			return nil, boom
		}
		return make([]int, limit), nil
	}

	var visited int
	err := pager.Each(context.Background(), 5, fetch, func(page []int) error {
		visited += len(page)
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected fetch to stop after failing page, got %d calls", calls)
	}
	if visited != 5 {
		t.Errorf("first page should have been visited before the failure, visited=%d", visited)
	}
}

func TestEach_VisitErrorAborts(t *testing.T) {
	stop := errors.New("stop")
	fetch := func(_ context.Context, offset, limit int) ([]int, error) {
		return make([]int, limit), nil
	}
	err := pager.Each(context.Background(), 4, fetch, func([]int) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected visit error to propagate, got %v", err)
	}
}

func TestEach_RejectsBadPageSize(t *testing.T) {
	err := pager.Each(context.Background(), 0, pagedInts(nil, &[]int{}), func([]int) error { return nil })
	if err == nil {
		t.Fatal("expected error for non-positive page size")
	}
}
