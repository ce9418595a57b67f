// Package pager drives offset-based pagination against an external query
// source. Pages for one logical query are strictly sequential: offset
// correctness depends on the size of every prior page.
package pager

import (
	"context"
	"fmt"
)

// PageFunc fetches one page of rows at the given offset. Implementations must
// return rows in a deterministic order so consecutive pages are logically
// disjoint.
type PageFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// Each fetches pages of pageSize rows starting at offset 0 and passes each
// page to visit until a page comes back short, signaling exhaustion. An empty
// first page yields zero rows. Any fetch error aborts the loop and propagates;
// there is no retry and no partial-result contract; callers restart from
// offset 0 if they want to try again.
func Each[T any](ctx context.Context, pageSize int, fetch PageFunc[T], visit func([]T) error) error {
	if pageSize <= 0 {
		return fmt.Errorf("pager: page size must be positive, got %d", pageSize)
	}

	for offset := 0; ; offset += pageSize {
		page, err := fetch(ctx, offset, pageSize)
		if err != nil {
			return fmt.Errorf("pager: page at offset %d: %w", offset, err)
		}
		if len(page) > 0 {
			if err := visit(page); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// Collect fetches every page and returns the concatenated rows.
func Collect[T any](ctx context.Context, pageSize int, fetch PageFunc[T]) ([]T, error) {
	var all []T
	err := Each(ctx, pageSize, fetch, func(page []T) error {
		all = append(all, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}
