package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/satishbabariya/gorel/query/ast"
)

// Page is one window of a length-aware pagination.
type Page[T any] struct {
	Items       []T
	Total       int64
	PerPage     int
	CurrentPage int
	LastPage    int
}

// HasMorePages reports whether pages follow the current one.
func (p *Page[T]) HasMorePages() bool { return p.CurrentPage < p.LastPage }

// MapPage converts the items of a page.
func MapPage[T, U any](p *Page[T], fn func(T) (U, error)) (*Page[U], error) {
	out := &Page[U]{Total: p.Total, PerPage: p.PerPage, CurrentPage: p.CurrentPage, LastPage: p.LastPage, Items: make([]U, 0, len(p.Items))}
	for _, item := range p.Items {
		u, err := fn(item)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, u)
	}
	return out, nil
}

// CursorPage is one window of a cursor pagination.
type CursorPage[T any] struct {
	Items      []T
	PerPage    int
	HasMore    bool
	NextCursor any
}

// MapCursorPage converts the items of a cursor page.
func MapCursorPage[T, U any](p *CursorPage[T], fn func(T) (U, error)) (*CursorPage[U], error) {
	out := &CursorPage[U]{PerPage: p.PerPage, HasMore: p.HasMore, NextCursor: p.NextCursor, Items: make([]U, 0, len(p.Items))}
	for _, item := range p.Items {
		u, err := fn(item)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, u)
	}
	return out, nil
}

// Paginate counts the matching rows, clamps page into [1, last page] and fetches that page.
func (b *Builder) Paginate(ctx context.Context, perPage, page int) (*Page[Row], error) {
	if perPage < 1 {
		return nil, fmt.Errorf("%w: per page must be positive, got %d", ErrInvalidArguments, perPage)
	}
	counter := b.Clone()
	counter.query.Orders = nil
	counter.query.Bindings.Set(ast.ClauseOrder, nil)
	counter.query.Limit = nil
	counter.query.Offset = nil
	total, err := counter.Count(ctx)
	if err != nil {
		return nil, err
	}

	lastPage := int((total + int64(perPage) - 1) / int64(perPage))
	if lastPage < 1 {
		lastPage = 1
	}
	if page < 1 {
		page = 1
	}
	if page > lastPage {
		page = lastPage
	}

	items := []Row{}
	if total > 0 {
		if items, err = b.Clone().ForPage(page, perPage).Get(ctx); err != nil {
			return nil, err
		}
	}
	return &Page[Row]{Items: items, Total: total, PerPage: perPage, CurrentPage: page, LastPage: lastPage}, nil
}

// CursorPaginate fetches perPage rows ordered ascending by column, starting after the
// cursor value. column must have been declared with Sortable. A nil cursor starts at
// the beginning.
func (b *Builder) CursorPaginate(ctx context.Context, column string, after any, perPage int) (*CursorPage[Row], error) {
	if !b.sortable[column] {
		return nil, fmt.Errorf("%w: %q", ErrCursorColumn, column)
	}
	if perPage < 1 {
		return nil, fmt.Errorf("%w: per page must be positive, got %d", ErrInvalidArguments, perPage)
	}
	q := b.Clone()
	if after != nil {
		q.WrapWheres().Where(column, ">", after)
	}
	rows, err := q.Reorder(column, "asc").Limit(perPage + 1).Get(ctx)
	if err != nil {
		return nil, err
	}
	page := &CursorPage[Row]{PerPage: perPage, Items: rows}
	if len(rows) > perPage {
		page.HasMore = true
		page.Items = rows[:perPage]
		page.NextCursor = page.Items[perPage-1][columnKey(column)]
	}
	return page, nil
}

// Chunk walks the results in pages of size rows, calling fn for each non-empty page.
// It stops after a short page or when fn returns ErrStopChunk. The query must be ordered.
func (b *Builder) Chunk(ctx context.Context, size int, fn func([]Row) error) error {
	if size < 1 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidArguments, size)
	}
	if len(b.query.Orders) == 0 {
		return ErrMissingOrder
	}
	for page := 1; ; page++ {
		rows, err := b.Clone().ForPage(page, size).Get(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(rows); err != nil {
			if errors.Is(err, ErrStopChunk) {
				return nil
			}
			return err
		}
		if len(rows) < size {
			return nil
		}
	}
}

// ChunkByID walks the results in pages keyed on column, which must be unique and ascending.
// It is stable when rows are modified while chunking.
func (b *Builder) ChunkByID(ctx context.Context, size int, column string, fn func([]Row) error) error {
	if size < 1 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidArguments, size)
	}
	key := columnKey(column)
	var last any
	for {
		q := b.Clone()
		if last != nil {
			q.WrapWheres().Where(column, ">", last)
		}
		rows, err := q.Reorder(column, "asc").Limit(size).Get(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(rows); err != nil {
			if errors.Is(err, ErrStopChunk) {
				return nil
			}
			return err
		}
		if len(rows) < size {
			return nil
		}
		last = rows[len(rows)-1][key]
		if last == nil {
			return fmt.Errorf("%w: column %q missing from chunk results", ErrInvalidArguments, column)
		}
	}
}
