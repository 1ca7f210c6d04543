// Package iter provides a pull-based, context-aware iterator abstraction
// used for lazily walking the snapshot tree and yielding scanned records
// without materializing the whole result set up front.
package iter

import (
	"context"
	"errors"
)

var _ Iterator[string] = IteratorFunc[string](nil)

// ErrDone indicates the iterator is complete.
var ErrDone = errors.New("iterator done")

// Iterator yields successive pages of T. Next returns ErrDone once
// exhausted; any other error is fatal and callers must stop iterating.
//
// Because Next takes a context, cancellation of a scan is cooperative: an
// iterator's implementation checks ctx at its own suspension points (a
// fragment fetch, a snapshot fetch) rather than being preemptible.
type Iterator[T any] interface {
	Next(ctx context.Context) ([]T, error)
}

// IteratorFunc adapts a function to an Iterator.
type IteratorFunc[T any] func(context.Context) ([]T, error)

// Next calls fn.
func (fn IteratorFunc[T]) Next(ctx context.Context) ([]T, error) {
	return fn(ctx)
}

// Collect drains it into a single slice, stopping at ErrDone.
func Collect[T any](ctx context.Context, it Iterator[T]) ([]T, error) {
	var all []T
	for {
		page, err := it.Next(ctx)
		all = append(all, page...)
		if errors.Is(err, ErrDone) {
			return all, nil
		}
		if err != nil {
			return all, err
		}
		if len(page) == 0 {
			return all, nil
		}
	}
}

// Empty returns an iterator that yields nothing.
func Empty[T any]() Iterator[T] {
	return IteratorFunc[T](func(context.Context) ([]T, error) {
		return nil, ErrDone
	})
}
