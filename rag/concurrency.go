package rag

import (
	"context"
	"sync"
)

// DefaultMaxConcurrency bounds in-flight model calls unless debug mode forces 1.
const DefaultMaxConcurrency = 50

func chunkWindows[T any](in []T, max int) [][]T {
	if max <= 0 || len(in) <= max {
		return [][]T{in}
	}
	out := make([][]T, 0, (len(in)+max-1)/max)
	for start := 0; start < len(in); start += max {
		end := start + max
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}

// forEachConcurrent runs fn for every index in [0, n) with at most concurrency calls in
// flight. The first error cancels the remaining work and is returned.
func forEachConcurrent(ctx context.Context, concurrency, n int, fn func(context.Context, int) error) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, concurrency)
	errCh := make(chan error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			if err := fn(ctx, i); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return parent.Err()
}

// limiter caps model calls across nested fan-outs.
type limiter chan struct{}

func newLimiter(n int) limiter {
	if n <= 0 {
		n = 1
	}
	return make(limiter, n)
}

func (l limiter) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l limiter) release() { <-l }
