package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Task processes a single item. attempt is 1-based so tasks can report
// how many tries an item took.
type Task[T any] func(ctx context.Context, item T, attempt int) error

// ItemResult is the final outcome for one item after all retries.
type ItemResult struct {
	Item     string
	Attempts int
	Err      error
}

// FanOut runs a task over a set of items with a concurrency ceiling and
// per-item retries. A failing item never aborts the run; its error is
// captured in the result and the remaining items proceed.
type FanOut[T any] struct {
	// Concurrency is the maximum number of items in flight at once.
	Concurrency int
	// Attempts is the per-item try budget for transient failures.
	Attempts int
	// BackoffBase is the delay before the second attempt; it doubles on
	// each further attempt.
	BackoffBase time.Duration
	// TaskTimeout bounds each individual attempt. Zero means no bound.
	TaskTimeout time.Duration
	// Cleanup runs before the single retry granted to a resource-exhausted
	// failure. Optional.
	Cleanup func(ctx context.Context) error
	// Sleep waits out backoff delays. Defaults to a timer that honors
	// context cancellation. Tests substitute an instant version.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger Logger
}

func (f *FanOut[T]) logger() Logger {
	if f.Logger == nil {
		return NewNopLogger()
	}
	return f.Logger
}

func (f *FanOut[T]) sleep(ctx context.Context, d time.Duration) error {
	if f.Sleep != nil {
		return f.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run processes items and returns one result per item, in input order.
// name renders an item for logs and results. Run only returns a non-nil
// error when the context is canceled before all items complete.
func (f *FanOut[T]) Run(ctx context.Context, items []T, name func(T) string, task Task[T]) ([]ItemResult, error) {
	concurrency := f.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	results := make([]ItemResult, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		err := ctx.Err()
		if err == nil {
			err = sem.Acquire(ctx, 1)
		}
		if err != nil {
			// Context canceled; unstarted items report the cancellation.
			for j := i; j < len(items); j++ {
				results[j] = ItemResult{Item: name(items[j]), Err: err}
			}
			wg.Wait()
			return results, err
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer sem.Release(1)
			attempts, err := f.runOne(ctx, item, task)
			results[i] = ItemResult{Item: name(item), Attempts: attempts, Err: err}
		}(i, item)
	}

	wg.Wait()
	return results, nil
}

// runOne drives the retry loop for a single item and returns the number
// of attempts consumed along with the final error, if any.
func (f *FanOut[T]) runOne(ctx context.Context, item T, task Task[T]) (int, error) {
	budget := f.Attempts
	if budget < 1 {
		budget = 1
	}

	cleanedUp := false
	var err error
	for attempt := 1; ; attempt++ {
		err = f.attempt(ctx, item, attempt, task)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, err
		}

		switch Classify(err) {
		case ClassAuthentication, ClassNotFound:
			// Retrying cannot help these.
			return attempt, err
		case ClassResourceExhausted:
			// One retry after cleanup, then give up.
			if cleanedUp {
				return attempt, err
			}
			cleanedUp = true
			if f.Cleanup != nil {
				if cerr := f.Cleanup(ctx); cerr != nil {
					f.logger().Warn("cleanup before retry failed", "error", cerr)
					return attempt, err
				}
			}
		default:
			// Transient, timeout and unclassified errors share the budget.
			if attempt >= budget {
				return attempt, err
			}
			delay := f.BackoffBase << (attempt - 1)
			if serr := f.sleep(ctx, delay); serr != nil {
				return attempt, err
			}
		}
	}
}

func (f *FanOut[T]) attempt(ctx context.Context, item T, attempt int, task Task[T]) error {
	if f.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.TaskTimeout)
		defer cancel()
	}
	return task(ctx, item, attempt)
}
