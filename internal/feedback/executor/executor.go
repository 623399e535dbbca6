// Package executor runs a slice of work items with a concurrency ceiling and
// per-item outcome tracking. Items are partitioned into consecutive chunks of
// the concurrency size; chunks run strictly in order, items within a chunk
// run concurrently. Retry and rate limiting compose with the ceiling.
package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultConcurrency = 3

// Worker processes one item.
type Worker[T, R any] func(ctx context.Context, item T) (R, error)

// Options tunes a Process call.
type Options[R any] struct {
	// Concurrency is the chunk size and the in-flight ceiling. Defaults to 3.
	Concurrency int
	// StopOnError aborts the not-yet-started remainder of the failing chunk
	// and propagates the error. Already-started siblings still complete.
	// The default (false) records the failure and keeps going.
	StopOnError bool
	// MaxRetries re-runs a failing worker up to this many extra attempts with
	// RetryDelay between them. Only the final attempt's outcome is recorded.
	MaxRetries int
	RetryDelay time.Duration
	// MinInterval enforces a minimum spacing between successive worker
	// invocations, independent of the concurrency ceiling.
	MinInterval time.Duration
	// OnItemDone fires as each item settles, in completion order.
	OnItemDone func(Outcome[R])
	// OnBatchDone fires after each chunk settles, with that chunk's outcomes
	// in original item order.
	OnBatchDone func(batchIndex int, outcomes []Outcome[R])
}

// Outcome records how one item fared.
type Outcome[R any] struct {
	Index    int
	Success  bool
	Value    R
	Err      string
	Duration time.Duration
}

// Stats aggregates a whole Process call.
type Stats struct {
	TotalItems      int
	SuccessCount    int
	FailureCount    int
	TotalDuration   time.Duration
	AverageDuration time.Duration
	Throughput      float64 // items per second, wall-clock based
}

// Result is the full output of a Process call.
type Result[R any] struct {
	Outcomes []Outcome[R]
	Stats    Stats
}

// Process runs items through worker under opts. The returned outcomes are in
// original item order. On StopOnError the first failure is returned; on
// cancellation the context error is returned alongside the outcomes settled
// so far. Cancellation is observed between chunks, never mid-chunk.
func Process[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts Options[R]) (Result[R], error) {
	if len(items) == 0 {
		return Result[R]{Outcomes: []Outcome[R]{}}, nil
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	var limiter *rate.Limiter
	if opts.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}

	start := time.Now()
	outcomes := make([]Outcome[R], len(items))
	var firstErr error

	for chunkStart, batchIndex := 0, 0; chunkStart < len(items); chunkStart, batchIndex = chunkStart+concurrency, batchIndex+1 {
		if err := ctx.Err(); err != nil {
			return finish(outcomes[:chunkStart], start, len(items)), err
		}

		chunkEnd := min(chunkStart+concurrency, len(items))
		chunkErr := runChunk(ctx, items[chunkStart:chunkEnd], chunkStart, worker, opts, limiter, outcomes)

		if opts.OnBatchDone != nil {
			opts.OnBatchDone(batchIndex, outcomes[chunkStart:chunkEnd])
		}

		if chunkErr != nil && opts.StopOnError {
			firstErr = chunkErr
			outcomes = outcomes[:chunkEnd]
			break
		}
	}

	return finish(outcomes, start, len(items)), firstErr
}

// runChunk executes one chunk concurrently and fills outcomes in place. The
// group context only gates items that have not started yet; a started item
// runs on the parent context, so a sibling's failure never aborts it
// mid-flight.
func runChunk[T, R any](ctx context.Context, chunk []T, offset int, worker Worker[T, R], opts Options[R], limiter *rate.Limiter, outcomes []Outcome[R]) error {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, item := range chunk {
		index := offset + i
		g.Go(func() error {
			// An earlier failure in this chunk cancels gctx before the
			// worker has started; the item is recorded as aborted.
			if opts.StopOnError && gctx.Err() != nil {
				recordOutcome(&mu, outcomes, opts, Outcome[R]{
					Index: index,
					Err:   "aborted: " + gctx.Err().Error(),
				})
				return nil
			}

			outcome := runItem(ctx, item, index, worker, opts, limiter)
			recordOutcome(&mu, outcomes, opts, outcome)

			if !outcome.Success && opts.StopOnError {
				return &itemError{index: index, msg: outcome.Err}
			}
			return nil
		})
	}

	return g.Wait()
}

// runItem invokes the worker for one item, applying rate limiting and the
// retry policy. Only the final attempt is reflected in the outcome.
func runItem[T, R any](ctx context.Context, item T, index int, worker Worker[T, R], opts Options[R], limiter *rate.Limiter) Outcome[R] {
	var (
		value   R
		err     error
		elapsed time.Duration
	)

	attempts := opts.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if opts.RetryDelay > 0 {
				select {
				case <-time.After(opts.RetryDelay):
				case <-ctx.Done():
				}
			}
			// A cancellation between attempts keeps the last attempt's real
			// error instead of re-invoking the worker with a dead context.
			if ctx.Err() != nil {
				break
			}
		}

		if limiter != nil {
			if werr := limiter.Wait(ctx); werr != nil {
				if err == nil {
					err = werr
				}
				break
			}
		}

		attemptStart := time.Now()
		value, err = worker(ctx, item)
		elapsed = time.Since(attemptStart)
		if err == nil {
			break
		}
	}

	outcome := Outcome[R]{Index: index, Duration: elapsed}
	if err != nil {
		outcome.Err = err.Error()
		return outcome
	}
	outcome.Success = true
	outcome.Value = value
	return outcome
}

func recordOutcome[R any](mu *sync.Mutex, outcomes []Outcome[R], opts Options[R], outcome Outcome[R]) {
	mu.Lock()
	outcomes[outcome.Index] = outcome
	mu.Unlock()
	if opts.OnItemDone != nil {
		opts.OnItemDone(outcome)
	}
}

func finish[R any](outcomes []Outcome[R], start time.Time, totalItems int) Result[R] {
	total := time.Since(start)

	stats := Stats{
		TotalItems:    totalItems,
		TotalDuration: total,
	}

	var durationSum time.Duration
	for _, o := range outcomes {
		if o.Success {
			stats.SuccessCount++
		}
		durationSum += o.Duration
	}
	// Items never started (StopOnError abort, cancellation) count as failures
	// so success + failure always accounts for every item.
	stats.FailureCount = totalItems - stats.SuccessCount
	if n := len(outcomes); n > 0 {
		stats.AverageDuration = durationSum / time.Duration(n)
	}
	if secs := total.Seconds(); secs > 0 {
		stats.Throughput = float64(totalItems) / secs
	}

	return Result[R]{Outcomes: outcomes, Stats: stats}
}

// itemError carries the index of the failing item for StopOnError callers.
type itemError struct {
	index int
	msg   string
}

func (e *itemError) Error() string {
	return e.msg
}
