package runner

import (
	"context"
	"iter"
	"sync"
)

// DefaultWorkers is the pool size bulk sweeps use unless overridden.
const DefaultWorkers = 20

// Outcome classifies one entity's processing.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Skipped
)

// Summary is the structured run result every script reports: counts of
// processed, succeeded, failed, and skipped entities. The failed count is
// the process exit code, so operators can retry on non-zero.
type Summary struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

// Add records one outcome.
func (s *Summary) Add(o Outcome) {
	s.Processed++
	switch o {
	case Succeeded:
		s.Succeeded++
	case Failed:
		s.Failed++
	case Skipped:
		s.Skipped++
	}
}

// Merge folds another summary into this one.
func (s *Summary) Merge(other Summary) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}

// ExitCode is the count of non-fatal failures, capped so it survives the
// 8-bit exit status truncation.
func (s Summary) ExitCode() int {
	if s.Failed > 125 {
		return 125
	}
	return s.Failed
}

// Items adapts an in-memory slice to the sequence shape Map consumes.
func Items[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Map runs fn over every item from seq on a bounded pool. One worker
// handles one item end-to-end, so per-entity operations stay serialised;
// across items order is not guaranteed and callers must not depend on it.
// Outcomes are aggregated by the caller's goroutine in arrival order.
//
// fn must do its own per-entity error handling and logging; an item that
// fails is counted, never propagated. Errors from the sequence itself
// (pagination failures) are run-fatal and returned after in-flight work
// drains.
func Map[T any](ctx context.Context, workers int, seq iter.Seq2[T, error], fn func(context.Context, T) Outcome) (Summary, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	items := make(chan T)
	outcomes := make(chan Outcome)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				outcomes <- fn(ctx, item)
			}
		}()
	}

	var seqErr error
	go func() {
		defer close(items)
		for item, err := range seq {
			if err != nil {
				seqErr = err
				return
			}
			select {
			case items <- item:
			case <-ctx.Done():
				seqErr = ctx.Err()
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var summary Summary
	for o := range outcomes {
		summary.Add(o)
	}
	return summary, seqErr
}
