// Package exec implements the Abraxas deterministic parallel executor
// (§4.E): work units run concurrently under a worker-count cap and an
// in-flight-byte budget, but the committed result order is always the
// sort-by-key order, independent of completion order.
//
// Grounded on runtime/deterministic_executor.py.
package exec

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/antigravity-dev/abraxas/internal/workunit"
)

// WorkResult is one unit's processed output, prior to commit-ordering.
type WorkResult struct {
	UnitID         string
	Key            workunit.OrderingKey
	OutputRefs     map[string]any
	BytesProcessed int
	Stage          string
}

// Handler processes a single work unit. Handlers must be safe for
// concurrent use: the executor may invoke many of them at once.
type Handler func(ctx context.Context, unit workunit.Unit) (WorkResult, error)

// Config bounds how a stage is executed.
type Config struct {
	// Workers caps concurrent handler invocations. Workers<=1 runs serially.
	Workers int
	// MaxInflightBytes caps the sum of InputBytes across in-flight units.
	// Zero means unbounded.
	MaxInflightBytes int64
}

// Result summarizes one ExecuteParallel call.
type Result struct {
	Results          []WorkResult
	MaxInflightBytes int64
	WorkersUsed      int
	Wall             time.Duration
}

// ExecuteParallel runs handler over every unit honoring cfg's worker and
// byte caps, and returns as soon as all units have completed. A failing
// handler does not cancel the others still in flight; the first error
// encountered (in unit order) is returned, with an empty Result, once every
// unit has finished.
func ExecuteParallel(ctx context.Context, units []workunit.Unit, cfg Config, stage string, handler Handler) (Result, error) {
	if len(units) == 0 {
		return Result{}, nil
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	var byteSem *semaphore.Weighted
	if cfg.MaxInflightBytes > 0 {
		byteSem = semaphore.NewWeighted(cfg.MaxInflightBytes)
	}

	var inflight int64
	var maxInflight int64

	results := make([]WorkResult, len(units))
	errs := make([]error, len(units))

	start := time.Now()

	group, gctx := errgroup.WithContext(context.Background())
	group.SetLimit(workers)

	for i, unit := range units {
		i, unit := i, unit
		group.Go(func() error {
			weight := clampWeight(unit.InputBytes, cfg.MaxInflightBytes)
			if byteSem != nil && weight > 0 {
				if err := byteSem.Acquire(gctx, weight); err != nil {
					errs[i] = fmt.Errorf("exec: acquiring byte budget for unit %s: %w", unit.UnitID, err)
					return nil
				}
				defer byteSem.Release(weight)
			}

			cur := atomic.AddInt64(&inflight, int64(unit.InputBytes))
			bumpMax(&maxInflight, cur)
			defer atomic.AddInt64(&inflight, -int64(unit.InputBytes))

			res, err := handler(ctx, unit)
			if err != nil {
				errs[i] = fmt.Errorf("exec: unit %s: %w", unit.UnitID, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}

	// errgroup's own error return is unused: handler errors are collected
	// per-unit above so every unit still runs to completion.
	_ = group.Wait()

	var firstErr error
	for _, err := range errs {
		if err != nil {
			firstErr = err
			break
		}
	}
	if firstErr != nil {
		return Result{}, firstErr
	}

	return Result{
		Results:          results,
		MaxInflightBytes: atomic.LoadInt64(&maxInflight),
		WorkersUsed:      workers,
		Wall:             time.Since(start),
	}, firstErr
}

// CommitResults returns results sorted by key, the sole determinant of
// commit order regardless of completion order (§4.E).
func CommitResults(results []WorkResult) []WorkResult {
	out := make([]WorkResult, len(results))
	copy(out, results)
	sortByKey(out)
	return out
}

func sortByKey(results []WorkResult) {
	// Small N in practice; insertion sort keeps this allocation-free and
	// stable without importing sort for a one-liner comparator closure.
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && results[j].Key.Less(results[j-1].Key) {
			results[j], results[j-1] = results[j-1], results[j]
			j--
		}
	}
}

func clampWeight(bytes int, max int64) int64 {
	if max <= 0 {
		return 0
	}
	w := int64(bytes)
	if w < 0 {
		w = 0
	}
	if w > max {
		w = max
	}
	return w
}

func bumpMax(max *int64, candidate int64) {
	for {
		cur := atomic.LoadInt64(max)
		if candidate <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(max, cur, candidate) {
			return
		}
	}
}
