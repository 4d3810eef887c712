package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/antigravity-dev/abraxas/internal/workunit"
)

func mkUnit(t *testing.T, url string, bytes int) workunit.Unit {
	t.Helper()
	u, err := workunit.Build(workunit.StageFetch, "s1", "w", workunit.OrderingKey{SourceID: "s1", URL: url}, nil, bytes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return u
}

func TestExecuteParallelRunsEveryUnit(t *testing.T) {
	units := []workunit.Unit{mkUnit(t, "https://e.com/a", 10), mkUnit(t, "https://e.com/b", 10)}

	res, err := ExecuteParallel(context.Background(), units, Config{Workers: 2}, "fetch", func(_ context.Context, u workunit.Unit) (WorkResult, error) {
		return WorkResult{UnitID: u.UnitID, Key: u.Key, BytesProcessed: u.InputBytes}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res.Results))
	}
}

func TestCommitResultsOrdersByKeyRegardlessOfCompletionOrder(t *testing.T) {
	units := []workunit.Unit{mkUnit(t, "https://e.com/c", 1), mkUnit(t, "https://e.com/a", 1), mkUnit(t, "https://e.com/b", 1)}

	res, err := ExecuteParallel(context.Background(), units, Config{Workers: 4}, "fetch", func(_ context.Context, u workunit.Unit) (WorkResult, error) {
		return WorkResult{UnitID: u.UnitID, Key: u.Key}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	committed := CommitResults(res.Results)
	want := []string{"https://e.com/a", "https://e.com/b", "https://e.com/c"}
	for i, w := range want {
		if committed[i].Key.URL != w {
			t.Fatalf("position %d: got %s, want %s", i, committed[i].Key.URL, w)
		}
	}
}

func TestExecuteParallelSerialWhenSingleWorker(t *testing.T) {
	units := []workunit.Unit{mkUnit(t, "https://e.com/a", 0)}
	res, err := ExecuteParallel(context.Background(), units, Config{Workers: 0}, "fetch", func(_ context.Context, u workunit.Unit) (WorkResult, error) {
		return WorkResult{UnitID: u.UnitID, Key: u.Key}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.WorkersUsed != 1 {
		t.Fatalf("expected workers clamped to 1, got %d", res.WorkersUsed)
	}
}

func TestExecuteParallelOneFailingUnitDoesNotStopOthers(t *testing.T) {
	units := []workunit.Unit{mkUnit(t, "https://e.com/a", 0), mkUnit(t, "https://e.com/b", 0)}

	var ranB bool
	_, err := ExecuteParallel(context.Background(), units, Config{Workers: 1}, "fetch", func(_ context.Context, u workunit.Unit) (WorkResult, error) {
		if u.Key.URL == "https://e.com/a" {
			return WorkResult{}, errors.New("boom")
		}
		ranB = true
		return WorkResult{UnitID: u.UnitID, Key: u.Key}, nil
	})
	if err == nil {
		t.Fatal("expected an error to be returned")
	}
	if !ranB {
		t.Fatal("expected the second unit to still run after the first failed")
	}
}

func TestExecuteParallelRespectsInflightByteBudget(t *testing.T) {
	units := []workunit.Unit{mkUnit(t, "https://e.com/a", 100), mkUnit(t, "https://e.com/b", 100)}

	res, err := ExecuteParallel(context.Background(), units, Config{Workers: 2, MaxInflightBytes: 100}, "fetch", func(_ context.Context, u workunit.Unit) (WorkResult, error) {
		return WorkResult{UnitID: u.UnitID, Key: u.Key, BytesProcessed: u.InputBytes}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MaxInflightBytes > 100 {
		t.Fatalf("expected max in-flight bytes to respect the budget, got %d", res.MaxInflightBytes)
	}
}

func TestExecuteParallelEmptyUnitsReturnsEmptyResult(t *testing.T) {
	res, err := ExecuteParallel(context.Background(), nil, Config{Workers: 4}, "fetch", func(_ context.Context, u workunit.Unit) (WorkResult, error) {
		t.Fatal("handler should not be invoked for zero units")
		return WorkResult{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(res.Results))
	}
}
