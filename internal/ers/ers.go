// Package ers implements the Abraxas deterministic scheduler (§4.I):
// ordered task execution with lane-scoped budgets and a deterministic
// trace. "ERS" (Ephemeral Run Scheduler) names the original subsystem this
// is grounded on: ers/scheduler.py, ers/types.py.
package ers

import (
	"fmt"
	"sort"
)

// Lane is a scheduling lane; forecast always precedes shadow.
type Lane string

const (
	LaneForecast Lane = "forecast"
	LaneShadow   Lane = "shadow"
)

func laneRank(l Lane) int {
	if l == LaneShadow {
		return 1
	}
	return 0
}

// Status is a Trace Event's outcome (§3 Trace Event).
type Status string

const (
	StatusOK            Status = "ok"
	StatusSkippedBudget Status = "skipped_budget"
	StatusError         Status = "error"
	StatusNotComputable Status = "not_computable"
)

// Budget is an immutable per-lane resource cap (§3 Budget).
type Budget struct {
	Ops     int
	Entropy int
}

// CanAfford reports whether the budget has enough remaining ops/entropy.
func (b Budget) CanAfford(ops, entropy int) bool {
	return ops <= b.Ops && entropy <= b.Entropy
}

func (b Budget) sub(ops, entropy int) Budget {
	return Budget{Ops: b.Ops - ops, Entropy: b.Entropy - entropy}
}

// TaskFunc is a scheduler-bound callable: ctx in, value or error out.
type TaskFunc func(ctx map[string]any) (any, error)

// TaskSpec is one schedulable unit (§3 Task Spec).
type TaskSpec struct {
	Name        string
	Lane        Lane
	Priority    int
	CostOps     int
	CostEntropy int
	Fn          TaskFunc
	Tags        []string
}

// TaskResult is the outcome of running one TaskSpec within a tick.
type TaskResult struct {
	Status Status
	Value  any
	Error  string
}

// TraceEvent is one scheduler-tick execution record (§3 Trace Event).
type TraceEvent struct {
	Tick        int            `json:"tick"`
	Task        string         `json:"task"`
	Lane        Lane           `json:"lane"`
	Status      Status         `json:"status"`
	CostOps     int            `json:"cost_ops"`
	CostEntropy int            `json:"cost_entropy"`
	Meta        map[string]any `json:"meta"`
}

// TickOutput is the structured return of RunTick.
type TickOutput struct {
	Tick      int
	Results   map[string]TaskResult
	Trace     []TraceEvent
	Remaining struct {
		Forecast Budget
		Shadow   Budget
	}
}

// Scheduler holds an ordered task list with per-task insertion index
// assigned at insertion time. Duplicate names are rejected (§3 Task Spec).
type Scheduler struct {
	tasks        []TaskSpec
	insertionIdx map[string]int
}

// New constructs an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{insertionIdx: make(map[string]int)}
}

// Add inserts a task, rejecting a duplicate name.
func (s *Scheduler) Add(t TaskSpec) error {
	if _, exists := s.insertionIdx[t.Name]; exists {
		return fmt.Errorf("ers: duplicate task name: %s", t.Name)
	}
	s.insertionIdx[t.Name] = len(s.tasks)
	s.tasks = append(s.tasks, t)
	return nil
}

// sortedTasks returns tasks ordered by (lane_rank, priority_asc, name_asc,
// insertion_index), per §4.I.
func (s *Scheduler) sortedTasks() []TaskSpec {
	out := make([]TaskSpec, len(s.tasks))
	copy(out, s.tasks)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if laneRank(a.Lane) != laneRank(b.Lane) {
			return laneRank(a.Lane) < laneRank(b.Lane)
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return s.insertionIdx[a.Name] < s.insertionIdx[b.Name]
	})
	return out
}

// RunTick executes every task in deterministic order against the given
// forecast/shadow budgets, returning results by task name and the
// execution trace in order. Task errors are local: they never abort the
// tick (§4.I Failure semantics).
func (s *Scheduler) RunTick(tick int, forecastBudget, shadowBudget Budget, ctx map[string]any) TickOutput {
	remainingForecast := forecastBudget
	remainingShadow := shadowBudget

	results := make(map[string]TaskResult)
	trace := make([]TraceEvent, 0, len(s.tasks))

	for _, task := range s.sortedTasks() {
		remaining := &remainingForecast
		if task.Lane == LaneShadow {
			remaining = &remainingShadow
		}

		if !remaining.CanAfford(task.CostOps, task.CostEntropy) {
			results[task.Name] = TaskResult{Status: StatusSkippedBudget}
			trace = append(trace, TraceEvent{
				Tick: tick, Task: task.Name, Lane: task.Lane, Status: StatusSkippedBudget,
				CostOps: 0, CostEntropy: 0,
				Meta: map[string]any{"reason": "budget"},
			})
			continue
		}

		value, err := task.Fn(ctx)
		*remaining = remaining.sub(task.CostOps, task.CostEntropy)

		if err != nil {
			results[task.Name] = TaskResult{Status: StatusError, Error: fmt.Sprintf("%T: %s", err, err.Error())}
			trace = append(trace, TraceEvent{
				Tick: tick, Task: task.Name, Lane: task.Lane, Status: StatusError,
				CostOps: task.CostOps, CostEntropy: task.CostEntropy,
				Meta: map[string]any{"tags": tagsOrEmpty(task.Tags)},
			})
			continue
		}

		results[task.Name] = TaskResult{Status: StatusOK, Value: value}
		trace = append(trace, TraceEvent{
			Tick: tick, Task: task.Name, Lane: task.Lane, Status: StatusOK,
			CostOps: task.CostOps, CostEntropy: task.CostEntropy,
			Meta: map[string]any{"tags": tagsOrEmpty(task.Tags)},
		})
	}

	out := TickOutput{Tick: tick, Results: results, Trace: trace}
	out.Remaining.Forecast = remainingForecast
	out.Remaining.Shadow = remainingShadow
	return out
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
