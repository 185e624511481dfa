package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"repairbench/internal/executor"
	"repairbench/internal/task"
)

func descriptorsFor(counts map[string]int, keys []string) []*task.Descriptor {
	var ds []*task.Descriptor
	for _, key := range keys {
		for i := 0; i < counts[key]; i++ {
			ds = append(ds, &task.Descriptor{
				ID:    fmt.Sprintf("%s-t%d", key, i),
				Setup: task.SetupInfo{EnvName: key},
			})
		}
	}
	return ds
}

// trackingExec records every invocation and checks that no two tasks with
// the same environment key are ever in flight at once.
type trackingExec struct {
	mu       sync.Mutex
	order    []string
	inFlight map[string]int
	overlap  bool
	delay    time.Duration
}

func newTrackingExec(delay time.Duration) *trackingExec {
	return &trackingExec{inFlight: make(map[string]int), delay: delay}
}

func (e *trackingExec) execute(ctx context.Context, d *task.Descriptor) (executor.RunResult, error) {
	key := d.EnvironmentKey()
	e.mu.Lock()
	e.order = append(e.order, d.ID)
	e.inFlight[key]++
	if e.inFlight[key] > 1 {
		e.overlap = true
	}
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.inFlight[key]--
	e.mu.Unlock()
	return executor.RunResult{TaskID: d.ID, Success: true}, nil
}

func (e *trackingExec) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

func TestDispatchRunsEveryTaskOnce(t *testing.T) {
	counts := map[string]int{"E1": 5, "E2": 1, "E3": 3}
	keys := []string{"E1", "E2", "E3"}

	for _, workers := range []int{1, 2, 3, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ds := descriptorsFor(counts, keys)
			groups := task.PartitionByEnvironment(ds)
			exec := newTrackingExec(0)
			s := &Scheduler{Execute: exec.execute}

			if err := s.Dispatch(context.Background(), ds, groups, workers); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}

			calls := exec.calls()
			if len(calls) != len(ds) {
				t.Fatalf("got %d invocations, want %d", len(calls), len(ds))
			}
			seen := make(map[string]bool, len(calls))
			for _, id := range calls {
				if seen[id] {
					t.Fatalf("task %s executed more than once", id)
				}
				seen[id] = true
			}
			if got := s.CompletedTasks(); got != int64(len(ds)) {
				t.Fatalf("CompletedTasks() = %d, want %d", got, len(ds))
			}
		})
	}
}

func TestSortBySizeDesc(t *testing.T) {
	counts := map[string]int{"A": 5, "B": 1, "C": 3}
	ds := descriptorsFor(counts, []string{"A", "B", "C"})
	groups := task.PartitionByEnvironment(ds)

	ordered := sortBySizeDesc(groups)
	var sizes []int
	for _, g := range ordered {
		sizes = append(sizes, len(g.Tasks))
	}
	want := []int{5, 3, 1}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("sizes = %v, want %v", sizes, want)
		}
	}
	// Original slice untouched.
	if len(groups[0].Tasks) != 5 || len(groups[1].Tasks) != 1 || len(groups[2].Tasks) != 3 {
		t.Fatalf("input slice was reordered")
	}
}

func TestSortBySizeDescStableOnTies(t *testing.T) {
	counts := map[string]int{"A": 2, "B": 2, "C": 2}
	ds := descriptorsFor(counts, []string{"A", "B", "C"})
	ordered := sortBySizeDesc(task.PartitionByEnvironment(ds))
	for i, want := range []string{"A", "B", "C"} {
		if ordered[i].Key != want {
			t.Fatalf("ordered[%d].Key = %s, want %s", i, ordered[i].Key, want)
		}
	}
}

func TestNoSameKeyOverlap(t *testing.T) {
	counts := map[string]int{"E1": 6, "E2": 6, "E3": 6}
	ds := descriptorsFor(counts, []string{"E1", "E2", "E3"})
	groups := task.PartitionByEnvironment(ds)
	exec := newTrackingExec(2 * time.Millisecond)
	s := &Scheduler{Execute: exec.execute}

	if err := s.Dispatch(context.Background(), ds, groups, 3); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if exec.overlap {
		t.Fatalf("two tasks with the same environment key ran concurrently")
	}
}

func TestSequentialWithinGroup(t *testing.T) {
	counts := map[string]int{"E1": 4, "E2": 4}
	ds := descriptorsFor(counts, []string{"E1", "E2"})
	groups := task.PartitionByEnvironment(ds)
	exec := newTrackingExec(time.Millisecond)
	s := &Scheduler{Execute: exec.execute}

	if err := s.Dispatch(context.Background(), ds, groups, 2); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// Within each key the observed order must match the stored order.
	perKey := make(map[string][]string)
	for _, id := range exec.calls() {
		key := id[:2]
		perKey[key] = append(perKey[key], id)
	}
	for _, g := range groups {
		got := perKey[g.Key]
		for i, d := range g.Tasks {
			if got[i] != d.ID {
				t.Fatalf("group %s order = %v", g.Key, got)
			}
		}
	}
}

func TestSingleWorkerRunsFlatInputOrder(t *testing.T) {
	// Interleaved environments: the flat path must keep the global input
	// order rather than regrouping by environment.
	ds := []*task.Descriptor{
		{ID: "t1", Setup: task.SetupInfo{EnvName: "E1"}},
		{ID: "t2", Setup: task.SetupInfo{EnvName: "E2"}},
		{ID: "t3", Setup: task.SetupInfo{EnvName: "E1"}},
	}
	groups := task.PartitionByEnvironment(ds)
	exec := newTrackingExec(0)
	s := &Scheduler{Execute: exec.execute}

	if err := s.Dispatch(context.Background(), ds, groups, 1); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	got := exec.calls()
	want := []string{"t1", "t2", "t3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestTwoGroupScenario(t *testing.T) {
	// t1,t2 share E1; t3 is alone in E2. With two workers t3 may run next
	// to either E1 task, but t1 always precedes t2.
	ds := []*task.Descriptor{
		{ID: "t1", Setup: task.SetupInfo{EnvName: "E1"}},
		{ID: "t2", Setup: task.SetupInfo{EnvName: "E1"}},
		{ID: "t3", Setup: task.SetupInfo{EnvName: "E2"}},
	}
	groups := task.PartitionByEnvironment(ds)
	exec := newTrackingExec(time.Millisecond)
	s := &Scheduler{Execute: exec.execute}

	if err := s.Dispatch(context.Background(), ds, groups, 2); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	calls := exec.calls()
	if len(calls) != 3 {
		t.Fatalf("got %d invocations, want 3", len(calls))
	}
	pos := make(map[string]int, 3)
	for i, id := range calls {
		pos[id] = i
	}
	if pos["t1"] > pos["t2"] {
		t.Fatalf("t2 ran before t1: %v", calls)
	}
	if exec.overlap {
		t.Fatalf("same-environment tasks overlapped")
	}
}

func TestFailedTaskDoesNotSkipRestOfGroup(t *testing.T) {
	ds := []*task.Descriptor{
		{ID: "t1", Setup: task.SetupInfo{EnvName: "E1"}},
		{ID: "t2", Setup: task.SetupInfo{EnvName: "E1"}},
		{ID: "t3", Setup: task.SetupInfo{EnvName: "E1"}},
	}
	groups := task.PartitionByEnvironment(ds)

	var calls []string
	s := &Scheduler{Execute: func(ctx context.Context, d *task.Descriptor) (executor.RunResult, error) {
		calls = append(calls, d.ID)
		switch d.ID {
		case "t1":
			return executor.RunResult{TaskID: d.ID, InitFailed: true}, nil
		case "t2":
			return executor.RunResult{}, errors.New("mkdir failed")
		default:
			return executor.RunResult{TaskID: d.ID, Success: true}, nil
		}
	}}

	if err := s.Dispatch(context.Background(), ds, groups, 1); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("calls = %v, want all three tasks", calls)
	}
	if s.CompletedTasks() != 3 {
		t.Fatalf("CompletedTasks() = %d, want 3", s.CompletedTasks())
	}
}

func TestWorkerPanicSurfacesAsError(t *testing.T) {
	counts := map[string]int{"E1": 2, "E2": 2, "E3": 2}
	ds := descriptorsFor(counts, []string{"E1", "E2", "E3"})
	groups := task.PartitionByEnvironment(ds)

	s := &Scheduler{Execute: func(ctx context.Context, d *task.Descriptor) (executor.RunResult, error) {
		if d.ID == "E2-t0" {
			panic("scheduler bug")
		}
		return executor.RunResult{TaskID: d.ID, Success: true}, nil
	}}

	err := s.Dispatch(context.Background(), ds, groups, 2)
	if err == nil {
		t.Fatalf("Dispatch() = nil error, want pool failure")
	}
}

func TestDispatchEmpty(t *testing.T) {
	s := &Scheduler{Execute: func(ctx context.Context, d *task.Descriptor) (executor.RunResult, error) {
		t.Fatalf("executor invoked with no descriptors")
		return executor.RunResult{}, nil
	}}
	if err := s.Dispatch(context.Background(), nil, nil, 4); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
}
