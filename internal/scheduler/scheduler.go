// Package scheduler dispatches execution groups under bounded parallelism.
// Groups sharing an environment never overlap: each group is handed to one
// worker and run strictly sequentially inside it.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"repairbench/internal/executor"
	"repairbench/internal/logger"
	"repairbench/internal/task"
)

// ExecuteFunc runs a single task end to end. The scheduler treats the
// executor as opaque: task-level failures come back inside the RunResult,
// the error return covers only hard per-task filesystem failures.
type ExecuteFunc func(ctx context.Context, d *task.Descriptor) (executor.RunResult, error)

// Scheduler fans execution groups out over a fixed worker pool. Zero value
// is not usable; Execute must be set.
type Scheduler struct {
	Execute ExecuteFunc

	completed  atomic.Int64
	groupsDone atomic.Int64
	total      int64
}

// Dispatch runs every descriptor exactly once and returns when all groups
// have finished. maxWorkers < 1 is treated as 1. A panic escaping a worker
// is surfaced as the returned error; in that case remaining groups are not
// guaranteed to have run and the caller must not aggregate.
func (s *Scheduler) Dispatch(ctx context.Context, descriptors []*task.Descriptor, groups []task.Group, maxWorkers int) error {
	if len(descriptors) == 0 {
		logger.LogInfo("No tasks to dispatch.")
		return nil
	}
	s.completed.Store(0)
	s.groupsDone.Store(0)
	s.total = int64(len(descriptors))

	if maxWorkers <= 1 {
		// Single worker: grouping buys nothing, so all tasks run in the
		// flat global order. This can interleave environments differently
		// than the grouped path; say so instead of pretending otherwise.
		logger.LogInfo(fmt.Sprintf(
			"Single worker: running %d tasks sequentially in input order, bypassing %d environment groups.",
			len(descriptors), len(groups)))
		s.runGroup(ctx, task.Group{Key: "all", Tasks: descriptors})
		return nil
	}

	if maxWorkers > len(groups) {
		logger.LogInfo(fmt.Sprintf("Clamping workers from %d to %d (one per environment group).", maxWorkers, len(groups)))
		maxWorkers = len(groups)
	}

	ordered := sortBySizeDesc(groups)

	logger.LogInfo(fmt.Sprintf("Dispatching %d tasks in %d groups over %d workers.",
		len(descriptors), len(ordered), maxWorkers))

	groupCh := make(chan task.Group)
	var wg sync.WaitGroup
	var poolErr atomic.Pointer[poolFailure]

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					poolErr.CompareAndSwap(nil, &poolFailure{worker: id, cause: p})
					// Drain so the feeder and siblings can finish.
					for range groupCh {
					}
				}
			}()
			for g := range groupCh {
				s.runGroup(ctx, g)
			}
		}(w)
	}

	for _, g := range ordered {
		groupCh <- g
	}
	close(groupCh)
	wg.Wait()

	if p := poolErr.Load(); p != nil {
		return fmt.Errorf("worker %d panicked: %v", p.worker, p.cause)
	}
	return nil
}

type poolFailure struct {
	worker int
	cause  any
}

// sortBySizeDesc orders groups largest first so the longest sequential
// chain starts earliest. Stable: equal-size groups keep their first-seen
// order. The input slice is not modified.
func sortBySizeDesc(groups []task.Group) []task.Group {
	ordered := make([]task.Group, len(groups))
	copy(ordered, groups)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Tasks) > len(ordered[j].Tasks)
	})
	return ordered
}

// runGroup executes a group's tasks strictly sequentially in stored order.
// A failed task never skips the tasks behind it.
func (s *Scheduler) runGroup(ctx context.Context, g task.Group) {
	for _, d := range g.Tasks {
		result, err := s.Execute(ctx, d)
		if err != nil {
			// Hard failure before the task could even start; the rest of
			// the group still runs.
			logger.LogError(fmt.Sprintf("Task %s aborted: %v", d.ID, err))
		} else if result.InitFailed {
			logger.LogWarn(fmt.Sprintf("Task %s runner initialization failed.", d.ID))
		}
		done := s.completed.Add(1)
		logger.Progress(fmt.Sprintf("Progress: %d/%d tasks completed.", done, s.total))
	}
	doneGroups := s.groupsDone.Add(1)
	logger.LogInfo(fmt.Sprintf("Group %q finished (%d tasks, %d groups done).", g.Key, len(g.Tasks), doneGroups))
}

// CompletedTasks reports how many tasks have finished so far.
func (s *Scheduler) CompletedTasks() int64 {
	return s.completed.Load()
}
