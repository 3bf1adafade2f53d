// Package scheduler selects due tasks, runs them under a concurrency
// cap, and drives the periodic polling loop.
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/dohr-michael/tempus/internal/tasks"
)

// DefaultPriorityThreshold is the minimum priority the priority-based
// strategy executes without an explicit due time.
const DefaultPriorityThreshold = 7

// Strategy picks the tasks one scheduling pass should run, already
// sorted in execution order.
type Strategy interface {
	Name() string
	Select(ctx context.Context, reg tasks.Registry) ([]*tasks.Task, error)
}

// ExplicitTimeStrategy selects pending tasks whose scheduled time has
// passed, earliest first, higher priority breaking ties.
type ExplicitTimeStrategy struct{}

func (ExplicitTimeStrategy) Name() string { return "explicit-time" }

func (ExplicitTimeStrategy) Select(ctx context.Context, reg tasks.Registry) ([]*tasks.Task, error) {
	due, err := reg.Find(ctx, tasks.Filter{IsDueNow: true})
	if err != nil {
		return nil, fmt.Errorf("explicit-time select: %w", err)
	}
	sortByDueTime(due)
	return due, nil
}

// IntervalStrategy selects pending interval tasks whose next fire time
// has passed.
type IntervalStrategy struct{}

func (IntervalStrategy) Name() string { return "interval" }

func (IntervalStrategy) Select(ctx context.Context, reg tasks.Registry) ([]*tasks.Task, error) {
	due, err := reg.Find(ctx, tasks.Filter{
		IsDueNow:      true,
		ScheduleTypes: []tasks.ScheduleType{tasks.ScheduleInterval},
	})
	if err != nil {
		return nil, fmt.Errorf("interval select: %w", err)
	}
	sortByDueTime(due)
	return due, nil
}

// PriorityBasedStrategy selects pending priority-scheduled tasks at or
// above its threshold, regardless of any scheduled time.
type PriorityBasedStrategy struct {
	Threshold int
}

func NewPriorityBasedStrategy(threshold int) PriorityBasedStrategy {
	if threshold <= 0 {
		threshold = DefaultPriorityThreshold
	}
	return PriorityBasedStrategy{Threshold: threshold}
}

func (s PriorityBasedStrategy) Name() string { return "priority-based" }

func (s PriorityBasedStrategy) Select(ctx context.Context, reg tasks.Registry) ([]*tasks.Task, error) {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultPriorityThreshold
	}
	due, err := reg.Find(ctx, tasks.Filter{
		Statuses:      []tasks.Status{tasks.StatusPending},
		ScheduleTypes: []tasks.ScheduleType{tasks.SchedulePriority},
		MinPriority:   &threshold,
		SortBy:        "priority",
		SortDirection: "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("priority-based select: %w", err)
	}
	return due, nil
}

// TaskScheduler runs every strategy and unions their picks by task id;
// the first strategy to select a task wins its slot in the order.
type TaskScheduler struct {
	strategies []Strategy
}

// NewTaskScheduler builds a composite over the given strategies; with
// none it uses explicit-time, interval, and priority-based defaults.
func NewTaskScheduler(strategies ...Strategy) *TaskScheduler {
	if len(strategies) == 0 {
		strategies = []Strategy{
			ExplicitTimeStrategy{},
			IntervalStrategy{},
			NewPriorityBasedStrategy(DefaultPriorityThreshold),
		}
	}
	return &TaskScheduler{strategies: strategies}
}

// DueTasks returns the deduplicated union of every strategy's picks.
func (s *TaskScheduler) DueTasks(ctx context.Context, reg tasks.Registry) ([]*tasks.Task, error) {
	seen := map[string]bool{}
	var combined []*tasks.Task
	for _, strat := range s.strategies {
		picked, err := strat.Select(ctx, reg)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strat.Name(), err)
		}
		for _, t := range picked {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			combined = append(combined, t)
		}
	}
	return combined, nil
}

// sortByDueTime orders by scheduled time ascending, nil last, with
// higher priority first among equal times.
func sortByDueTime(list []*tasks.Task) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].ScheduledTime, list[j].ScheduledTime
		switch {
		case a == nil && b == nil:
			return list[i].Priority > list[j].Priority
		case a == nil:
			return false
		case b == nil:
			return true
		}
		if a.Equal(*b) {
			return list[i].Priority > list[j].Priority
		}
		return a.Before(*b)
	})
}
