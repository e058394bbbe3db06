package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/timer"
)

const refreshJobID = "refresh-buildings"

type jobScheduler interface {
	Every(id string, firstAt time.Time, interval time.Duration, job timer.Job) error
	Cancel(id string) bool
}

// buildingJobs keeps one periodic job per building in the scheduler
type buildingJobs struct {
	sched    jobScheduler
	interval time.Duration
	run      func(ctx context.Context, buildingID string)
	log      *logger.Logger

	mu        sync.Mutex
	scheduled map[string]bool
}

func newBuildingJobs(sched jobScheduler, interval time.Duration, run func(context.Context, string), log *logger.Logger) *buildingJobs {
	return &buildingJobs{sched: sched, interval: interval, run: run, log: log, scheduled: make(map[string]bool)}
}

func jobID(buildingID string) string {
	return "building/" + buildingID
}

// sync schedules the buildings in ids that have no job yet, spreading their
// first runs across one interval from now, and cancels the jobs of buildings
// no longer listed.
func (b *buildingJobs) sync(ids []string, now time.Time) (added, removed []string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	listed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !b.scheduled[id] && !listed[id] {
			added = append(added, id)
		}
		listed[id] = true
	}
	for id := range b.scheduled {
		if !listed[id] {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)

	for i, id := range added {
		firstAt := now.Add(time.Duration(i) * b.interval / time.Duration(len(added)))
		if err := b.sched.Every(jobID(id), firstAt, b.interval, func(ctx context.Context) { b.run(ctx, id) }); err != nil {
			return added[:i], removed, err
		}
		b.scheduled[id] = true
	}
	for _, id := range removed {
		b.sched.Cancel(jobID(id))
		delete(b.scheduled, id)
	}
	return added, removed, nil
}

// refresh re-lists the buildings and syncs the jobs. A failed listing keeps
// the current jobs.
func (b *buildingJobs) refresh(ctx context.Context, list func(context.Context) ([]string, error)) {
	ids, err := list(ctx)
	if err != nil {
		b.log.Error("Failed to refresh buildings", "error", err)
		return
	}
	added, removed, err := b.sync(ids, time.Now())
	if err != nil {
		b.log.Error("Failed to schedule buildings", "error", err)
	}
	if len(added) > 0 || len(removed) > 0 {
		b.log.Info("Building schedule updated", "added", added, "removed", removed)
	}
}
