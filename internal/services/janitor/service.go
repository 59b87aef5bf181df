// Package janitor periodically sweeps pollution rows out of the remote
// progress table and triggers a reconcile when a sweep actually removed
// something.
package janitor

import (
	"context"
	"fmt"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// DefaultSpec runs the sweep every 30 seconds (6-field cron, seconds first).
const DefaultSpec = "*/30 * * * * *"

// Sweeper deletes pollution rows for a task and reports how many rows the
// store acknowledged removing. Implemented by the api client.
type Sweeper interface {
	DeletePollution(ctx context.Context, taskID string) (int64, error)
}

// Reconciler re-pulls the snapshot after a sweep changed the remote table.
// Implemented by the progress service.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Service owns the sweep schedule for one task. Sweeps never overlap: a tick
// that fires while the previous sweep is still running is skipped.
type Service struct {
	taskID     string
	sweeper    Sweeper
	reconciler Reconciler
	log        *charmlog.Logger

	cron    *cron.Cron
	entry   cron.EntryID
	running atomic.Bool
}

// NewService creates a janitor for one task.
func NewService(taskID string, sweeper Sweeper, reconciler Reconciler, log *charmlog.Logger) *Service {
	return &Service{
		taskID:     taskID,
		sweeper:    sweeper,
		reconciler: reconciler,
		log:        log,
		cron:       cron.New(cron.WithSeconds()),
	}
}

// Start schedules the sweep and begins firing it. spec is a 6-field cron
// expression; pass DefaultSpec for the standard 30-second cadence.
func (s *Service) Start(ctx context.Context, spec string) error {
	entry, err := s.cron.AddFunc(spec, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep for task %s: %w", s.taskID, err)
	}
	s.entry = entry
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep's cron slot to
// drain.
func (s *Service) Stop() {
	done := s.cron.Stop()
	<-done.Done()
}

// Sweep runs one sweep-then-reconcile pass. Errors are logged, never
// propagated: a failed sweep simply waits for the next tick. The reconcile
// fires only when the store acknowledged at least one deleted row.
func (s *Service) Sweep(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debugf("sweep for task %s still running, skipping tick", s.taskID)
		return
	}
	defer s.running.Store(false)

	deleted, err := s.sweeper.DeletePollution(ctx, s.taskID)
	if err != nil {
		s.log.Warnf("pollution sweep for task %s failed: %v", s.taskID, err)
		return
	}
	if deleted == 0 {
		return
	}

	s.log.Infof("swept %d pollution rows for task %s", deleted, s.taskID)
	if err := s.reconciler.Reconcile(ctx); err != nil {
		s.log.Warnf("post-sweep reconcile for task %s failed: %v", s.taskID, err)
	}
}
