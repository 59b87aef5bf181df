package progress

import (
	"context"
	"fmt"

	"deepwatch/internal/models"
)

// Reconcile fetches the authoritative snapshot and unions it into the local
// list by id. Records already tracked keep their push-maintained settled
// flags; snapshot-only records arrive settled unless they are the snapshot's
// own head. Safe to call repeatedly and concurrently with live merges.
func (s *Service) Reconcile(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("reconcile cancelled: %w", err)
	}

	snapshot, err := s.store.ListProgress(ctx, s.taskID)
	if err != nil {
		return fmt.Errorf("failed to reconcile task %s: %w", s.taskID, err)
	}

	clean := snapshot[:0:0]
	for _, record := range snapshot {
		if !models.IsPollution(record.Label) {
			clean = append(clean, record)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	changed := false
	for i, record := range clean {
		if j := s.indexOfLocked(record.ID); j >= 0 {
			// Merge server fields, keep the locally derived settlement
			record.Settled = s.records[j].Settled
			if !recordEqual(s.records[j], record) {
				s.records[j] = record
				changed = true
			}
			continue
		}
		record.Settled = i != 0 // snapshot head stays unsettled
		s.insertSortedLocked(record)
		if models.IsTerminal(record.Label) {
			s.isComplete = true
		}
		changed = true
	}

	if changed {
		s.settleLocked()
		s.projectLocked()
	}
	view := s.viewLocked()
	notify := s.notify
	s.mu.Unlock()

	if changed && notify != nil {
		notify(view)
	}
	return nil
}
