// Package progress maintains the live, monotonically-advancing view of one
// server-executed research task by reconciling two out-of-order sources: the
// push change feed and the pulled snapshot.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"deepwatch/internal/models"
	"deepwatch/internal/realtime"
)

// reconcileEvery throttles snapshot fetches so janitor triggers, reconnect
// healing and the cadence ticker cannot stampede the store.
const reconcileEvery = 2 * time.Second

type mergeKind int

const (
	mergeInsert mergeKind = iota
	mergeUpdate
	mergeDelete
)

type mergeOp struct {
	kind   mergeKind
	record models.ProgressRecord
	id     string
}

// Service owns the ordered record list for exactly one task. All mutation —
// push events and snapshot reconciliation alike — funnels through one merge
// function under the service lock; readers only ever see immutable View
// snapshots.
type Service struct {
	taskID        string
	expectedTotal int

	store   SnapshotStore
	feed    Feed
	log     *charmlog.Logger
	limiter *rate.Limiter

	notify        Notifier
	notifySources SourcesNotifier

	mu         sync.RWMutex
	records    []models.ProgressRecord // newest-first by created_at
	isComplete bool
	percentage int
	closed     bool

	unsubscribe func()
	cancel      context.CancelFunc
}

// NewService creates the tracker for one task. breadth and depth are the
// task parameters used to derive the expected record total.
func NewService(taskID string, breadth, depth int, store SnapshotStore, feed Feed, log *charmlog.Logger) *Service {
	return &Service{
		taskID:        taskID,
		expectedTotal: ExpectedTotal(breadth, depth),
		store:         store,
		feed:          feed,
		log:           log,
		limiter:       rate.NewLimiter(rate.Every(reconcileEvery), 1),
	}
}

// SetNotifier registers the per-merge view callback.
func (s *Service) SetNotifier(fn Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// SetSourcesNotifier registers the sources-grew callback.
func (s *Service) SetSourcesNotifier(fn SourcesNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifySources = fn
}

// Start seeds the state from a snapshot, opens the push subscription and
// begins the reconcile cadence. A push-subscription failure is returned once
// to the caller, but the service keeps running in pull-only mode — the
// cadence reconciles are the degraded path.
func (s *Service) Start(ctx context.Context, reconcileInterval time.Duration) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// Seed without waiting for the first push event. Transient failure is
	// not fatal; the cadence retries.
	if err := s.Reconcile(ctx); err != nil {
		s.log.Warnf("initial snapshot for task %s failed: %v", s.taskID, err)
	}

	go s.reconcileLoop(ctx, reconcileInterval)

	if s.feed == nil {
		return fmt.Errorf("no change feed available for task %s: running pull-only", s.taskID)
	}

	unsubscribe, err := s.feed.Subscribe("task_progress:"+s.taskID, s.handleEvent)
	if err != nil {
		return fmt.Errorf("change feed subscription for task %s failed: %w", s.taskID, err)
	}
	s.unsubscribe = unsubscribe

	return nil
}

// Stop revokes the subscription and halts reconciling. No merge happens
// after Stop returns.
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Service) reconcileLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				s.log.Warnf("scheduled reconcile for task %s failed: %v", s.taskID, err)
			}
		}
	}
}

// handleEvent merges one change-feed delivery. Pollution is discarded before
// it can touch state; malformed payloads are dropped with a warning, never
// surfaced as errors.
func (s *Service) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		record, err := models.DecodeRecord(ev.New)
		if err != nil {
			s.log.Warnf("dropping malformed feed event for task %s: %v", s.taskID, err)
			return
		}
		if record.TaskID != s.taskID || models.IsPollution(record.Label) {
			return
		}
		kind := mergeInsert
		if ev.Type == realtime.EventUpdate {
			kind = mergeUpdate
		}
		s.apply(mergeOp{kind: kind, record: record})

	case realtime.EventDelete:
		id := extractID(ev.Old)
		if id == "" {
			id = extractID(ev.New)
		}
		if id == "" {
			return
		}
		s.apply(mergeOp{kind: mergeDelete, id: id})
	}
}

func extractID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var row struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return ""
	}
	return row.ID
}

// View returns an immutable snapshot of the aggregate.
func (s *Service) View() models.TaskProgressView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

// apply is the single mutation funnel for feed-delivered changes.
func (s *Service) apply(op mergeOp) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	changed := false
	var grownID string
	var grown []models.Source

	switch op.kind {
	case mergeInsert:
		changed = s.mergeInsertLocked(op.record)

	case mergeUpdate:
		changed, grownID, grown = s.mergeUpdateLocked(op.record)

	case mergeDelete:
		changed = s.mergeDeleteLocked(op.id)
	}

	if changed {
		s.settleLocked()
		s.projectLocked()
	}
	view := s.viewLocked()
	notify, notifySources := s.notify, s.notifySources
	s.mu.Unlock()

	if !changed {
		return
	}
	if grown != nil && notifySources != nil {
		notifySources(grownID, grown)
	}
	if notify != nil {
		notify(view)
	}
}

// mergeInsertLocked adds a record unless its id is already tracked
// (idempotent re-delivery collapses silently).
func (s *Service) mergeInsertLocked(record models.ProgressRecord) bool {
	if s.indexOfLocked(record.ID) >= 0 {
		return false
	}
	record.Settled = false
	s.insertSortedLocked(record)
	if models.IsTerminal(record.Label) {
		s.isComplete = true
	}
	return true
}

// mergeUpdateLocked merges server fields into the tracked record. Updates
// never change settlement. An update for an untracked id is treated as an
// insert: the feed may deliver the update before the insert it follows.
func (s *Service) mergeUpdateLocked(record models.ProgressRecord) (bool, string, []models.Source) {
	i := s.indexOfLocked(record.ID)
	if i < 0 {
		return s.mergeInsertLocked(record), "", nil
	}

	old := s.records[i]
	record.Settled = old.Settled

	var grown []models.Source
	if len(record.Sources) > len(old.Sources) {
		grown = record.Sources[len(old.Sources):]
	}

	if recordEqual(old, record) {
		return false, "", nil
	}

	s.records[i] = record
	if !old.CreatedAt.Equal(record.CreatedAt) {
		s.resortLocked()
	}
	return true, record.ID, grown
}

func (s *Service) mergeDeleteLocked(id string) bool {
	i := s.indexOfLocked(id)
	if i < 0 {
		return false
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	return true
}

func (s *Service) indexOfLocked(id string) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

// insertSortedLocked places a record by created_at, newest first. Among
// equal timestamps the later arrival wins the earlier slot.
func (s *Service) insertSortedLocked(record models.ProgressRecord) {
	i := 0
	for i < len(s.records) && s.records[i].CreatedAt.After(record.CreatedAt) {
		i++
	}
	s.records = append(s.records, models.ProgressRecord{})
	copy(s.records[i+1:], s.records[i:])
	s.records[i] = record
}

func (s *Service) resortLocked() {
	records := s.records
	s.records = make([]models.ProgressRecord, 0, len(records))
	for _, record := range records {
		s.insertSortedLocked(record)
	}
}

// settleLocked re-derives settlement after a merge: every record behind the
// head is superseded, and a terminal head settles itself. Flags are only
// ever set, never cleared — a pull must not undo a push-settled record.
func (s *Service) settleLocked() {
	for i := range s.records {
		if i == 0 {
			if models.IsTerminal(s.records[0].Label) {
				s.records[0].Settled = true
			}
			continue
		}
		s.records[i].Settled = true
	}
}

// projectLocked recomputes the derived signal with the monotonic guards:
// percentage never decreases within a session, isComplete never reverts.
func (s *Service) projectLocked() {
	proj := Project(s.records, s.expectedTotal, s.isComplete)
	if proj.IsComplete {
		s.isComplete = true
	}
	if proj.Percentage > s.percentage {
		s.percentage = proj.Percentage
	}
}

func (s *Service) viewLocked() models.TaskProgressView {
	records := make([]models.ProgressRecord, len(s.records))
	copy(records, s.records)
	return models.TaskProgressView{
		TaskID:        s.taskID,
		Records:       records,
		ExpectedTotal: s.expectedTotal,
		Percentage:    s.percentage,
		IsComplete:    s.isComplete,
	}
}

func recordEqual(a, b models.ProgressRecord) bool {
	if a.ID != b.ID || a.TaskID != b.TaskID || a.OwnerID != b.OwnerID ||
		a.Label != b.Label || !a.CreatedAt.Equal(b.CreatedAt) ||
		a.Settled != b.Settled || len(a.Sources) != len(b.Sources) {
		return false
	}
	for i := range a.Sources {
		if a.Sources[i] != b.Sources[i] {
			return false
		}
	}
	return true
}
