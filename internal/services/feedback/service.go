// Package feedback submits per-task ratings and answers "has this user
// already rated this task". The remote count is authoritative; the local
// submitted set only short-circuits repeat lookups within a session.
package feedback

import (
	"context"
	"fmt"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"deepwatch/internal/api"
)

// FeedbackStore is the slice of the api client this service needs.
type FeedbackStore interface {
	CountFeedback(ctx context.Context, taskID, userID string) (int64, error)
	InsertFeedback(ctx context.Context, fb api.Feedback) error
	InsertFeedbackFallback(ctx context.Context, fb api.Feedback) error
}

// Service handles feedback submission for one user across tasks.
type Service struct {
	userID string
	store  FeedbackStore
	log    *charmlog.Logger

	mu        sync.Mutex
	submitted map[string]bool // taskID -> known submitted this session
}

// NewService creates a feedback service for the signed-in user.
func NewService(userID string, store FeedbackStore, log *charmlog.Logger) *Service {
	return &Service{
		userID:    userID,
		store:     store,
		log:       log,
		submitted: make(map[string]bool),
	}
}

// HasSubmitted reports whether this user already rated the task. A local hit
// is trusted; otherwise the remote count decides, and a positive answer is
// remembered.
func (s *Service) HasSubmitted(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	if s.submitted[taskID] {
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()

	count, err := s.store.CountFeedback(ctx, taskID, s.userID)
	if err != nil {
		return false, fmt.Errorf("failed to check feedback for task %s: %w", taskID, err)
	}
	if count == 0 {
		return false, nil
	}

	s.mu.Lock()
	s.submitted[taskID] = true
	s.mu.Unlock()
	return true, nil
}

// Submit writes one rating for the task. The primary insert path is tried
// first; on rejection the privileged fallback path is tried with the same
// row. Submitting twice in a session is a silent no-op.
func (s *Service) Submit(ctx context.Context, taskID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}

	s.mu.Lock()
	if s.submitted[taskID] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	fb := api.Feedback{
		ID:      uuid.New().String(),
		TaskID:  taskID,
		UserID:  s.userID,
		Rating:  rating,
		Comment: comment,
	}

	if err := s.store.InsertFeedback(ctx, fb); err != nil {
		s.log.Warnf("primary feedback insert for task %s failed, trying fallback: %v", taskID, err)
		if fallbackErr := s.store.InsertFeedbackFallback(ctx, fb); fallbackErr != nil {
			return fmt.Errorf("feedback submission for task %s failed on both paths: %w", taskID, fallbackErr)
		}
	}

	s.mu.Lock()
	s.submitted[taskID] = true
	s.mu.Unlock()
	return nil
}
