package feedback

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	charmlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepwatch/internal/api"
)

type fakeFeedbackStore struct {
	mu           sync.Mutex
	count        int64
	countErr     error
	countCalls   int
	primaryErr   error
	fallbackErr  error
	primaryRows  []api.Feedback
	fallbackRows []api.Feedback
}

func (f *fakeFeedbackStore) CountFeedback(ctx context.Context, taskID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	return f.count, f.countErr
}

func (f *fakeFeedbackStore) InsertFeedback(ctx context.Context, fb api.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.primaryErr != nil {
		return f.primaryErr
	}
	f.primaryRows = append(f.primaryRows, fb)
	return nil
}

func (f *fakeFeedbackStore) InsertFeedbackFallback(ctx context.Context, fb api.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fallbackErr != nil {
		return f.fallbackErr
	}
	f.fallbackRows = append(f.fallbackRows, fb)
	return nil
}

func newTestService(store *fakeFeedbackStore) *Service {
	return NewService("user-1", store, charmlog.New(io.Discard))
}

func TestHasSubmitted(t *testing.T) {
	t.Run("Should trust the remote count", func(t *testing.T) {
		store := &fakeFeedbackStore{count: 1}
		service := newTestService(store)

		submitted, err := service.HasSubmitted(context.Background(), "task-1")
		require.NoError(t, err)
		assert.True(t, submitted)
	})

	t.Run("Should report false for zero rows", func(t *testing.T) {
		store := &fakeFeedbackStore{count: 0}
		service := newTestService(store)

		submitted, err := service.HasSubmitted(context.Background(), "task-1")
		require.NoError(t, err)
		assert.False(t, submitted)
	})

	t.Run("Should remember a positive answer and skip the recount", func(t *testing.T) {
		store := &fakeFeedbackStore{count: 1}
		service := newTestService(store)

		_, err := service.HasSubmitted(context.Background(), "task-1")
		require.NoError(t, err)
		_, err = service.HasSubmitted(context.Background(), "task-1")
		require.NoError(t, err)

		assert.Equal(t, 1, store.countCalls)
	})

	t.Run("Should recount for a negative answer", func(t *testing.T) {
		store := &fakeFeedbackStore{count: 0}
		service := newTestService(store)

		_, err := service.HasSubmitted(context.Background(), "task-1")
		require.NoError(t, err)
		_, err = service.HasSubmitted(context.Background(), "task-1")
		require.NoError(t, err)

		assert.Equal(t, 2, store.countCalls)
	})

	t.Run("Should surface count failures", func(t *testing.T) {
		store := &fakeFeedbackStore{countErr: fmt.Errorf("store unavailable")}
		service := newTestService(store)

		_, err := service.HasSubmitted(context.Background(), "task-1")
		assert.Error(t, err)
	})
}

func TestSubmit(t *testing.T) {
	t.Run("Should write through the primary path", func(t *testing.T) {
		store := &fakeFeedbackStore{}
		service := newTestService(store)

		err := service.Submit(context.Background(), "task-1", 5, "great report")
		require.NoError(t, err)

		require.Len(t, store.primaryRows, 1)
		row := store.primaryRows[0]
		assert.NotEmpty(t, row.ID)
		assert.Equal(t, "task-1", row.TaskID)
		assert.Equal(t, "user-1", row.UserID)
		assert.Equal(t, 5, row.Rating)
		assert.Equal(t, "great report", row.Comment)
		assert.Empty(t, store.fallbackRows)
	})

	t.Run("Should fall back when the primary path is rejected", func(t *testing.T) {
		store := &fakeFeedbackStore{primaryErr: fmt.Errorf("permission denied")}
		service := newTestService(store)

		err := service.Submit(context.Background(), "task-1", 4, "")
		require.NoError(t, err)

		assert.Empty(t, store.primaryRows)
		require.Len(t, store.fallbackRows, 1)
		assert.Equal(t, 4, store.fallbackRows[0].Rating)
	})

	t.Run("Should fail when both paths reject", func(t *testing.T) {
		store := &fakeFeedbackStore{
			primaryErr:  fmt.Errorf("permission denied"),
			fallbackErr: fmt.Errorf("rpc missing"),
		}
		service := newTestService(store)

		err := service.Submit(context.Background(), "task-1", 3, "")
		assert.Error(t, err)

		// The failed attempt must not poison the local submitted set
		store.mu.Lock()
		store.primaryErr = nil
		store.mu.Unlock()
		require.NoError(t, service.Submit(context.Background(), "task-1", 3, ""))
		assert.Len(t, store.primaryRows, 1)
	})

	t.Run("Should not submit the same task twice in a session", func(t *testing.T) {
		store := &fakeFeedbackStore{}
		service := newTestService(store)

		require.NoError(t, service.Submit(context.Background(), "task-1", 5, ""))
		require.NoError(t, service.Submit(context.Background(), "task-1", 2, "changed my mind"))

		assert.Len(t, store.primaryRows, 1)
	})

	t.Run("Should mark the task submitted for later lookups", func(t *testing.T) {
		store := &fakeFeedbackStore{count: 0}
		service := newTestService(store)

		require.NoError(t, service.Submit(context.Background(), "task-1", 5, ""))

		submitted, err := service.HasSubmitted(context.Background(), "task-1")
		require.NoError(t, err)
		assert.True(t, submitted)
		assert.Equal(t, 0, store.countCalls)
	})

	t.Run("Should reject out-of-range ratings", func(t *testing.T) {
		store := &fakeFeedbackStore{}
		service := newTestService(store)

		assert.Error(t, service.Submit(context.Background(), "task-1", 0, ""))
		assert.Error(t, service.Submit(context.Background(), "task-1", 6, ""))
		assert.Empty(t, store.primaryRows)
	})
}
