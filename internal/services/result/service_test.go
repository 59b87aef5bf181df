package result

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepwatch/internal/models"
	"deepwatch/internal/realtime"
)

type fakeResultStore struct {
	mu        sync.Mutex
	exists    bool
	existsErr error
	row       json.RawMessage
	fetchErr  error
	fetches   int
}

func (f *fakeResultStore) ResultExists(ctx context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, f.existsErr
}

func (f *fakeResultStore) FetchResult(ctx context.Context, taskID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.row, nil
}

type fakeFeed struct {
	mu      sync.Mutex
	handler realtime.Handler
	revoked bool
	subErr  error
}

func (f *fakeFeed) Subscribe(topic string, handler realtime.Handler) (func(), error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.revoked = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeFeed) deliver(ev realtime.Event) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]string{}}
}

func (f *fakeCache) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.entries[key]
	return value, ok
}

func (f *fakeCache) Set(entityType, entityID, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entityType+":"+entityID] = value
	return nil
}

func (f *fakeCache) Invalidate(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

func newTestService(store *fakeResultStore, feed Feed, cache Cache) *Service {
	return NewService("task-1", store, feed, cache, 24*time.Hour, charmlog.New(io.Discard))
}

func resultRow(t *testing.T, report string) json.RawMessage {
	t.Helper()
	row, err := json.Marshal(models.ResearchResult{
		TaskID:    "task-1",
		Report:    report,
		Sources:   []models.Source{{URL: "https://example.org", Title: "Example"}},
		CreatedAt: "2025-06-01T12:00:00Z",
	})
	require.NoError(t, err)
	return row
}

func TestAvailability(t *testing.T) {
	t.Run("Should start unavailable when the store has no result", func(t *testing.T) {
		service := newTestService(&fakeResultStore{}, &fakeFeed{}, newFakeCache())

		require.NoError(t, service.Start(context.Background()))
		defer service.Stop()

		assert.False(t, service.Availability().Available)
	})

	t.Run("Should latch availability from the startup probe", func(t *testing.T) {
		service := newTestService(&fakeResultStore{exists: true}, &fakeFeed{}, newFakeCache())

		require.NoError(t, service.Start(context.Background()))
		defer service.Stop()

		availability := service.Availability()
		assert.True(t, availability.Available)
		assert.Equal(t, "task-1", availability.TaskID)
	})

	t.Run("Should latch availability from an insert event", func(t *testing.T) {
		feed := &fakeFeed{}
		service := newTestService(&fakeResultStore{}, feed, newFakeCache())

		require.NoError(t, service.Start(context.Background()))
		defer service.Stop()

		feed.deliver(realtime.Event{Topic: "task_results:task-1", Type: realtime.EventInsert})

		assert.True(t, service.Availability().Available)
	})

	t.Run("Should never revert availability on delete events", func(t *testing.T) {
		feed := &fakeFeed{}
		service := newTestService(&fakeResultStore{exists: true}, feed, newFakeCache())

		require.NoError(t, service.Start(context.Background()))
		defer service.Stop()

		feed.deliver(realtime.Event{Topic: "task_results:task-1", Type: realtime.EventDelete})

		assert.True(t, service.Availability().Available)
	})

	t.Run("Should fire the callback exactly once", func(t *testing.T) {
		feed := &fakeFeed{}
		service := newTestService(&fakeResultStore{}, feed, newFakeCache())

		fired := 0
		service.SetOnAvailable(func(models.ResultAvailability) { fired++ })

		require.NoError(t, service.Start(context.Background()))
		defer service.Stop()

		feed.deliver(realtime.Event{Topic: "task_results:task-1", Type: realtime.EventInsert})
		feed.deliver(realtime.Event{Topic: "task_results:task-1", Type: realtime.EventInsert})
		feed.deliver(realtime.Event{Topic: "task_results:task-1", Type: realtime.EventUpdate})

		assert.Equal(t, 1, fired)
	})

	t.Run("Should degrade to probe-only when the feed refuses", func(t *testing.T) {
		feed := &fakeFeed{subErr: fmt.Errorf("channel refused")}
		service := newTestService(&fakeResultStore{exists: true}, feed, newFakeCache())

		require.NoError(t, service.Start(context.Background()))
		defer service.Stop()

		assert.True(t, service.Availability().Available)
	})

	t.Run("Should surface probe failures", func(t *testing.T) {
		store := &fakeResultStore{existsErr: fmt.Errorf("store unavailable")}
		service := newTestService(store, &fakeFeed{}, newFakeCache())

		assert.Error(t, service.Start(context.Background()))
	})
}

func TestFetch(t *testing.T) {
	t.Run("Should fetch from the store and populate the cache", func(t *testing.T) {
		store := &fakeResultStore{row: resultRow(t, "final report")}
		cacheStore := newFakeCache()
		service := newTestService(store, &fakeFeed{}, cacheStore)

		result, err := service.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "final report", result.Report)
		assert.Equal(t, 1, store.fetches)

		_, cached := cacheStore.Get("task_result:task-1")
		assert.True(t, cached)
	})

	t.Run("Should serve the cached copy without refetching", func(t *testing.T) {
		store := &fakeResultStore{row: resultRow(t, "final report")}
		service := newTestService(store, &fakeFeed{}, newFakeCache())

		_, err := service.Fetch(context.Background())
		require.NoError(t, err)

		result, err := service.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "final report", result.Report)
		assert.Equal(t, 1, store.fetches)
	})

	t.Run("Should latch availability on a successful fetch", func(t *testing.T) {
		store := &fakeResultStore{row: resultRow(t, "final report")}
		service := newTestService(store, &fakeFeed{}, newFakeCache())

		_, err := service.Fetch(context.Background())
		require.NoError(t, err)
		assert.True(t, service.Availability().Available)
	})

	t.Run("Should refetch after an update event invalidated the cache", func(t *testing.T) {
		store := &fakeResultStore{row: resultRow(t, "v1")}
		feed := &fakeFeed{}
		service := newTestService(store, feed, newFakeCache())

		require.NoError(t, service.Start(context.Background()))
		defer service.Stop()

		_, err := service.Fetch(context.Background())
		require.NoError(t, err)

		store.mu.Lock()
		store.row = resultRow(t, "v2")
		store.mu.Unlock()
		feed.deliver(realtime.Event{Topic: "task_results:task-1", Type: realtime.EventUpdate})

		result, err := service.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "v2", result.Report)
		assert.Equal(t, 2, store.fetches)
	})

	t.Run("Should drop a corrupt cache entry and refetch", func(t *testing.T) {
		store := &fakeResultStore{row: resultRow(t, "clean")}
		cacheStore := newFakeCache()
		require.NoError(t, cacheStore.Set("task_result", "task-1", "{not json", time.Hour))
		service := newTestService(store, &fakeFeed{}, cacheStore)

		result, err := service.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "clean", result.Report)
		assert.Equal(t, 1, store.fetches)
	})

	t.Run("Should pass store failures through", func(t *testing.T) {
		store := &fakeResultStore{fetchErr: fmt.Errorf("store unavailable")}
		service := newTestService(store, &fakeFeed{}, newFakeCache())

		_, err := service.Fetch(context.Background())
		assert.Error(t, err)
		assert.False(t, service.Availability().Available)
	})
}
