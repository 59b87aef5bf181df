// Package result tracks whether the final research artifact of a task exists
// and serves the artifact itself through the cache. Availability is a
// one-way latch: once a result is seen, it never becomes unavailable again,
// regardless of what the feed delivers afterwards.
package result

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"

	"deepwatch/internal/cache"
	"deepwatch/internal/models"
	"deepwatch/internal/realtime"
)

const cacheEntity = "task_result"

// ResultStore probes and fetches result rows. Implemented by the api client.
type ResultStore interface {
	ResultExists(ctx context.Context, taskID string) (bool, error)
	FetchResult(ctx context.Context, taskID string) (json.RawMessage, error)
}

// Feed opens push subscriptions on the change-notification channel.
type Feed interface {
	Subscribe(topic string, handler realtime.Handler) (func(), error)
}

// Cache is the slice of the cache store this service needs.
type Cache interface {
	Get(key string) (string, bool)
	Set(entityType, entityID, value string, ttl time.Duration) error
	Invalidate(key string) error
}

// AvailableFunc is invoked once, when availability first flips to true.
type AvailableFunc func(models.ResultAvailability)

// Service watches the result table for one task.
type Service struct {
	taskID string
	store  ResultStore
	feed   Feed
	cache  Cache
	ttl    time.Duration
	log    *charmlog.Logger

	mu          sync.RWMutex
	available   bool
	onAvailable AvailableFunc

	unsubscribe func()
}

// NewService creates a result watcher for one task. ttl bounds how long a
// fetched artifact is served from cache.
func NewService(taskID string, store ResultStore, feed Feed, cache Cache, ttl time.Duration, log *charmlog.Logger) *Service {
	return &Service{
		taskID: taskID,
		store:  store,
		feed:   feed,
		cache:  cache,
		ttl:    ttl,
		log:    log,
	}
}

// SetOnAvailable registers the availability callback.
func (s *Service) SetOnAvailable(fn AvailableFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAvailable = fn
}

// Start subscribes to result-row changes and then probes the store once, so
// a result that landed before the watcher existed is not missed. A
// subscription failure degrades to probe-only and is logged, not returned.
func (s *Service) Start(ctx context.Context) error {
	if s.feed != nil {
		unsubscribe, err := s.feed.Subscribe("task_results:"+s.taskID, s.handleEvent)
		if err != nil {
			s.log.Warnf("result feed subscription for task %s failed: %v", s.taskID, err)
		} else {
			s.unsubscribe = unsubscribe
		}
	}

	exists, err := s.store.ResultExists(ctx, s.taskID)
	if err != nil {
		return fmt.Errorf("failed to probe result for task %s: %w", s.taskID, err)
	}
	if exists {
		s.markAvailable()
	}
	return nil
}

// Stop revokes the feed subscription.
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Availability reports the current latch state.
func (s *Service) Availability() models.ResultAvailability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ResultAvailability{TaskID: s.taskID, Available: s.available}
}

// Fetch returns the result artifact, serving a cached copy when one is still
// fresh. A successful fetch also latches availability.
func (s *Service) Fetch(ctx context.Context) (models.ResearchResult, error) {
	key := cache.Key(cacheEntity, s.taskID)

	if cached, ok := s.cache.Get(key); ok {
		var result models.ResearchResult
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			return result, nil
		}
		// Unreadable cache entry: drop it and fall through to the store
		if err := s.cache.Invalidate(key); err != nil {
			s.log.Warnf("failed to drop corrupt result cache entry: %v", err)
		}
	}

	raw, err := s.store.FetchResult(ctx, s.taskID)
	if err != nil {
		return models.ResearchResult{}, err
	}

	var result models.ResearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return models.ResearchResult{}, fmt.Errorf("failed to decode result for task %s: %w", s.taskID, err)
	}

	if err := s.cache.Set(cacheEntity, s.taskID, string(raw), s.ttl); err != nil {
		s.log.Warnf("failed to cache result for task %s: %v", s.taskID, err)
	}

	s.markAvailable()
	return result, nil
}

// handleEvent latches availability on inserted or updated result rows. A
// fresh row also invalidates the cached artifact so the next Fetch re-pulls.
// Deletes are ignored: availability never reverts.
func (s *Service) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		if err := s.cache.Invalidate(cache.Key(cacheEntity, s.taskID)); err != nil {
			s.log.Warnf("failed to invalidate result cache for task %s: %v", s.taskID, err)
		}
		s.markAvailable()
	}
}

// markAvailable flips the latch false to true and fires the callback exactly
// once. Subsequent calls are no-ops.
func (s *Service) markAvailable() {
	s.mu.Lock()
	if s.available {
		s.mu.Unlock()
		return
	}
	s.available = true
	callback := s.onAvailable
	s.mu.Unlock()

	if callback != nil {
		callback(models.ResultAvailability{TaskID: s.taskID, Available: true})
	}
}
