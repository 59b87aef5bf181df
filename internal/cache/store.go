// Package cache is the persisted TTL-bounded key/value store that sits
// beneath every "fetch X" operation, avoiding refetches of user- and
// task-scoped entities.
package cache

import (
	"fmt"
	"time"

	charmlog "github.com/charmbracelet/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"deepwatch/internal/models"
)

// StaleHorizon is the hard eviction threshold: entries older than this are
// removed on sweep even when their own TTL is longer.
const StaleHorizon = 7 * 24 * time.Hour

// Store is a TTL-bounded key/value store over the local database. Writes are
// last-write-wins per key; there are no merge semantics for cached values.
type Store struct {
	db  *gorm.DB
	log *charmlog.Logger
	now func() time.Time
}

// New creates a cache store on the given database.
func New(db *gorm.DB, log *charmlog.Logger) *Store {
	return &Store{db: db, log: log, now: time.Now}
}

// Key builds the canonical cache key for an entity.
func Key(entityType, entityID string) string {
	return entityType + ":" + entityID
}

// Get returns the cached value for key, or false for a missing or expired
// entry. Get never makes a network call; refetching is the caller's call.
func (s *Store) Get(key string) (string, bool) {
	var entry models.CacheEntry
	if err := s.db.First(&entry, "key = ?", key).Error; err != nil {
		if err != gorm.ErrRecordNotFound {
			s.log.Warnf("cache read for %s failed: %v", key, err)
		}
		return "", false
	}

	if entry.Expired(s.now()) {
		return "", false
	}

	return entry.Value, true
}

// Set stores a value under (entityType, entityID) with the given TTL,
// replacing any previous entry for the same key.
func (s *Store) Set(entityType, entityID, value string, ttl time.Duration) error {
	entry := models.CacheEntry{
		Key:        Key(entityType, entityID),
		EntityType: entityType,
		EntityID:   entityID,
		Value:      value,
		StoredAt:   s.now(),
		TTLSeconds: int64(ttl / time.Second),
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to cache %s: %w", entry.Key, err)
	}

	return nil
}

// Invalidate removes one entry. Missing keys are not an error.
func (s *Store) Invalidate(key string) error {
	if err := s.db.Delete(&models.CacheEntry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", key, err)
	}
	return nil
}

// EvictExpired removes every entry whose age exceeds its stored TTL or the
// stale horizon. Idempotent, safe with zero entries; intended to run
// opportunistically on startup.
func (s *Store) EvictExpired() (int64, error) {
	var entries []models.CacheEntry
	if err := s.db.Find(&entries).Error; err != nil {
		return 0, fmt.Errorf("failed to scan cache entries: %w", err)
	}

	now := s.now()
	expired := []string{}
	for _, entry := range entries {
		if entry.Expired(now) || now.Sub(entry.StoredAt) >= StaleHorizon {
			expired = append(expired, entry.Key)
		}
	}

	if len(expired) == 0 {
		return 0, nil
	}

	result := s.db.Delete(&models.CacheEntry{}, "key IN ?", expired)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to evict expired entries: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// Clear wipes the whole store. Used on sign-out.
func (s *Store) Clear() error {
	if err := s.db.Where("1 = 1").Delete(&models.CacheEntry{}).Error; err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
