package models

import (
	"time"
)

// CacheEntry is one persisted cache row, keyed by (entityType, entityId).
// An entry is valid iff now - StoredAt < TTL.
type CacheEntry struct {
	Key        string    `gorm:"primaryKey" json:"key"` // "<entity_type>:<entity_id>"
	EntityType string    `gorm:"not null;index;column:entity_type" json:"entity_type"`
	EntityID   string    `gorm:"not null;column:entity_id" json:"entity_id"`
	Value      string    `gorm:"type:text" json:"value"` // JSON blob
	StoredAt   time.Time `gorm:"not null" json:"stored_at"`
	TTLSeconds int64     `gorm:"not null;column:ttl_seconds" json:"ttl_seconds"`
}

// TableName specifies the table name for GORM
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// TTL returns the entry lifetime as a duration.
func (e CacheEntry) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// Expired reports whether the entry has outlived its TTL at the given time.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL()
}
