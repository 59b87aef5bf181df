// Package account serves the signed-in user's profile and email through the
// TTL cache, so repeated screen loads do not refetch account entities.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	charmlog "github.com/charmbracelet/log"

	"deepwatch/internal/cache"
	"deepwatch/internal/models"
)

const (
	profileEntity = "user_profile"
	emailEntity   = "user_email"
)

// AccountStore is the slice of the api client this service needs.
type AccountStore interface {
	FetchProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	FetchEmail(ctx context.Context) (string, error)
}

// Cache is the slice of the cache store this service needs.
type Cache interface {
	Get(key string) (string, bool)
	Set(entityType, entityID, value string, ttl time.Duration) error
	Invalidate(key string) error
}

// Service is the fetch-through-cache layer for account entities.
type Service struct {
	userID string
	store  AccountStore
	cache  Cache
	ttl    time.Duration
	log    *charmlog.Logger
}

// NewService creates the account service for the signed-in user. ttl bounds
// how long profile and email stay cached.
func NewService(userID string, store AccountStore, cache Cache, ttl time.Duration, log *charmlog.Logger) *Service {
	return &Service{
		userID: userID,
		store:  store,
		cache:  cache,
		ttl:    ttl,
		log:    log,
	}
}

// Profile returns the user profile, served from cache while fresh.
func (s *Service) Profile(ctx context.Context) (*models.UserProfile, error) {
	key := cache.Key(profileEntity, s.userID)

	if cached, ok := s.cache.Get(key); ok {
		var profile models.UserProfile
		if err := json.Unmarshal([]byte(cached), &profile); err == nil {
			return &profile, nil
		}
		if err := s.cache.Invalidate(key); err != nil {
			s.log.Warnf("failed to drop corrupt profile cache entry: %v", err)
		}
	}

	profile, err := s.store.FetchProfile(ctx, s.userID)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile for cache: %w", err)
	}
	if err := s.cache.Set(profileEntity, s.userID, string(encoded), s.ttl); err != nil {
		s.log.Warnf("failed to cache profile for user %s: %v", s.userID, err)
	}

	return profile, nil
}

// Email returns the account email, served from cache while fresh.
func (s *Service) Email(ctx context.Context) (string, error) {
	key := cache.Key(emailEntity, s.userID)

	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	email, err := s.store.FetchEmail(ctx)
	if err != nil {
		return "", err
	}

	if err := s.cache.Set(emailEntity, s.userID, email, s.ttl); err != nil {
		s.log.Warnf("failed to cache email for user %s: %v", s.userID, err)
	}

	return email, nil
}

// Invalidate drops the cached account entities, forcing fresh fetches.
// Used on sign-out and after profile edits.
func (s *Service) Invalidate() error {
	if err := s.cache.Invalidate(cache.Key(profileEntity, s.userID)); err != nil {
		return fmt.Errorf("failed to invalidate profile: %w", err)
	}
	if err := s.cache.Invalidate(cache.Key(emailEntity, s.userID)); err != nil {
		return fmt.Errorf("failed to invalidate email: %w", err)
	}
	return nil
}
