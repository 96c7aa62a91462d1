package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// DefaultProfileTTL bounds how long a cached profile is served.
const DefaultProfileTTL = 5 * time.Minute

// ProfileCache implements domain.ProfileCache. Profiles are JSON strings at
// "profile:{userId}" with a TTL.
type ProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewProfileCache creates a ProfileCache. A non-positive ttl uses
// DefaultProfileTTL.
func NewProfileCache(c *Client, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return &ProfileCache{rdb: c.Underlying(), ttl: ttl}
}

func profileKey(userID string) string {
	return "profile:" + userID
}

func (pc *ProfileCache) Get(ctx context.Context, userID string) (domain.UserProfile, error) {
	raw, err := pc.rdb.Get(ctx, profileKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.UserProfile{}, fmt.Errorf("redis: profile %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("redis: get profile %s: %w", userID, err)
	}

	var p domain.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.UserProfile{}, fmt.Errorf("redis: decode profile %s: %w", userID, err)
	}
	return p, nil
}

func (pc *ProfileCache) Set(ctx context.Context, p domain.UserProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: encode profile %s: %w", p.ID, err)
	}
	if err := pc.rdb.Set(ctx, profileKey(p.ID), raw, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set profile %s: %w", p.ID, err)
	}
	return nil
}

func (pc *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	if err := pc.rdb.Del(ctx, profileKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate profile %s: %w", userID, err)
	}
	return nil
}

var _ domain.ProfileCache = (*ProfileCache)(nil)
