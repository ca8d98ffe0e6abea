// Package schedule is the read side of shared schedules: candidate sets, live slots and patients.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"respirakids/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cacheKeyPrefix = "schedule:"

// Repository is the Slot Store read API.
type Repository interface {
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	ListAvailableSlots(ctx context.Context, scheduleID string, from time.Time) ([]model.Slot, error)
	ListPatients(ctx context.Context, responsibleID string) ([]model.Person, error)
}

// Catalog serves schedule reference data. Candidate sets may be cached; slots never are.
type Catalog struct {
	repo   Repository
	logger zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration

	now func() time.Time
}

// NewCatalog creates a catalog reading from repo.
func NewCatalog(repo Repository, logger *zerolog.Logger) *Catalog {
	return &Catalog{
		repo:   repo,
		logger: logger.With().Str("component", "catalog").Logger(),
		now:    time.Now,
	}
}

// UseRedisCache configures optional Redis caching of schedule candidate sets.
func (c *Catalog) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// LoadSchedule returns the schedule and its candidate sets.
func (c *Catalog) LoadSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	key := cacheKeyPrefix + id
	var s model.Schedule
	if c.readCache(ctx, key, &s) {
		return &s, nil
	}

	loaded, err := c.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, loaded)
	return loaded, nil
}

// LoadAvailableSlots re-queries the store for slots still available from now on.
func (c *Catalog) LoadAvailableSlots(ctx context.Context, scheduleID string) ([]model.Slot, error) {
	slots, err := c.repo.ListAvailableSlots(ctx, scheduleID, c.now())
	if err != nil {
		return nil, fmt.Errorf("load slots for %s: %w", scheduleID, err)
	}
	return slots, nil
}

// LoadPatients returns the patients owned by a responsible party.
func (c *Catalog) LoadPatients(ctx context.Context, responsibleID string) ([]model.Person, error) {
	patients, err := c.repo.ListPatients(ctx, responsibleID)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	return patients, nil
}

// Invalidate drops cached candidate sets for the given schedules, or every schedule when none is given.
func (c *Catalog) Invalidate(ctx context.Context, ids ...string) {
	if c.redis == nil {
		return
	}
	if len(ids) == 0 {
		iter := c.redis.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			ids = append(ids, iter.Val()[len(cacheKeyPrefix):])
		}
		if err := iter.Err(); err != nil {
			c.logger.Warn().Err(err).Msg("scan schedule cache")
		}
	}
	for _, id := range ids {
		if err := c.redis.Del(ctx, cacheKeyPrefix+id).Err(); err != nil {
			c.logger.Warn().Err(err).Str("schedule_id", id).Msg("invalidate schedule cache")
		}
	}
}

func (c *Catalog) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Catalog) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}
