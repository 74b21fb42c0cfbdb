package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openrating/waterfall/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary. Only finished runs are
// cached, since a pending run is about to change.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateRun(ctx context.Context, r *model.Run) error {
	return s.primary.CreateRun(ctx, r)
}

func (s *CachedStore) CompleteRun(ctx context.Context, id string, summary *model.RunSummary) error {
	if err := s.primary.CompleteRun(ctx, id, summary); err != nil {
		return err
	}
	s.rdb.Del(ctx, runKey(id))
	return nil
}

func (s *CachedStore) FailRun(ctx context.Context, id string, reason string) error {
	if err := s.primary.FailRun(ctx, id, reason); err != nil {
		return err
	}
	s.rdb.Del(ctx, runKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	data, err := s.rdb.Get(ctx, runKey(id)).Bytes()
	if err == nil {
		var r model.Run
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.Status != model.RunPending {
		s.cacheRun(ctx, r)
	}
	return r, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRuns(ctx context.Context) ([]model.Run, error) {
	return s.primary.ListRuns(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheRun(ctx context.Context, r *model.Run) {
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, runKey(r.ID), data, s.ttl)
	}
}

func runKey(id string) string { return fmt.Sprintf("run:%s", id) }
