package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fundnet/fundtrack/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary. Snapshot always reads the
// primary so valuations never mix cached and fresh records.
//
// Every cached key has a version counter. A write bumps it after the
// primary commits, and a miss only fills the cache if the version it saw
// before reading the primary is still current, so a slow reader cannot
// put back a record that a concurrent write already replaced.
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

func (s *CachedStore) UpsertFund(ctx context.Context, f *model.Fund) error {
	if err := s.primary.UpsertFund(ctx, f); err != nil {
		return err
	}
	s.invalidate(ctx, fundKey(f.Code))
	return nil
}

func (s *CachedStore) DeleteFund(ctx context.Context, code string) error {
	if err := s.primary.DeleteFund(ctx, code); err != nil {
		return err
	}
	s.invalidate(ctx, fundKey(code))
	return nil
}

func (s *CachedStore) UpdateFundQuote(ctx context.Context, q model.Quote) error {
	if err := s.primary.UpdateFundQuote(ctx, q); err != nil {
		return err
	}
	s.invalidate(ctx, fundKey(q.Code))
	return nil
}

func (s *CachedStore) CreateGroup(ctx context.Context, g *model.Group) error {
	if err := s.primary.CreateGroup(ctx, g); err != nil {
		return err
	}
	s.invalidate(ctx, groupsKey)
	return nil
}

func (s *CachedStore) UpdateGroup(ctx context.Context, g *model.Group) error {
	if err := s.primary.UpdateGroup(ctx, g); err != nil {
		return err
	}
	s.invalidate(ctx, groupsKey)
	return nil
}

func (s *CachedStore) DeleteGroup(ctx context.Context, id string) error {
	if err := s.primary.DeleteGroup(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, groupsKey)
	return nil
}

func (s *CachedStore) PutSettings(ctx context.Context, settings model.Settings) error {
	if err := s.primary.PutSettings(ctx, settings); err != nil {
		return err
	}
	s.invalidate(ctx, settingsKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetFund(ctx context.Context, code string) (*model.Fund, error) {
	key := fundKey(code)
	var f model.Fund
	if s.load(ctx, key, &f) {
		return &f, nil
	}

	// Cache miss: read from primary.
	ver := s.version(ctx, key)
	fp, err := s.primary.GetFund(ctx, code)
	if err != nil {
		return nil, err
	}
	s.save(ctx, key, ver, fp)
	return fp, nil
}

func (s *CachedStore) ListGroups(ctx context.Context) ([]model.Group, error) {
	var groups []model.Group
	if s.load(ctx, groupsKey, &groups) {
		return groups, nil
	}

	ver := s.version(ctx, groupsKey)
	groups, err := s.primary.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	s.save(ctx, groupsKey, ver, groups)
	return groups, nil
}

func (s *CachedStore) GetSettings(ctx context.Context) (model.Settings, bool, error) {
	var settings model.Settings
	if s.load(ctx, settingsKey, &settings) {
		return settings, true, nil
	}

	ver := s.version(ctx, settingsKey)
	settings, ok, err := s.primary.GetSettings(ctx)
	if err != nil || !ok {
		return settings, ok, err
	}
	s.save(ctx, settingsKey, ver, settings)
	return settings, true, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	return s.primary.ListFunds(ctx)
}

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	return s.primary.CreatePosition(ctx, p)
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	return s.primary.ListPositions(ctx)
}

func (s *CachedStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	return s.primary.UpdatePosition(ctx, p)
}

func (s *CachedStore) DeletePosition(ctx context.Context, id string) error {
	return s.primary.DeletePosition(ctx, id)
}

func (s *CachedStore) InsertEstimate(ctx context.Context, p model.EstimatePoint) error {
	return s.primary.InsertEstimate(ctx, p)
}

func (s *CachedStore) GetEstimateHistory(ctx context.Context, code string, limit int) ([]model.EstimatePoint, error) {
	return s.primary.GetEstimateHistory(ctx, code, limit)
}

func (s *CachedStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	return s.primary.Snapshot(ctx)
}

// --- Cache helpers ---

// load decodes a cached value. Any miss or decode error reads as a miss.
func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return msgpack.Unmarshal(data, dst) == nil
}

// errVersionMoved aborts a cache fill that lost a race with a write.
var errVersionMoved = errors.New("store: cache version moved")

// version returns the current version of key; -1 disables the fill when
// Redis cannot be read.
func (s *CachedStore) version(ctx context.Context, key string) int64 {
	v, err := s.rdb.Get(ctx, versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		return -1
	}
	return v
}

// save caches v under key unless key was invalidated since ver was read.
func (s *CachedStore) save(ctx context.Context, key string, ver int64, v any) {
	if ver < 0 {
		return
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return
	}
	vkey := versionKey(key)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != ver {
			return errVersionMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, vkey)
	if err != nil && !errors.Is(err, errVersionMoved) && !errors.Is(err, redis.TxFailedErr) {
		slog.Debug("cache fill failed", "key", key, "err", err)
	}
}

// invalidate drops key and bumps its version so in-flight fills are
// discarded.
func (s *CachedStore) invalidate(ctx context.Context, key string) {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(key))
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		slog.Warn("cache invalidation failed", "key", key, "err", err)
	}
}

const (
	groupsKey   = "fundtrack:groups"
	settingsKey = "fundtrack:settings"
)

func fundKey(code string) string { return fmt.Sprintf("fundtrack:fund:%s", code) }

func versionKey(key string) string { return key + ":ver" }
