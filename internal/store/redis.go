package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for accounts, positions, and stats. Writes go to the primary store
// and invalidate the affected user's cache entries; reads check Redis first
// then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Writes (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account, stats *model.UserStats) error {
	if err := s.primary.CreateAccount(ctx, acct, stats); err != nil {
		return err
	}
	s.invalidateUser(ctx, acct.UserID)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, app *TradeApplication) (decimal.Decimal, error) {
	balance, err := s.primary.ApplyTrade(ctx, app)
	if err != nil {
		return decimal.Decimal{}, err
	}
	s.invalidateUser(ctx, app.Trade.UserID)
	return balance, nil
}

func (s *CachedStore) RecordLogin(ctx context.Context, userID string, at time.Time) (*model.UserStats, error) {
	st, err := s.primary.RecordLogin(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	s.invalidateUser(ctx, userID)
	return st, nil
}

func (s *CachedStore) CompleteCourse(ctx context.Context, userID, courseID string, xpReward int64, currencyReward decimal.Decimal) (bool, error) {
	completed, err := s.primary.CompleteCourse(ctx, userID, courseID, xpReward, currencyReward)
	if err != nil {
		return false, err
	}
	if completed {
		s.invalidateUser(ctx, userID)
	}
	return completed, nil
}

func (s *CachedStore) GrantAchievement(ctx context.Context, grant *model.AchievementGrant, xpReward int64, currencyReward decimal.Decimal) (bool, error) {
	granted, err := s.primary.GrantAchievement(ctx, grant, xpReward, currencyReward)
	if err != nil {
		return false, err
	}
	if granted {
		s.invalidateUser(ctx, grant.UserID)
	}
	return granted, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(userID), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	data, err := s.rdb.Get(ctx, statsKey(userID)).Bytes()
	if err == nil {
		var st model.UserStats
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetUserStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, statsKey(userID), data, s.ttl)
	}
	return st, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.GetTradesByUser(ctx, userID)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, symbol)
}

func (s *CachedStore) SeedAchievementDefinitions(ctx context.Context, defs []model.AchievementDefinition) error {
	return s.primary.SeedAchievementDefinitions(ctx, defs)
}

func (s *CachedStore) ListAchievementDefinitions(ctx context.Context) ([]model.AchievementDefinition, error) {
	return s.primary.ListAchievementDefinitions(ctx)
}

func (s *CachedStore) ListGrants(ctx context.Context, userID string) ([]model.AchievementGrant, error) {
	return s.primary.ListGrants(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) invalidateUser(ctx context.Context, userID string) {
	s.rdb.Del(ctx, accountKey(userID), positionsKey(userID), statsKey(userID))
}

func accountKey(uid string) string   { return "account:" + uid }
func positionsKey(uid string) string { return "positions:" + uid }
func statsKey(uid string) string     { return "stats:" + uid }
