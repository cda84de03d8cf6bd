package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/ledger"
	"github.com/cryptoedu/paper-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	positions map[string]map[string]*model.Position // userID → symbol → position
	trades    []model.Trade
	stats     map[string]*model.UserStats
	defs      []model.AchievementDefinition
	grants    map[string]map[string]model.AchievementGrant // userID → achievementID
	courses   map[string]map[string]bool                   // userID → courseID

	// FailNextApply, when set, makes the next ApplyTrade return the error
	// without touching any state. Test seam for atomicity-under-failure.
	FailNextApply error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]map[string]*model.Position),
		stats:     make(map[string]*model.UserStats),
		grants:    make(map[string]map[string]model.AchievementGrant),
		courses:   make(map[string]map[string]bool),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account, stats *model.UserStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.UserID]; ok {
		return fmt.Errorf("account %s: %w", acct.UserID, ErrAlreadyExists)
	}

	a := *acct
	st := *stats
	s.accounts[acct.UserID] = &a
	s.stats[acct.UserID] = &st
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, app *TradeApplication) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextApply != nil {
		err := s.FailNextApply
		s.FailNextApply = nil
		return decimal.Decimal{}, err
	}

	userID := app.Trade.UserID
	acct, ok := s.accounts[userID]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}

	// Re-check the debit against the live balance: the engine planned
	// against a snapshot and credits may have landed since.
	newBalance := acct.Balance.Add(app.BalanceDelta)
	if newBalance.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("apply trade for %s: %w", userID, ledger.ErrInsufficientBalance)
	}

	// Invariant check before any mutation.
	if app.NewPosition.Quantity.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: user %s qty %s", ErrCorrupt,
			userID, app.NewPosition.Quantity)
	}

	acct.Balance = newBalance

	bysym, ok := s.positions[userID]
	if !ok {
		bysym = make(map[string]*model.Position)
		s.positions[userID] = bysym
	}
	pos := app.NewPosition
	bysym[pos.Symbol] = &pos

	s.trades = append(s.trades, *app.Trade)

	st := s.statsLocked(userID)
	st.TradesCount++
	st.TotalProfit = st.TotalProfit.Add(app.RealizedDelta)
	return newBalance, nil
}

func (s *MemoryStore) GetTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[userID][symbol]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", userID, symbol, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions[userID] {
		positions = append(positions, *p)
	}
	return positions, nil
}

func (s *MemoryStore) GetUserStats(_ context.Context, userID string) (*model.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[userID]
	if !ok {
		return nil, fmt.Errorf("stats %s: %w", userID, ErrNotFound)
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) RecordLogin(_ context.Context, userID string, at time.Time) (*model.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[userID]
	if !ok {
		return nil, fmt.Errorf("stats %s: %w", userID, ErrNotFound)
	}

	st.StreakCount = nextStreak(st.StreakCount, st.LastLoginDate, at)
	st.LastLoginDate = at
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) CompleteCourse(_ context.Context, userID, courseID string, xpReward int64, currencyReward decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return false, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}

	done, ok := s.courses[userID]
	if !ok {
		done = make(map[string]bool)
		s.courses[userID] = done
	}
	if done[courseID] {
		return false, nil
	}
	done[courseID] = true

	st := s.statsLocked(userID)
	st.CoursesCompleted++
	st.TotalXP += xpReward
	acct.Balance = acct.Balance.Add(currencyReward)
	return true, nil
}

func (s *MemoryStore) SeedAchievementDefinitions(_ context.Context, defs []model.AchievementDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]bool, len(s.defs))
	for _, def := range s.defs {
		existing[def.ID] = true
	}
	for _, def := range defs {
		if !existing[def.ID] {
			s.defs = append(s.defs, def)
		}
	}
	return nil
}

func (s *MemoryStore) ListAchievementDefinitions(_ context.Context) ([]model.AchievementDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]model.AchievementDefinition, len(s.defs))
	copy(defs, s.defs)
	return defs, nil
}

func (s *MemoryStore) ListGrants(_ context.Context, userID string) ([]model.AchievementGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grants []model.AchievementGrant
	for _, g := range s.grants[userID] {
		grants = append(grants, g)
	}
	return grants, nil
}

func (s *MemoryStore) GrantAchievement(_ context.Context, grant *model.AchievementGrant, xpReward int64, currencyReward decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[grant.UserID]
	if !ok {
		return false, fmt.Errorf("account %s: %w", grant.UserID, ErrNotFound)
	}

	byID, ok := s.grants[grant.UserID]
	if !ok {
		byID = make(map[string]model.AchievementGrant)
		s.grants[grant.UserID] = byID
	}
	if _, exists := byID[grant.AchievementID]; exists {
		// Already granted: no-op success, no double credit.
		return false, nil
	}

	byID[grant.AchievementID] = *grant
	st := s.statsLocked(grant.UserID)
	st.TotalXP += xpReward
	acct.Balance = acct.Balance.Add(currencyReward)
	return true, nil
}

// statsLocked returns the stats row, creating a zeroed one if missing.
// Caller must hold s.mu.
func (s *MemoryStore) statsLocked(userID string) *model.UserStats {
	st, ok := s.stats[userID]
	if !ok {
		st = &model.UserStats{UserID: userID, TotalProfit: decimal.Zero}
		s.stats[userID] = st
	}
	return st
}

// nextStreak applies the login-streak rule using UTC calendar dates.
func nextStreak(current int64, lastLogin, now time.Time) int64 {
	if lastLogin.IsZero() {
		return 1
	}
	lastDay := lastLogin.UTC().Truncate(24 * time.Hour)
	today := now.UTC().Truncate(24 * time.Hour)

	switch {
	case lastDay.Equal(today):
		return max(current, 1) // same-day repeat login
	case today.Sub(lastDay) == 24*time.Hour:
		return current + 1
	default:
		return 1
	}
}
