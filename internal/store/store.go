// Package store defines the persistence interface for the paper trading
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a record that already
	// exists (e.g. repeated signup).
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrCorrupt signals an invariant violation detected at write time
	// (negative balance or position). This is never a caller error — it
	// means ledger corruption and must not be silently tolerated.
	ErrCorrupt = errors.New("store: ledger invariant violation")
)

// TradeApplication is the complete, pre-validated effect of one executed
// order. A store persists all of it as one atomic unit: the trade record,
// the balance delta, the new position state, and the stats increments. On
// error nothing is applied.
//
// BalanceDelta is applied relatively inside the store's atomic section so
// that credits committed by reward grants or course completions between the
// engine's planning read and the trade write are preserved, never
// overwritten.
type TradeApplication struct {
	Trade         *model.Trade
	BalanceDelta  decimal.Decimal
	NewPosition   model.Position
	RealizedDelta decimal.Decimal // added to UserStats.TotalProfit
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account with its zeroed stats row.
	// Returns ErrAlreadyExists on repeated signup.
	CreateAccount(ctx context.Context, acct *model.Account, stats *model.UserStats) error

	// GetAccount retrieves an account by user ID.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// --- Trade application & queries ---

	// ApplyTrade atomically persists a trade application: relative balance
	// update, position upsert, immutable trade record, stats increments.
	// Returns the committed balance. A debit that would overdraw the
	// account fails with ledger.ErrInsufficientBalance. All-or-nothing;
	// a failed call leaves no partial state.
	ApplyTrade(ctx context.Context, app *TradeApplication) (decimal.Decimal, error)

	// GetTradesByUser returns a user's trades in execution order.
	GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// GetPosition returns one position, or ErrNotFound if the user never
	// traded the instrument.
	GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error)

	// GetUserPositions returns all of a user's positions.
	GetUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Statistics ---

	// GetUserStats returns the running statistics for a user.
	GetUserStats(ctx context.Context, userID string) (*model.UserStats, error)

	// RecordLogin applies the login-streak rule at the given instant:
	// consecutive calendar day extends the streak, a gap resets it to 1,
	// a repeat login on the same day changes nothing.
	RecordLogin(ctx context.Context, userID string, at time.Time) (*model.UserStats, error)

	// CompleteCourse records a course completion and credits the fixed
	// XP/currency rewards, at most once per (user, course). Returns false
	// when the completion was already recorded.
	CompleteCourse(ctx context.Context, userID, courseID string, xpReward int64, currencyReward decimal.Decimal) (bool, error)

	// --- Achievements ---

	// SeedAchievementDefinitions installs the static catalogue, skipping
	// definitions that already exist.
	SeedAchievementDefinitions(ctx context.Context, defs []model.AchievementDefinition) error

	// ListAchievementDefinitions returns the full catalogue.
	ListAchievementDefinitions(ctx context.Context) ([]model.AchievementDefinition, error)

	// ListGrants returns a user's unlocked achievements.
	ListGrants(ctx context.Context, userID string) ([]model.AchievementGrant, error)

	// GrantAchievement inserts the grant if absent and, in the same atomic
	// unit, credits the XP and currency rewards. Returns false with no
	// error when the grant already existed — duplicate and concurrent
	// attempts are no-op successes, never double credits.
	GrantAchievement(ctx context.Context, grant *model.AchievementGrant, xpReward int64, currencyReward decimal.Decimal) (bool, error)
}
