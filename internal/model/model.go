// Package model defines the core domain types shared across the paper
// trading engine. All monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Achievement requirement types. The value compared against
// AchievementDefinition.RequirementValue comes from UserStats.
const (
	RequirementTradeCount       = "trade_count"
	RequirementStreakCount      = "streak_count"
	RequirementProfit           = "profit"
	RequirementXP               = "xp"
	RequirementCoursesCompleted = "courses_completed"
)

// Account holds a user's virtual-currency balance. Created once at signup
// with a fixed starting balance; mutated only through trade application and
// reward credits, never deleted.
type Account struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"` // never negative
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's holdings in one instrument.
// AverageCost is meaningful only while Quantity > 0; RealizedPnL accumulates
// across the position's full lifetime, surviving quantity's zero crossings.
type Position struct {
	UserID      string          `json:"user_id" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"` // never negative
	AverageCost decimal.Decimal `json:"average_cost" db:"average_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
}

// Trade is an immutable record of one executed order.
// Once created, these are never modified or deleted; they are the audit
// trail for balance/position reconciliation.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Side        string          `json:"side" db:"side"` // "buy" or "sell"
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`               // per unit, at execution
	Fee         decimal.Decimal `json:"fee" db:"fee"`                   // total * fee rate
	Total       decimal.Decimal `json:"total" db:"total"`               // quantity * price
	TaxEstimate decimal.Decimal `json:"tax_estimate" db:"tax_estimate"` // illustrative, sells only
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// Quote is a volatile price snapshot for one instrument. Never persisted as
// authoritative state; re-fetched per order. Bid and ask are derived from
// the reference price by the configured spread.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Reference decimal.Decimal `json:"reference"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	AsOf      time.Time       `json:"as_of"`
}

// UserStats are the running statistics milestones are evaluated against.
// TotalProfit is cumulative realized P&L across all positions.
type UserStats struct {
	UserID           string          `json:"user_id" db:"user_id"`
	TradesCount      int64           `json:"trades_count" db:"trades_count"`
	TotalProfit      decimal.Decimal `json:"total_profit" db:"total_profit"`
	TotalXP          int64           `json:"total_xp" db:"total_xp"`
	StreakCount      int64           `json:"streak_count" db:"streak_count"`
	CoursesCompleted int64           `json:"courses_completed" db:"courses_completed"`
	LastLoginDate    time.Time       `json:"last_login_date" db:"last_login_date"`
}

// Level derives the display level from accumulated XP (one level per 200 XP).
func (s UserStats) Level() int64 {
	return s.TotalXP/200 + 1
}

// AchievementDefinition is static reference data describing one milestone.
// Reward amounts are explicit per definition — never derived from the ID.
type AchievementDefinition struct {
	ID               string          `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	Description      string          `json:"description" db:"description"`
	RequirementType  string          `json:"requirement_type" db:"requirement_type"`
	RequirementValue decimal.Decimal `json:"requirement_value" db:"requirement_value"`
	XPReward         int64           `json:"xp_reward" db:"xp_reward"`
	CurrencyReward   decimal.Decimal `json:"currency_reward" db:"currency_reward"`
}

// AchievementGrant records a one-time unlock. Unique per
// (UserID, AchievementID) — the invariant that makes granting idempotent.
type AchievementGrant struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	AchievementID string    `json:"achievement_id" db:"achievement_id"`
	GrantedAt     time.Time `json:"granted_at" db:"granted_at"`
}

// PositionView is a position enriched with read-side valuation from the
// live quote. UnrealizedPnL is recomputed on every view, never cached.
type PositionView struct {
	Position
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates an account, its positions, and derived stats.
type Portfolio struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	Positions     []PositionView  `json:"positions"`
	TotalValue    decimal.Decimal `json:"total_value"`    // balance + Σ current values
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"` // Σ per-position
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`   // Σ per-position, lifetime
	Level         int64           `json:"level"`
	TotalXP       int64           `json:"total_xp"`
}
