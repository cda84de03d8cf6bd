// Package milestone evaluates achievement requirements against a user's
// running statistics. Evaluation is a pure read+compare: it returns
// candidates and never grants anything itself — the reward engine performs
// the actual once-only grant.
package milestone

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/model"
	"github.com/cryptoedu/paper-engine/internal/store"
)

// Progress describes one achievement's state for display: the live
// statistic, the clamped percentage, and the unlock timestamp if granted.
type Progress struct {
	Definition model.AchievementDefinition `json:"definition"`
	Current    decimal.Decimal             `json:"current_value"`
	Percent    int                         `json:"percent"`
	Granted    bool                        `json:"granted"`
	GrantedAt  *time.Time                  `json:"granted_at,omitempty"`
}

// Tracker evaluates milestones against stored statistics.
type Tracker struct {
	store store.Store
}

// NewTracker creates a tracker over the given store.
func NewTracker(st store.Store) *Tracker {
	return &Tracker{store: st}
}

// EvaluateMilestones returns the achievement definitions newly satisfied by
// the user's current statistics — those not yet granted whose live statistic
// has reached the requirement. Calling it repeatedly with unchanged
// statistics returns candidates again until they are granted; it mutates
// nothing.
func (t *Tracker) EvaluateMilestones(ctx context.Context, userID string) ([]model.AchievementDefinition, error) {
	stats, err := t.store.GetUserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("evaluate milestones: %w", err)
	}

	defs, err := t.store.ListAchievementDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate milestones: %w", err)
	}

	granted, err := t.grantedSet(ctx, userID)
	if err != nil {
		return nil, err
	}

	return Qualified(*stats, defs, granted), nil
}

// Report returns display progress for every definition in the catalogue.
func (t *Tracker) Report(ctx context.Context, userID string) ([]Progress, error) {
	stats, err := t.store.GetUserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("milestone report: %w", err)
	}

	defs, err := t.store.ListAchievementDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("milestone report: %w", err)
	}

	grants, err := t.store.ListGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("milestone report: %w", err)
	}

	grantedAt := make(map[string]time.Time, len(grants))
	for _, g := range grants {
		grantedAt[g.AchievementID] = g.GrantedAt
	}

	report := make([]Progress, 0, len(defs))
	for _, def := range defs {
		p := Progress{
			Definition: def,
			Current:    StatValue(*stats, def.RequirementType),
		}
		if at, ok := grantedAt[def.ID]; ok {
			// Unlocked achievements always display as complete, even if
			// the live statistic later regressed below the requirement.
			p.Granted = true
			p.GrantedAt = &at
			p.Percent = 100
			p.Current = def.RequirementValue
		} else {
			p.Percent = PercentComplete(p.Current, def.RequirementValue)
		}
		report = append(report, p)
	}
	return report, nil
}

func (t *Tracker) grantedSet(ctx context.Context, userID string) (map[string]bool, error) {
	grants, err := t.store.ListGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	set := make(map[string]bool, len(grants))
	for _, g := range grants {
		set[g.AchievementID] = true
	}
	return set, nil
}

// Qualified filters the catalogue down to definitions not yet granted whose
// requirement the current statistics satisfy.
func Qualified(stats model.UserStats, defs []model.AchievementDefinition, granted map[string]bool) []model.AchievementDefinition {
	var out []model.AchievementDefinition
	for _, def := range defs {
		if granted[def.ID] {
			continue
		}
		if StatValue(stats, def.RequirementType).GreaterThanOrEqual(def.RequirementValue) {
			out = append(out, def)
		}
	}
	return out
}

// StatValue maps a requirement type to the relevant running statistic.
// Unknown types evaluate to zero and therefore never qualify.
func StatValue(stats model.UserStats, requirementType string) decimal.Decimal {
	switch requirementType {
	case model.RequirementTradeCount:
		return decimal.NewFromInt(stats.TradesCount)
	case model.RequirementStreakCount:
		return decimal.NewFromInt(stats.StreakCount)
	case model.RequirementProfit:
		return stats.TotalProfit
	case model.RequirementXP:
		return decimal.NewFromInt(stats.TotalXP)
	case model.RequirementCoursesCompleted:
		return decimal.NewFromInt(stats.CoursesCompleted)
	default:
		return decimal.Zero
	}
}

// PercentComplete is min(100, round(100*current/target)), floored at zero
// for negative statistics (a losing profit stat shows 0%, not a negative).
func PercentComplete(current, target decimal.Decimal) int {
	if target.LessThanOrEqual(decimal.Zero) {
		return 100
	}
	if current.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	pct := current.Mul(decimal.NewFromInt(100)).Div(target).Round(0).IntPart()
	if pct > 100 {
		return 100
	}
	return int(pct)
}
