// Package reward grants milestone rewards exactly once per
// (user, achievement) pair. Granting is safe under repeated or concurrent
// evaluation: the store's insert-if-absent primitive absorbs duplicates as
// no-op successes.
package reward

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cryptoedu/paper-engine/internal/metrics"
	"github.com/cryptoedu/paper-engine/internal/milestone"
	"github.com/cryptoedu/paper-engine/internal/model"
	"github.com/cryptoedu/paper-engine/internal/store"
)

// ErrUnknownAchievement is returned when the achievement ID does not exist
// in the catalogue.
var ErrUnknownAchievement = fmt.Errorf("reward: unknown achievement")

// Engine performs once-only reward grants. The XP and currency credits and
// the grant record commit as one atomic unit in the store.
type Engine struct {
	store   store.Store
	tracker *milestone.Tracker

	// onGrant, when set, is invoked after each fresh grant (used for
	// WebSocket broadcasts). Never invoked for duplicate attempts.
	onGrant func(userID string, def model.AchievementDefinition)
}

// NewEngine creates a reward engine over the given store and tracker.
func NewEngine(st store.Store, tracker *milestone.Tracker) *Engine {
	return &Engine{store: st, tracker: tracker}
}

// OnGrant registers a callback fired once per fresh grant.
func (e *Engine) OnGrant(fn func(userID string, def model.AchievementDefinition)) {
	e.onGrant = fn
}

// GrantIfUngranted attempts the one-time grant for (userID, achievementID).
// Returns granted=false with no error when the grant already exists; the
// duplicate attempt is a success, not a failure.
func (e *Engine) GrantIfUngranted(ctx context.Context, userID, achievementID string) (bool, error) {
	def, err := e.lookupDefinition(ctx, achievementID)
	if err != nil {
		return false, err
	}
	return e.grant(ctx, userID, def)
}

// EvaluateAndGrant runs the full milestone → reward pipeline for a user:
// evaluate candidates, grant each at most once, and re-evaluate, since an
// XP credit from a grant can itself qualify a further xp-type achievement.
// Returns the definitions freshly granted in this call.
func (e *Engine) EvaluateAndGrant(ctx context.Context, userID string) ([]model.AchievementDefinition, error) {
	defs, err := e.store.ListAchievementDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reward pipeline: %w", err)
	}

	var grantedDefs []model.AchievementDefinition

	// Each pass grants at least one new achievement or stops, so the
	// catalogue size bounds the loop.
	for pass := 0; pass <= len(defs); pass++ {
		candidates, err := e.tracker.EvaluateMilestones(ctx, userID)
		if err != nil {
			return grantedDefs, err
		}

		progressed := false
		for _, def := range candidates {
			granted, err := e.grant(ctx, userID, def)
			if err != nil {
				return grantedDefs, err
			}
			if granted {
				grantedDefs = append(grantedDefs, def)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return grantedDefs, nil
}

func (e *Engine) grant(ctx context.Context, userID string, def model.AchievementDefinition) (bool, error) {
	grant := &model.AchievementGrant{
		ID:            uuid.New().String(),
		UserID:        userID,
		AchievementID: def.ID,
		GrantedAt:     time.Now().UTC(),
	}

	granted, err := e.store.GrantAchievement(ctx, grant, def.XPReward, def.CurrencyReward)
	if err != nil {
		return false, fmt.Errorf("grant %s to %s: %w", def.ID, userID, err)
	}
	if !granted {
		return false, nil
	}

	metrics.AchievementsGranted.WithLabelValues(def.RequirementType).Inc()
	slog.Info("achievement granted",
		"user", userID,
		"achievement", def.ID,
		"xp", def.XPReward,
		"currency", def.CurrencyReward.String(),
	)

	if e.onGrant != nil {
		e.onGrant(userID, def)
	}
	return true, nil
}

func (e *Engine) lookupDefinition(ctx context.Context, achievementID string) (model.AchievementDefinition, error) {
	defs, err := e.store.ListAchievementDefinitions(ctx)
	if err != nil {
		return model.AchievementDefinition{}, err
	}
	for _, def := range defs {
		if def.ID == achievementID {
			return def, nil
		}
	}
	return model.AchievementDefinition{}, fmt.Errorf("%w: %s", ErrUnknownAchievement, achievementID)
}
