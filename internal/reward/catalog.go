package reward

import (
	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/model"
)

// DefaultCatalogue is the built-in achievement reference data, seeded at
// startup. Reward amounts are explicit per definition.
func DefaultCatalogue() []model.AchievementDefinition {
	return []model.AchievementDefinition{
		{
			ID:               "first-trade",
			Name:             "First Trade",
			Description:      "You made your very first trade!",
			RequirementType:  model.RequirementTradeCount,
			RequirementValue: decimal.NewFromInt(1),
			XPReward:         400,
			CurrencyReward:   decimal.NewFromInt(25000),
		},
		{
			ID:               "streak-started",
			Name:             "Streak Started",
			Description:      "Logged in 3 days in a row.",
			RequirementType:  model.RequirementStreakCount,
			RequirementValue: decimal.NewFromInt(3),
			XPReward:         400,
			CurrencyReward:   decimal.NewFromInt(40000),
		},
		{
			ID:               "beginner-trader",
			Name:             "Beginner Trader",
			Description:      "Earned 1,000 total profit!",
			RequirementType:  model.RequirementProfit,
			RequirementValue: decimal.NewFromInt(1000),
			XPReward:         400,
			CurrencyReward:   decimal.NewFromInt(25000),
		},
		{
			ID:               "novice-trader",
			Name:             "Novice Trader",
			Description:      "Earned 5,000 total profit!",
			RequirementType:  model.RequirementProfit,
			RequirementValue: decimal.NewFromInt(5000),
			XPReward:         400,
			CurrencyReward:   decimal.NewFromInt(40000),
		},
		{
			ID:               "advanced-trader",
			Name:             "Advanced Trader",
			Description:      "Earned 10,000 total profit!",
			RequirementType:  model.RequirementProfit,
			RequirementValue: decimal.NewFromInt(10000),
			XPReward:         400,
			CurrencyReward:   decimal.NewFromInt(25000),
		},
		{
			ID:               "quick-learner",
			Name:             "Quick Learner",
			Description:      "Completed your first course.",
			RequirementType:  model.RequirementCoursesCompleted,
			RequirementValue: decimal.NewFromInt(1),
			XPReward:         400,
			CurrencyReward:   decimal.NewFromInt(25000),
		},
		{
			ID:               "scholar",
			Name:             "Scholar",
			Description:      "Completed 3 courses.",
			RequirementType:  model.RequirementCoursesCompleted,
			RequirementValue: decimal.NewFromInt(3),
			XPReward:         400,
			CurrencyReward:   decimal.NewFromInt(40000),
		},
		{
			ID:               "xp-collector",
			Name:             "XP Collector",
			Description:      "Accumulated 2,000 XP.",
			RequirementType:  model.RequirementXP,
			RequirementValue: decimal.NewFromInt(2000),
			XPReward:         400,
			CurrencyReward:   decimal.NewFromInt(25000),
		},
	}
}
