package merchant

// PlanConfig defines limits for a pricing tier.
type PlanConfig struct {
	Plan              Plan
	RateLimitRPM      int
	MonthlyEventQuota int64 // 0 = unlimited
	RiskScoring       bool
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Plan]PlanConfig{
	PlanFree: {
		Plan:              PlanFree,
		RateLimitRPM:      60,
		MonthlyEventQuota: 10_000,
		RiskScoring:       false,
	},
	PlanStarter: {
		Plan:              PlanStarter,
		RateLimitRPM:      300,
		MonthlyEventQuota: 100_000,
		RiskScoring:       true,
	},
	PlanGrowth: {
		Plan:              PlanGrowth,
		RateLimitRPM:      1000,
		MonthlyEventQuota: 1_000_000,
		RiskScoring:       true,
	},
	PlanEnterprise: {
		Plan:              PlanEnterprise,
		RateLimitRPM:      5000,
		MonthlyEventQuota: 0,
		RiskScoring:       true,
	},
}

// DefaultSettingsForPlan returns the Settings populated from a plan's defaults.
func DefaultSettingsForPlan(p Plan) Settings {
	cfg, ok := Plans[p]
	if !ok {
		cfg = Plans[PlanFree]
	}
	return Settings{
		RateLimitRPM:      cfg.RateLimitRPM,
		MonthlyEventQuota: cfg.MonthlyEventQuota,
		RiskScoring:       cfg.RiskScoring,
	}
}

// ValidPlan returns true if the plan name is recognised.
func ValidPlan(p Plan) bool {
	_, ok := Plans[p]
	return ok
}
