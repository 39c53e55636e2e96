package models

import (
	"time"
)

// StrategyKind selects which bonus calculator governs a period.
type StrategyKind string

const (
	StrategyMilestoneQuest   StrategyKind = "milestone_quest"
	StrategyRevenueShare     StrategyKind = "revenue_share"
	StrategyGrowthMultiplier StrategyKind = "growth_multiplier"
	StrategyTeamVolume       StrategyKind = "team_volume"
)

// KnownStrategies lists every strategy kind a period may be created with.
var KnownStrategies = []StrategyKind{
	StrategyMilestoneQuest,
	StrategyRevenueShare,
	StrategyGrowthMultiplier,
	StrategyTeamVolume,
}

type PeriodStatus string

const (
	PeriodDraft     PeriodStatus = "draft"
	PeriodActive    PeriodStatus = "active"
	PeriodCompleted PeriodStatus = "completed"
)

type ResetMode string

const (
	ResetManual        ResetMode = "manual"
	ResetScheduled     ResetMode = "scheduled"
	ResetRollingExpiry ResetMode = "rolling_expiry"
)

// GrowthTier maps an active-referral count threshold to a points multiplier.
type GrowthTier struct {
	Referrals  int     `json:"referrals"`
	Multiplier float64 `json:"multiplier"`
}

// ActiveDefinition decides when a referral counts as "active" for
// growth_multiplier tier selection.
type ActiveDefinition struct {
	BetWithinDays     int     `json:"bet_within_days"`
	MinLifetimeVolume float64 `json:"min_lifetime_volume"`
}

type GrowthMultiplierConfig struct {
	Tiers            []GrowthTier     `json:"tiers"` // ascending by Referrals
	ActiveDefinition ActiveDefinition `json:"active_definition"`
}

type RevenueShareConfig struct {
	SharePercentage float64 `json:"share_percentage"`
	MaxPerReferral  int64   `json:"max_per_referral,omitempty"`  // 0 = uncapped
	DurationDays    int     `json:"duration_days,omitempty"`     // 0 = lifetime
	MaxMonthlyTotal int64   `json:"max_monthly_total,omitempty"` // 0 = uncapped
}

// Milestone is a single volume-threshold quest step. Volume 0 means
// "link created" and is satisfiable as soon as the link exists.
type Milestone struct {
	Volume float64 `json:"volume"`
	Reward int64   `json:"reward"`
	Label  string  `json:"label"`
}

type MilestoneQuestConfig struct {
	ReferrerMilestones []Milestone `json:"referrer_milestones"` // ascending by Volume
	RefereeMilestones  []Milestone `json:"referee_milestones"`  // ascending by Volume
}

// TeamTier maps a summed team-volume threshold to a points multiplier.
type TeamTier struct {
	Volume     float64 `json:"volume"`
	Multiplier float64 `json:"multiplier"`
}

type TeamVolumeConfig struct {
	TeamTiers      []TeamTier `json:"team_tiers"` // ascending by Volume
	ResetFrequency string     `json:"reset_frequency"` // "weekly" or "monthly"
}

// StrategyConfig carries the parameters for exactly one strategy kind; the
// sub-config matching the period's Strategy must be set, the others nil.
type StrategyConfig struct {
	GrowthMultiplier *GrowthMultiplierConfig `json:"growth_multiplier,omitempty"`
	RevenueShare     *RevenueShareConfig     `json:"revenue_share,omitempty"`
	MilestoneQuest   *MilestoneQuestConfig   `json:"milestone_quest,omitempty"`
	TeamVolume       *TeamVolumeConfig       `json:"team_volume,omitempty"`
}

// ScheduleConfig drives the reset scheduler for scheduled periods.
type ScheduleConfig struct {
	IntervalDays int        `json:"interval_days"`
	NextResetAt  *time.Time `json:"next_reset_at,omitempty"`
}

type RollingExpiryConfig struct {
	WindowDays int `json:"window_days"`
}

type ResetConfig struct {
	Schedule      *ScheduleConfig      `json:"schedule,omitempty"`
	RollingExpiry *RollingExpiryConfig `json:"rolling_expiry,omitempty"`
}

// RefereeBenefits are the perks granted to the referred user themselves.
type RefereeBenefits struct {
	SignupBonus        int64   `json:"signup_bonus"`
	FirstBetMultiplier float64 `json:"first_bet_multiplier"`
	MaxQualifyingStake float64 `json:"max_qualifying_stake"`
}

// ReferralPeriod is a time-boxed window during which one referral strategy is
// in effect. At most one period is active at any time, enforced by a partial
// unique index on status (see Migrate).
type ReferralPeriod struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	Name            string          `json:"name" gorm:"not null"`
	Strategy        StrategyKind    `json:"strategy" gorm:"type:varchar(32);not null"` // immutable after creation
	StrategyConfig  StrategyConfig  `json:"strategy_config" gorm:"serializer:json"`
	ResetMode       ResetMode       `json:"reset_mode" gorm:"type:varchar(16);default:'manual'"`
	ResetConfig     ResetConfig     `json:"reset_config" gorm:"serializer:json"`
	RefereeBenefits RefereeBenefits `json:"referee_benefits" gorm:"serializer:json"`
	Status          PeriodStatus    `json:"status" gorm:"type:varchar(16);default:'draft';index"`
	StartsAt        *time.Time      `json:"starts_at,omitempty"`
	EndsAt          *time.Time      `json:"ends_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`

	Timestamps
}

// ActiveConfig returns the sub-config for the period's declared strategy, or
// nil when the config and strategy kind disagree.
func (p *ReferralPeriod) ActiveConfig() interface{} {
	switch p.Strategy {
	case StrategyGrowthMultiplier:
		if p.StrategyConfig.GrowthMultiplier != nil {
			return p.StrategyConfig.GrowthMultiplier
		}
	case StrategyRevenueShare:
		if p.StrategyConfig.RevenueShare != nil {
			return p.StrategyConfig.RevenueShare
		}
	case StrategyMilestoneQuest:
		if p.StrategyConfig.MilestoneQuest != nil {
			return p.StrategyConfig.MilestoneQuest
		}
	case StrategyTeamVolume:
		if p.StrategyConfig.TeamVolume != nil {
			return p.StrategyConfig.TeamVolume
		}
	}
	return nil
}

// NextResetAt returns the persisted scheduled-reset instant, if any.
func (p *ReferralPeriod) NextResetAt() *time.Time {
	if p.ResetConfig.Schedule == nil {
		return nil
	}
	return p.ResetConfig.Schedule.NextResetAt
}
