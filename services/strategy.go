package services

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"referral-incentive-engine/models"
)

// CalcContext bundles everything a bonus calculation may read: the referrer's
// links in the period, trading points by referred address, the referrer's own
// trading points, and the milestone keys already present in the ledger.
// Calculators are pure — they never touch the database.
type CalcContext struct {
	Period           *models.ReferralPeriod
	Links            []models.ReferralLink
	TradingPoints    map[string]int64
	OwnTradingPoints int64
	ExistingKeys     map[string]bool
	Now              time.Time
}

// BonusItem is one line of a bonus breakdown. Items carrying a MilestoneKey
// are durable awards that must be persisted at most once; items without a key
// are live period-to-date amounts recomputed on every read.
type BonusItem struct {
	SourceAddress string           `json:"source_address,omitempty"`
	BonusType     models.BonusType `json:"bonus_type"`
	Points        int64            `json:"points"`
	Reason        string           `json:"reason"`
	MilestoneKey  string           `json:"milestone_key,omitempty"`
	Volume        float64          `json:"-"`
}

type BonusResult struct {
	TotalBonus int64       `json:"total_bonus"`
	Breakdown  []BonusItem `json:"breakdown"`
}

// BonusCalculator converts referral state into a bonus amount plus a reason
// trail. One implementation per strategy kind.
type BonusCalculator interface {
	Calculate(ctx CalcContext) (BonusResult, error)
}

// CalculatorFor dispatches on the strategy kind. Adding a strategy means
// adding a case here, a config struct, and a calculator — nothing dynamic.
func CalculatorFor(kind models.StrategyKind) (BonusCalculator, error) {
	switch kind {
	case models.StrategyGrowthMultiplier:
		return growthMultiplierCalculator{}, nil
	case models.StrategyRevenueShare:
		return revenueShareCalculator{}, nil
	case models.StrategyMilestoneQuest:
		return milestoneQuestCalculator{}, nil
	case models.StrategyTeamVolume:
		return teamVolumeCalculator{}, nil
	default:
		return nil, validationf("unknown strategy kind %q", kind)
	}
}

// ValidateStrategyConfig checks that the config structurally matches the
// declared strategy kind and that its parameters are in range.
func ValidateStrategyConfig(kind models.StrategyKind, cfg models.StrategyConfig) error {
	switch kind {
	case models.StrategyGrowthMultiplier:
		c := cfg.GrowthMultiplier
		if c == nil {
			return validationf("strategy %s requires growth_multiplier config", kind)
		}
		if len(c.Tiers) == 0 {
			return validationf("growth_multiplier requires at least one tier")
		}
		prev := -1
		for _, t := range c.Tiers {
			if t.Referrals <= prev {
				return validationf("growth_multiplier tiers must be ascending by referrals")
			}
			if t.Multiplier < 1 {
				return validationf("growth_multiplier tier multiplier must be >= 1")
			}
			prev = t.Referrals
		}
		if c.ActiveDefinition.BetWithinDays <= 0 {
			return validationf("growth_multiplier active_definition.bet_within_days must be > 0")
		}
	case models.StrategyRevenueShare:
		c := cfg.RevenueShare
		if c == nil {
			return validationf("strategy %s requires revenue_share config", kind)
		}
		if c.SharePercentage <= 0 || c.SharePercentage > 100 {
			return validationf("revenue_share share_percentage must be in (0,100]")
		}
		if c.MaxPerReferral < 0 || c.MaxMonthlyTotal < 0 || c.DurationDays < 0 {
			return validationf("revenue_share caps and duration must be >= 0")
		}
	case models.StrategyMilestoneQuest:
		c := cfg.MilestoneQuest
		if c == nil {
			return validationf("strategy %s requires milestone_quest config", kind)
		}
		if len(c.ReferrerMilestones) == 0 && len(c.RefereeMilestones) == 0 {
			return validationf("milestone_quest requires at least one milestone")
		}
		for _, ms := range [][]models.Milestone{c.ReferrerMilestones, c.RefereeMilestones} {
			prev := -1.0
			for _, m := range ms {
				if m.Volume < 0 {
					return validationf("milestone volume must be >= 0")
				}
				if m.Volume <= prev && prev >= 0 {
					return validationf("milestones must be ascending by volume")
				}
				if m.Reward < 0 {
					return validationf("milestone reward must be >= 0")
				}
				prev = m.Volume
			}
		}
	case models.StrategyTeamVolume:
		c := cfg.TeamVolume
		if c == nil {
			return validationf("strategy %s requires team_volume config", kind)
		}
		if len(c.TeamTiers) == 0 {
			return validationf("team_volume requires at least one tier")
		}
		prev := -1.0
		for _, t := range c.TeamTiers {
			if t.Volume < 0 {
				return validationf("team_volume tier volume must be >= 0")
			}
			if t.Volume <= prev && prev >= 0 {
				return validationf("team_volume tiers must be ascending by volume")
			}
			if t.Multiplier < 1 {
				return validationf("team_volume tier multiplier must be >= 1")
			}
			prev = t.Volume
		}
		if c.ResetFrequency != "weekly" && c.ResetFrequency != "monthly" {
			return validationf("team_volume reset_frequency must be weekly or monthly")
		}
	default:
		return validationf("unknown strategy kind %q", kind)
	}
	return nil
}

// growthMultiplierCalculator scales the referrer's own trading points by the
// highest tier whose active-referral count threshold is met. The bonus is the
// increment above baseline: own * (multiplier - 1).
type growthMultiplierCalculator struct{}

func (growthMultiplierCalculator) Calculate(ctx CalcContext) (BonusResult, error) {
	if len(ctx.Links) == 0 {
		return BonusResult{}, nil
	}
	cfg := ctx.Period.StrategyConfig.GrowthMultiplier
	if cfg == nil {
		return BonusResult{}, validationf("period %d has no growth_multiplier config", ctx.Period.ID)
	}

	active := 0
	for i := range ctx.Links {
		l := &ctx.Links[i]
		if l.BetWithin(cfg.ActiveDefinition.BetWithinDays, ctx.Now) &&
			l.LifetimeVolume >= cfg.ActiveDefinition.MinLifetimeVolume {
			active++
		}
	}

	multiplier, tierIdx := 1.0, -1
	for i, t := range cfg.Tiers { // ascending: last satisfied wins
		if active >= t.Referrals {
			multiplier = t.Multiplier
			tierIdx = i
		}
	}
	if tierIdx < 0 || multiplier <= 1 {
		return BonusResult{}, nil
	}

	bonus := scalePoints(ctx.OwnTradingPoints, multiplier)
	if bonus <= 0 {
		return BonusResult{}, nil
	}
	item := BonusItem{
		BonusType: models.BonusGrowthMultiplier,
		Points:    bonus,
		Reason: fmt.Sprintf("tier %d (%d active referrals) x%.2f on %d own points",
			tierIdx+1, active, multiplier, ctx.OwnTradingPoints),
	}
	return BonusResult{TotalBonus: bonus, Breakdown: []BonusItem{item}}, nil
}

// revenueShareCalculator shares a percentage of each referred user's trading
// points with the referrer, capped per link and period-to-date.
type revenueShareCalculator struct{}

func (revenueShareCalculator) Calculate(ctx CalcContext) (BonusResult, error) {
	if len(ctx.Links) == 0 {
		return BonusResult{}, nil
	}
	cfg := ctx.Period.StrategyConfig.RevenueShare
	if cfg == nil {
		return BonusResult{}, validationf("period %d has no revenue_share config", ctx.Period.ID)
	}

	var result BonusResult
	for i := range ctx.Links {
		l := &ctx.Links[i]
		if cfg.DurationDays > 0 && ctx.Now.After(l.LinkedAt.AddDate(0, 0, cfg.DurationDays)) {
			continue // share window for this link has lapsed
		}
		share := int64(math.Floor(float64(ctx.TradingPoints[l.ReferredAddress]) * cfg.SharePercentage / 100))
		if share <= 0 {
			continue
		}
		if cfg.MaxPerReferral > 0 && share > cfg.MaxPerReferral {
			share = cfg.MaxPerReferral
		}
		result.Breakdown = append(result.Breakdown, BonusItem{
			SourceAddress: l.ReferredAddress,
			BonusType:     models.BonusRevenueShare,
			Points:        share,
			Reason: fmt.Sprintf("%.1f%% of %d trading points from %s",
				cfg.SharePercentage, ctx.TradingPoints[l.ReferredAddress], l.ReferredAddress),
		})
		result.TotalBonus += share
	}

	if cfg.MaxMonthlyTotal > 0 && result.TotalBonus > cfg.MaxMonthlyTotal {
		// Truncate the breakdown against the period-to-date cap, in order.
		budget := cfg.MaxMonthlyTotal
		capped := result.Breakdown[:0]
		for _, item := range result.Breakdown {
			if budget <= 0 {
				break
			}
			if item.Points > budget {
				item.Points = budget
				item.Reason += " (capped)"
			}
			budget -= item.Points
			capped = append(capped, item)
		}
		result.Breakdown = capped
		result.TotalBonus = cfg.MaxMonthlyTotal
	}
	return result, nil
}

// milestoneQuestCalculator walks both milestone tracks per link against the
// link's lifetime volume and emits a durable award for every threshold that
// is met but not yet in the ledger. A zero-volume milestone is the "link
// created" event. This is the only strategy that writes ledger rows during
// computation, so it is the only one consulting ExistingKeys.
type milestoneQuestCalculator struct{}

func (milestoneQuestCalculator) Calculate(ctx CalcContext) (BonusResult, error) {
	if len(ctx.Links) == 0 {
		return BonusResult{}, nil
	}
	cfg := ctx.Period.StrategyConfig.MilestoneQuest
	if cfg == nil {
		return BonusResult{}, validationf("period %d has no milestone_quest config", ctx.Period.ID)
	}

	var result BonusResult
	for i := range ctx.Links {
		l := &ctx.Links[i]
		result.append(walkMilestones("referrer", l, cfg.ReferrerMilestones, ctx.ExistingKeys))
		result.append(walkMilestones("referee", l, cfg.RefereeMilestones, ctx.ExistingKeys))
	}
	return result, nil
}

func walkMilestones(direction string, l *models.ReferralLink, milestones []models.Milestone, existing map[string]bool) []BonusItem {
	var items []BonusItem
	for _, m := range milestones {
		if l.LifetimeVolume < m.Volume {
			break // ascending order: nothing further is met
		}
		key := MilestoneKey(direction, l.ID, m.Volume)
		if existing[key] {
			continue
		}
		items = append(items, BonusItem{
			SourceAddress: l.ReferredAddress,
			BonusType:     models.BonusMilestone,
			Points:        m.Reward,
			Reason:        fmt.Sprintf("%s milestone %q at volume %s", direction, m.Label, formatVolume(m.Volume)),
			MilestoneKey:  key,
			Volume:        m.Volume,
		})
	}
	return items
}

// MilestoneKey builds the deterministic at-most-once key for one achievement.
func MilestoneKey(direction string, linkID uint, volume float64) string {
	return fmt.Sprintf("%s:%d:%s", direction, linkID, formatVolume(volume))
}

func formatVolume(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// teamVolumeCalculator sums referred volume across links falling in the
// current weekly/monthly window and scales the referrer's own points by the
// highest satisfied tier — growth_multiplier mechanics, volume-keyed and
// windowed.
type teamVolumeCalculator struct{}

func (teamVolumeCalculator) Calculate(ctx CalcContext) (BonusResult, error) {
	if len(ctx.Links) == 0 {
		return BonusResult{}, nil
	}
	cfg := ctx.Period.StrategyConfig.TeamVolume
	if cfg == nil {
		return BonusResult{}, validationf("period %d has no team_volume config", ctx.Period.ID)
	}

	windowStart := windowStartFor(cfg.ResetFrequency, ctx.Now)
	var teamVolume float64
	counted := 0
	for i := range ctx.Links {
		l := &ctx.Links[i]
		inWindow := !l.LinkedAt.Before(windowStart) ||
			(l.LastBetAt != nil && !l.LastBetAt.Before(windowStart))
		if !inWindow {
			continue
		}
		teamVolume += l.LifetimeVolume
		counted++
	}

	multiplier, tierIdx := 1.0, -1
	for i, t := range cfg.TeamTiers {
		if teamVolume >= t.Volume {
			multiplier = t.Multiplier
			tierIdx = i
		}
	}
	if tierIdx < 0 || multiplier <= 1 {
		return BonusResult{}, nil
	}

	bonus := scalePoints(ctx.OwnTradingPoints, multiplier)
	if bonus <= 0 {
		return BonusResult{}, nil
	}
	item := BonusItem{
		BonusType: models.BonusTeamVolume,
		Points:    bonus,
		Reason: fmt.Sprintf("tier %d (%s team volume, %d links this %s) x%.2f on %d own points",
			tierIdx+1, formatVolume(teamVolume), counted, cfg.ResetFrequency, multiplier, ctx.OwnTradingPoints),
	}
	return BonusResult{TotalBonus: bonus, Breakdown: []BonusItem{item}}, nil
}

// windowStartFor returns the start of the current weekly (Monday 00:00 UTC)
// or monthly window.
func windowStartFor(frequency string, now time.Time) time.Time {
	now = now.UTC()
	if frequency == "monthly" {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // days since Monday
	return day.AddDate(0, 0, -offset)
}

// scalePoints returns the incremental amount above baseline, floored at zero.
func scalePoints(points int64, multiplier float64) int64 {
	if points <= 0 || multiplier <= 1 {
		return 0
	}
	return int64(math.Floor(float64(points) * (multiplier - 1)))
}

func (r *BonusResult) append(items []BonusItem) {
	for _, item := range items {
		r.Breakdown = append(r.Breakdown, item)
		r.TotalBonus += item.Points
	}
}
