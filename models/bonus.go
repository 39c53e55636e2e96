package models

import "time"

type BonusType string

const (
	BonusMilestone        BonusType = "milestone"
	BonusRevenueShare     BonusType = "revenue_share"
	BonusGrowthMultiplier BonusType = "growth_multiplier"
	BonusTeamVolume       BonusType = "team_volume"
)

// BonusMetadata is the strategy-specific payload attached to a ledger row.
type BonusMetadata struct {
	MilestoneKey string  `json:"milestone_key,omitempty"`
	Label        string  `json:"label,omitempty"`
	Volume       float64 `json:"volume,omitempty"`
}

// ReferralBonus is one awarded increment of points. Rows are append-only:
// never updated, never deleted. MilestoneKey is promoted out of the metadata
// into its own column so the storage layer can enforce the at-most-once
// contract per (recipient, period, key); NULL keys are exempt.
type ReferralBonus struct {
	ID               uint          `json:"id" gorm:"primaryKey"`
	RecipientAddress string        `json:"recipient_address" gorm:"type:varchar(64);not null;index;uniqueIndex:ux_referral_bonuses_milestone"`
	PeriodID         uint          `json:"period_id" gorm:"not null;index;uniqueIndex:ux_referral_bonuses_milestone"`
	BonusType        BonusType     `json:"bonus_type" gorm:"type:varchar(32);not null"`
	Points           int64         `json:"points" gorm:"not null"`
	SourceAddress    *string       `json:"source_address,omitempty" gorm:"type:varchar(64);index"`
	MilestoneKey     *string       `json:"milestone_key,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_referral_bonuses_milestone"`
	Metadata         BonusMetadata `json:"metadata" gorm:"serializer:json"`
	AwardedAt        time.Time     `json:"awarded_at" gorm:"not null"`
}
