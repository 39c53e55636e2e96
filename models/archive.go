package models

import "time"

// ArchivedRank is one row of a frozen leaderboard.
type ArchivedRank struct {
	Rank        int    `json:"rank"`
	Address     string `json:"address"`
	Points      int64  `json:"points"`
	Referrals   int64  `json:"referrals"`
	BonusPoints int64  `json:"bonus_points"`
}

// ArchiveStats summarizes a completed period.
type ArchiveStats struct {
	TotalUsers        int64  `json:"total_users"`
	TotalReferrals    int64  `json:"total_referrals"`
	TotalBonusAwarded int64  `json:"total_bonus_awarded"`
	TopReferrer       string `json:"top_referrer,omitempty"`
}

// LeaderboardArchive freezes a period's final ranking at completion so later
// trading-points or link changes cannot retroactively alter history. One row
// per completed period, written exactly once.
type LeaderboardArchive struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	PeriodID    uint           `json:"period_id" gorm:"not null;uniqueIndex"`
	PeriodStart *time.Time     `json:"period_start,omitempty"`
	PeriodEnd   *time.Time     `json:"period_end,omitempty"`
	ResetMode   ResetMode      `json:"reset_mode" gorm:"type:varchar(16)"`
	Rankings    []ArchivedRank `json:"rankings" gorm:"serializer:json"`
	Stats       ArchiveStats   `json:"stats" gorm:"serializer:json"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
}
