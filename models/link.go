package models

import "time"

type LinkStatus string

const (
	LinkPending LinkStatus = "pending" // linked, no bet yet
	LinkActive  LinkStatus = "active"  // first bet recorded
)

// ReferralLink is a referrer→referred relationship scoped to one period.
// A user may be referred at most once per period; links are never deleted
// except as part of a draft-period cleanup.
type ReferralLink struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	ReferrerAddress string     `json:"referrer_address" gorm:"type:varchar(64);not null;index"`
	ReferredAddress string     `json:"referred_address" gorm:"type:varchar(64);not null;uniqueIndex:ux_referral_links_referred_period"`
	ReferralCode    string     `json:"referral_code" gorm:"type:varchar(16);not null"`
	PeriodID        uint       `json:"period_id" gorm:"not null;index;uniqueIndex:ux_referral_links_referred_period"`
	Status          LinkStatus `json:"status" gorm:"type:varchar(16);default:'pending'"`
	LinkedAt        time.Time  `json:"linked_at" gorm:"not null"`
	FirstBetAt      *time.Time `json:"first_bet_at,omitempty"`
	LastBetAt       *time.Time `json:"last_bet_at,omitempty"`
	LifetimeVolume  float64    `json:"lifetime_volume" gorm:"default:0"` // monotonically non-decreasing

	Timestamps
}

// BetWithin reports whether the referred user has bet within the given number
// of days before now.
func (l *ReferralLink) BetWithin(days int, now time.Time) bool {
	if l.LastBetAt == nil {
		return false
	}
	return !l.LastBetAt.Before(now.AddDate(0, 0, -days))
}
