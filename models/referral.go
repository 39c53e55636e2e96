package models

import "time"

// ReferralCode assigns one shareable code to a wallet address. Issuance is
// idempotent per address.
type ReferralCode struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	Address string `json:"address" gorm:"type:varchar(64);not null;uniqueIndex"`
	Code    string `json:"code" gorm:"type:varchar(16);not null;uniqueIndex"`

	Timestamps
}

// ReferralSignup is the durable referrer relationship: one referrer per user,
// permanently, independent of period boundaries. Period-scoped accrual lives
// in ReferralLink.
type ReferralSignup struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	ReferredAddress string    `json:"referred_address" gorm:"type:varchar(64);not null;uniqueIndex"`
	ReferrerAddress string    `json:"referrer_address" gorm:"type:varchar(64);not null;index"`
	ReferralCode    string    `json:"referral_code" gorm:"type:varchar(16);not null"`
	SignedUpAt      time.Time `json:"signed_up_at" gorm:"not null"`

	Timestamps
}
