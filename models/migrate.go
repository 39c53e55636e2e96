package models

import "gorm.io/gorm"

// Migrate runs AutoMigrate for every referral table plus the partial unique
// index that pins the "at most one active period" invariant into the storage
// layer. Works on both PostgreSQL and SQLite, which share the partial-index
// syntax used here.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&ReferralPeriod{},
		&ReferralCode{},
		&ReferralSignup{},
		&ReferralLink{},
		&ReferralBonus{},
		&LeaderboardArchive{},
	); err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_referral_periods_one_active
		 ON referral_periods (status) WHERE status = 'active' AND deleted_at IS NULL`,
	).Error
}
