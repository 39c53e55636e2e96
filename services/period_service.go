package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"referral-incentive-engine/models"

	"gorm.io/gorm"
)

// ResetMonitor is the scheduler surface the lifecycle manager drives: started
// when a scheduled period activates, stopped whenever a period completes.
type ResetMonitor interface {
	StartMonitoring(period *models.ReferralPeriod) error
	Stop()
}

// PeriodService enforces the draft→active→completed state machine and the
// one-active-period invariant.
type PeriodService struct {
	DB          *gorm.DB
	Leaderboard *LeaderboardService

	monitor ResetMonitor
}

func NewPeriodService(db *gorm.DB, leaderboard *LeaderboardService) *PeriodService {
	return &PeriodService{DB: db, Leaderboard: leaderboard}
}

// AttachMonitor wires the reset scheduler in after construction (the
// scheduler itself needs the service, so this breaks the cycle).
func (s *PeriodService) AttachMonitor(m ResetMonitor) {
	s.monitor = m
}

// PeriodSpec is the admin-supplied shape of a new period.
type PeriodSpec struct {
	Name            string                 `json:"name"`
	Strategy        models.StrategyKind    `json:"strategy"`
	StrategyConfig  models.StrategyConfig  `json:"strategy_config"`
	ResetMode       models.ResetMode       `json:"reset_mode"`
	ResetConfig     models.ResetConfig     `json:"reset_config"`
	RefereeBenefits models.RefereeBenefits `json:"referee_benefits"`
	EndsAt          *time.Time             `json:"ends_at,omitempty"`
}

// CreatePeriod validates the spec and creates the period in draft. The
// strategy kind is immutable from here on.
func (s *PeriodService) CreatePeriod(spec PeriodSpec) (*models.ReferralPeriod, error) {
	if spec.Name == "" {
		return nil, validationf("name is required")
	}
	if err := ValidateStrategyConfig(spec.Strategy, spec.StrategyConfig); err != nil {
		return nil, err
	}
	if spec.ResetMode == "" {
		spec.ResetMode = models.ResetManual
	}
	if err := validateResetConfig(spec.ResetMode, spec.ResetConfig); err != nil {
		return nil, err
	}

	period := &models.ReferralPeriod{
		Name:            spec.Name,
		Strategy:        spec.Strategy,
		StrategyConfig:  spec.StrategyConfig,
		ResetMode:       spec.ResetMode,
		ResetConfig:     spec.ResetConfig,
		RefereeBenefits: spec.RefereeBenefits,
		Status:          models.PeriodDraft,
		EndsAt:          spec.EndsAt,
	}
	if err := s.DB.Create(period).Error; err != nil {
		return nil, err
	}
	return period, nil
}

func validateResetConfig(mode models.ResetMode, cfg models.ResetConfig) error {
	switch mode {
	case models.ResetManual:
		return nil
	case models.ResetScheduled:
		if cfg.Schedule == nil || cfg.Schedule.IntervalDays <= 0 {
			return validationf("scheduled reset requires schedule.interval_days > 0")
		}
		return nil
	case models.ResetRollingExpiry:
		if cfg.RollingExpiry == nil || cfg.RollingExpiry.WindowDays <= 0 {
			return validationf("rolling_expiry reset requires rolling_expiry.window_days > 0")
		}
		return nil
	default:
		return validationf("unknown reset mode %q", mode)
	}
}

// PeriodUpdate carries the editable fields. StrategyConfig edits are
// draft-only; the strategy kind itself can never change.
type PeriodUpdate struct {
	Name            *string                 `json:"name,omitempty"`
	StrategyConfig  *models.StrategyConfig  `json:"strategy_config,omitempty"`
	ResetConfig     *models.ResetConfig     `json:"reset_config,omitempty"`
	RefereeBenefits *models.RefereeBenefits `json:"referee_benefits,omitempty"`
	EndsAt          *time.Time              `json:"ends_at,omitempty"`
}

func (s *PeriodService) UpdatePeriod(id uint, update PeriodUpdate) (*models.ReferralPeriod, error) {
	var period models.ReferralPeriod
	if err := s.DB.First(&period, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "period", ID: id}
		}
		return nil, err
	}
	if update.StrategyConfig != nil {
		if period.Status != models.PeriodDraft {
			return nil, conflictf("strategy config may only be edited while draft")
		}
		if err := ValidateStrategyConfig(period.Strategy, *update.StrategyConfig); err != nil {
			return nil, err
		}
		period.StrategyConfig = *update.StrategyConfig
	}
	if update.Name != nil {
		period.Name = *update.Name
	}
	if update.ResetConfig != nil {
		if err := validateResetConfig(period.ResetMode, *update.ResetConfig); err != nil {
			return nil, err
		}
		period.ResetConfig = *update.ResetConfig
	}
	if update.RefereeBenefits != nil {
		period.RefereeBenefits = *update.RefereeBenefits
	}
	if update.EndsAt != nil {
		period.EndsAt = update.EndsAt
	}
	if err := s.DB.Save(&period).Error; err != nil {
		return nil, err
	}
	return &period, nil
}

// ActivatePeriod flips a draft period to active. The check-then-set runs in
// one transaction with row locks, and the partial unique index on status is
// the storage-layer backstop against two concurrent activations both
// committing.
func (s *PeriodService) ActivatePeriod(id uint) (*models.ReferralPeriod, error) {
	var period models.ReferralPeriod
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&period, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "period", ID: id}
			}
			return err
		}
		switch period.Status {
		case models.PeriodActive:
			return conflictf("period %d is already active", id)
		case models.PeriodCompleted:
			return conflictf("completed periods cannot be reactivated")
		}

		var activeCount int64
		if err := tx.Model(&models.ReferralPeriod{}).
			Where("status = ?", models.PeriodActive).
			Count(&activeCount).Error; err != nil {
			return err
		}
		if activeCount > 0 {
			return conflictf("already active")
		}

		now := time.Now().UTC()
		period.Status = models.PeriodActive
		if period.StartsAt == nil {
			period.StartsAt = &now
		}
		if period.ResetMode == models.ResetScheduled && period.NextResetAt() == nil {
			next := now.AddDate(0, 0, period.ResetConfig.Schedule.IntervalDays)
			period.ResetConfig.Schedule.NextResetAt = &next
		}
		if err := tx.Save(&period).Error; err != nil {
			// Two concurrent activations of different drafts each pass the
			// count check; the loser hits the partial unique index here.
			if isUniqueViolation(err) {
				return conflictf("already active")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if period.ResetMode == models.ResetScheduled && s.monitor != nil {
		if err := s.monitor.StartMonitoring(&period); err != nil {
			log.Printf("[Periods] failed to start reset monitoring for period %d: %v", period.ID, err)
		}
	}
	log.Printf("✅ Activated period %d (%s, strategy=%s)", period.ID, period.Name, period.Strategy)
	return &period, nil
}

// CompletePeriod archives and closes the active period. Archive construction
// happens inside the same transaction: if it fails, the period stays active.
func (s *PeriodService) CompletePeriod(id uint) (*models.ReferralPeriod, error) {
	period, err := s.completeInTx(s.DB, id)
	if err != nil {
		return nil, err
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	log.Printf("✅ Completed period %d (%s), leaderboard archived", period.ID, period.Name)
	return period, nil
}

func (s *PeriodService) completeInTx(db *gorm.DB, id uint) (*models.ReferralPeriod, error) {
	var period models.ReferralPeriod
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&period, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "period", ID: id}
			}
			return err
		}
		if period.Status != models.PeriodActive {
			return conflictf("period %d is not active", id)
		}

		if _, err := s.Leaderboard.BuildArchive(tx, &period); err != nil {
			return fmt.Errorf("archive build failed: %w", err)
		}

		now := time.Now().UTC()
		period.Status = models.PeriodCompleted
		period.CompletedAt = &now
		if period.EndsAt == nil {
			period.EndsAt = &now
		}
		return tx.Save(&period).Error
	})
	if err != nil {
		return nil, err
	}
	return &period, nil
}

// ManualReset completes the period and, when createNew is set, clones its
// strategy and configuration into a fresh draft as an operator convenience.
// The clone is not auto-activated.
func (s *PeriodService) ManualReset(periodID uint, createNew bool) (completed, clone *models.ReferralPeriod, err error) {
	completed, err = s.CompletePeriod(periodID)
	if err != nil {
		return nil, nil, err
	}
	if !createNew {
		return completed, nil, nil
	}
	clone, err = s.clonePeriod(s.DB, completed)
	if err != nil {
		return completed, nil, err
	}
	return completed, clone, nil
}

func (s *PeriodService) clonePeriod(db *gorm.DB, src *models.ReferralPeriod) (*models.ReferralPeriod, error) {
	cfg := src.ResetConfig
	if cfg.Schedule != nil {
		sched := *cfg.Schedule
		sched.NextResetAt = nil // recomputed at activation
		cfg.Schedule = &sched
	}
	clone := &models.ReferralPeriod{
		Name:            fmt.Sprintf("%s (reset %s)", src.Name, time.Now().UTC().Format("2006-01-02")),
		Strategy:        src.Strategy,
		StrategyConfig:  src.StrategyConfig,
		ResetMode:       src.ResetMode,
		ResetConfig:     cfg,
		RefereeBenefits: src.RefereeBenefits,
		Status:          models.PeriodDraft,
	}
	if err := db.Create(clone).Error; err != nil {
		return nil, err
	}
	return clone, nil
}

// Rollover atomically completes a scheduled period and activates a fresh
// clone in its place, so no window with zero active periods persists. Used by
// the reset scheduler; either the whole sequence commits or none of it does.
func (s *PeriodService) Rollover(periodID uint) (*models.ReferralPeriod, error) {
	var next *models.ReferralPeriod
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		completed, err := s.completeInTx(tx, periodID)
		if err != nil {
			return err
		}
		next, err = s.clonePeriod(tx, completed)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		next.Status = models.PeriodActive
		next.StartsAt = &now
		if next.ResetMode == models.ResetScheduled && next.ResetConfig.Schedule != nil {
			at := now.AddDate(0, 0, next.ResetConfig.Schedule.IntervalDays)
			next.ResetConfig.Schedule.NextResetAt = &at
		}
		return tx.Save(next).Error
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🔄 Rolled over period %d → %d", periodID, next.ID)
	return next, nil
}

// DeletePeriod removes a draft period and its links. Deleting a non-draft
// period is disallowed and reports false rather than an error.
func (s *PeriodService) DeletePeriod(id uint) (bool, error) {
	var deleted bool
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var period models.ReferralPeriod
		if err := lockForUpdate(tx).First(&period, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "period", ID: id}
			}
			return err
		}
		if period.Status != models.PeriodDraft {
			return nil
		}
		if err := tx.Where("period_id = ?", id).Delete(&models.ReferralLink{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&period).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// GetActivePeriod returns the single active period, or nil when none exists.
// Every public bonus and leaderboard read path pins its computation here.
func (s *PeriodService) GetActivePeriod() (*models.ReferralPeriod, error) {
	var period models.ReferralPeriod
	err := s.DB.Where("status = ?", models.PeriodActive).First(&period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &period, nil
}

func (s *PeriodService) GetPeriod(id uint) (*models.ReferralPeriod, error) {
	var period models.ReferralPeriod
	if err := s.DB.First(&period, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "period", ID: id}
		}
		return nil, err
	}
	return &period, nil
}

// ListPeriods returns periods newest first, optionally filtered by status.
func (s *PeriodService) ListPeriods(status models.PeriodStatus) ([]models.ReferralPeriod, error) {
	var periods []models.ReferralPeriod
	q := s.DB.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&periods).Error; err != nil {
		return nil, err
	}
	return periods, nil
}
