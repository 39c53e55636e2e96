package services

import (
	"errors"
	"testing"
	"time"

	"referral-incentive-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreatePeriodValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.periods.CreatePeriod(PeriodSpec{Strategy: models.StrategyRevenueShare})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = env.periods.CreatePeriod(PeriodSpec{Name: "bad", Strategy: models.StrategyRevenueShare})
	require.ErrorAs(t, err, &verr)

	_, err = env.periods.CreatePeriod(PeriodSpec{
		Name:           "bad schedule",
		Strategy:       models.StrategyRevenueShare,
		StrategyConfig: models.StrategyConfig{RevenueShare: &models.RevenueShareConfig{SharePercentage: 10}},
		ResetMode:      models.ResetScheduled,
	})
	require.ErrorAs(t, err, &verr)

	period, err := env.periods.CreatePeriod(revenueShareSpec("season one"))
	require.NoError(t, err)
	assert.Equal(t, models.PeriodDraft, period.Status)
	assert.Equal(t, models.ResetManual, period.ResetMode)
}

func TestActivatePeriod(t *testing.T) {
	env := newTestEnv(t)
	spec := revenueShareSpec("season one")
	spec.ResetMode = models.ResetScheduled
	spec.ResetConfig = models.ResetConfig{Schedule: &models.ScheduleConfig{IntervalDays: 14}}

	period, err := env.periods.CreatePeriod(spec)
	require.NoError(t, err)
	require.Nil(t, period.StartsAt)

	period, err = env.periods.ActivatePeriod(period.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodActive, period.Status)
	require.NotNil(t, period.StartsAt)
	require.NotNil(t, period.NextResetAt())
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 14), *period.NextResetAt(), time.Minute)

	active, err := env.periods.GetActivePeriod()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, period.ID, active.ID)
}

func TestActivateSecondPeriodConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.createActivePeriod(t, revenueShareSpec("first"))

	second, err := env.periods.CreatePeriod(revenueShareSpec("second"))
	require.NoError(t, err)

	_, err = env.periods.ActivatePeriod(second.ID)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)

	// The loser stays draft.
	second, err = env.periods.GetPeriod(second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodDraft, second.Status)
}

func TestUniqueViolationMapsToConflict(t *testing.T) {
	env := newTestEnv(t)

	// A real constraint error from the driver, as the losing side of a
	// concurrent activation would see on its Save.
	require.NoError(t, env.db.Create(&models.ReferralCode{Address: "0xa", Code: "SAME1234"}).Error)
	err := env.db.Create(&models.ReferralCode{Address: "0xb", Code: "SAME1234"}).Error
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))

	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(errors.New("connection reset")))
}

func TestActivateCompletedPeriodConflicts(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, revenueShareSpec("season"))

	_, err := env.periods.CompletePeriod(period.ID)
	require.NoError(t, err)

	_, err = env.periods.ActivatePeriod(period.ID)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
}

func TestUpdatePeriodStrategyConfigDraftOnly(t *testing.T) {
	env := newTestEnv(t)
	newCfg := models.StrategyConfig{RevenueShare: &models.RevenueShareConfig{SharePercentage: 20}}

	draft, err := env.periods.CreatePeriod(revenueShareSpec("draft"))
	require.NoError(t, err)
	updated, err := env.periods.UpdatePeriod(draft.ID, PeriodUpdate{StrategyConfig: &newCfg})
	require.NoError(t, err)
	assert.Equal(t, 20.0, updated.StrategyConfig.RevenueShare.SharePercentage)

	active := env.createActivePeriod(t, revenueShareSpec("active"))
	_, err = env.periods.UpdatePeriod(active.ID, PeriodUpdate{StrategyConfig: &newCfg})
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)

	// Name edits stay allowed on an active period.
	name := "renamed"
	updated, err = env.periods.UpdatePeriod(active.ID, PeriodUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
}

func TestCompletePeriodArchivesLeaderboard(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, revenueShareSpec("season"))
	env.createLink(t, period.ID, "0xref", "0xa", 100, time.Now().UTC())
	env.points.points = map[string]int64{"0xref": 1000}

	completed, err := env.periods.CompletePeriod(period.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.NotNil(t, completed.EndsAt)

	archive, err := env.leaderboard.GetArchive(period.ID)
	require.NoError(t, err)
	assert.Equal(t, period.ID, archive.PeriodID)
	require.Len(t, archive.Rankings, 1)
	assert.Equal(t, "0xref", archive.Rankings[0].Address)

	// Completing twice conflicts.
	_, err = env.periods.CompletePeriod(period.ID)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
}

func TestCompletePeriodRollsBackWhenArchiveFails(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, revenueShareSpec("season"))
	env.createLink(t, period.ID, "0xref", "0xa", 100, time.Now().UTC())
	env.points.err = errors.New("points service down")

	_, err := env.periods.CompletePeriod(period.ID)
	var terr *TransientError
	require.ErrorAs(t, err, &terr)

	// Completion is all-or-nothing: the period stays active and no archive
	// row survives the failed attempt.
	current, err := env.periods.GetPeriod(period.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodActive, current.Status)
	assert.Nil(t, current.CompletedAt)

	var archives int64
	require.NoError(t, env.db.Model(&models.LeaderboardArchive{}).Count(&archives).Error)
	assert.Zero(t, archives)

	// Once the points source recovers, completion goes through.
	env.points.err = nil
	completed, err := env.periods.CompletePeriod(period.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodCompleted, completed.Status)
}

func TestCompleteDraftPeriodConflicts(t *testing.T) {
	env := newTestEnv(t)
	draft, err := env.periods.CreatePeriod(revenueShareSpec("draft"))
	require.NoError(t, err)

	_, err = env.periods.CompletePeriod(draft.ID)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
}

func TestManualResetWithClone(t *testing.T) {
	env := newTestEnv(t)
	spec := milestoneSpec("quest season")
	spec.ResetMode = models.ResetScheduled
	spec.ResetConfig = models.ResetConfig{Schedule: &models.ScheduleConfig{IntervalDays: 7}}
	period := env.createActivePeriod(t, spec)

	completed, clone, err := env.periods.ManualReset(period.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodCompleted, completed.Status)
	require.NotNil(t, clone)
	assert.Equal(t, models.PeriodDraft, clone.Status)
	assert.Equal(t, period.Strategy, clone.Strategy)
	assert.Equal(t, period.StrategyConfig, clone.StrategyConfig)
	assert.Nil(t, clone.NextResetAt(), "clone must not inherit the old reset instant")

	// The clone is not auto-activated.
	active, err := env.periods.GetActivePeriod()
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestManualResetWithoutClone(t *testing.T) {
	env := newTestEnv(t)
	period := env.createActivePeriod(t, revenueShareSpec("season"))

	completed, clone, err := env.periods.ManualReset(period.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodCompleted, completed.Status)
	assert.Nil(t, clone)
}

func TestRolloverIsAtomicAndGapFree(t *testing.T) {
	env := newTestEnv(t)
	spec := milestoneSpec("quest season")
	spec.ResetMode = models.ResetScheduled
	spec.ResetConfig = models.ResetConfig{Schedule: &models.ScheduleConfig{IntervalDays: 7}}
	period := env.createActivePeriod(t, spec)
	env.createLink(t, period.ID, "0xref", "0xa", 100, time.Now().UTC())

	next, err := env.periods.Rollover(period.ID)
	require.NoError(t, err)
	assert.NotEqual(t, period.ID, next.ID)
	assert.Equal(t, models.PeriodActive, next.Status)
	assert.Equal(t, period.Strategy, next.Strategy)
	require.NotNil(t, next.NextResetAt())

	old, err := env.periods.GetPeriod(period.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodCompleted, old.Status)

	_, err = env.leaderboard.GetArchive(period.ID)
	require.NoError(t, err)

	active, err := env.periods.GetActivePeriod()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, next.ID, active.ID)

	// Links do not carry over into the fresh period.
	var carried int64
	require.NoError(t, env.db.Model(&models.ReferralLink{}).Where("period_id = ?", next.ID).Count(&carried).Error)
	assert.Zero(t, carried)
}

func TestDeletePeriod(t *testing.T) {
	env := newTestEnv(t)

	draft, err := env.periods.CreatePeriod(revenueShareSpec("draft"))
	require.NoError(t, err)
	env.createLink(t, draft.ID, "0xref", "0xa", 0, time.Now().UTC())

	deleted, err := env.periods.DeletePeriod(draft.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	var links int64
	require.NoError(t, env.db.Model(&models.ReferralLink{}).Where("period_id = ?", draft.ID).Count(&links).Error)
	assert.Zero(t, links)

	active := env.createActivePeriod(t, revenueShareSpec("active"))
	deleted, err = env.periods.DeletePeriod(active.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = env.periods.DeletePeriod(9999)
	var nerr *NotFoundError
	require.ErrorAs(t, err, &nerr)
}

func TestListPeriodsByStatus(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.periods.CreatePeriod(revenueShareSpec("draft one"))
	require.NoError(t, err)
	env.createActivePeriod(t, revenueShareSpec("active one"))

	drafts, err := env.periods.ListPeriods(models.PeriodDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "draft one", drafts[0].Name)

	all, err := env.periods.ListPeriods("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
