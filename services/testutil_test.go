package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"referral-incentive-engine/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubPoints is an in-memory PointsSource for tests.
type stubPoints struct {
	points map[string]int64
	err    error
}

func (s *stubPoints) GetTradingPoints(_ context.Context, address string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.points[address], nil
}

func (s *stubPoints) BatchTradingPoints(_ context.Context, addresses []string) (map[string]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]int64, len(addresses))
	for _, a := range addresses {
		out[a] = s.points[a]
	}
	return out, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named shared-cache DSN keeps one database across gorm's pooled
	// connections while isolating tests from each other.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	return db
}

// testEnv wires the full service graph over one in-memory database.
type testEnv struct {
	db          *gorm.DB
	points      *stubPoints
	periods     *PeriodService
	bonuses     *BonusService
	referrals   *ReferralService
	leaderboard *LeaderboardService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	points := &stubPoints{points: map[string]int64{}}
	leaderboard := NewLeaderboardService(db, points)
	periods := NewPeriodService(db, leaderboard)
	return &testEnv{
		db:          db,
		points:      points,
		periods:     periods,
		bonuses:     NewBonusService(db, periods, points),
		referrals:   NewReferralService(db, periods, "https://app.example.com/r"),
		leaderboard: leaderboard,
	}
}

func (e *testEnv) createActivePeriod(t *testing.T, spec PeriodSpec) *models.ReferralPeriod {
	t.Helper()
	period, err := e.periods.CreatePeriod(spec)
	require.NoError(t, err)
	period, err = e.periods.ActivatePeriod(period.ID)
	require.NoError(t, err)
	return period
}

func (e *testEnv) createLink(t *testing.T, periodID uint, referrer, referred string, volume float64, linkedAt time.Time) *models.ReferralLink {
	t.Helper()
	link := &models.ReferralLink{
		ReferrerAddress: referrer,
		ReferredAddress: referred,
		ReferralCode:    "TESTCODE",
		PeriodID:        periodID,
		Status:          models.LinkPending,
		LinkedAt:        linkedAt,
		LifetimeVolume:  volume,
	}
	if volume > 0 {
		link.Status = models.LinkActive
		link.FirstBetAt = &linkedAt
		link.LastBetAt = &linkedAt
	}
	require.NoError(t, e.db.Create(link).Error)
	return link
}

func milestoneSpec(name string) PeriodSpec {
	return PeriodSpec{
		Name:     name,
		Strategy: models.StrategyMilestoneQuest,
		StrategyConfig: models.StrategyConfig{
			MilestoneQuest: &models.MilestoneQuestConfig{
				ReferrerMilestones: []models.Milestone{
					{Volume: 0, Reward: 100, Label: "signup"},
					{Volume: 100, Reward: 250, Label: "first hundred"},
					{Volume: 500, Reward: 500, Label: "whale"},
				},
			},
		},
	}
}

func revenueShareSpec(name string) PeriodSpec {
	return PeriodSpec{
		Name:     name,
		Strategy: models.StrategyRevenueShare,
		StrategyConfig: models.StrategyConfig{
			RevenueShare: &models.RevenueShareConfig{SharePercentage: 10},
		},
	}
}

func (e *testEnv) bonusRowCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.ReferralBonus{}).Count(&n).Error)
	return n
}
