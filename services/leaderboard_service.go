package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"referral-incentive-engine/models"

	"gorm.io/gorm"
)

// PointsSource reports trading-derived scores computed outside this service.
// Whatever value it returns is authoritative at call time.
type PointsSource interface {
	GetTradingPoints(ctx context.Context, address string) (int64, error)
	BatchTradingPoints(ctx context.Context, addresses []string) (map[string]int64, error)
}

// LeaderboardService aggregates trading points and bonus points per address
// into ranked snapshots, and freezes them into archives at period completion.
type LeaderboardService struct {
	DB      *gorm.DB
	Points  PointsSource
	Timeout time.Duration
}

func NewLeaderboardService(db *gorm.DB, points PointsSource) *LeaderboardService {
	return &LeaderboardService{DB: db, Points: points, Timeout: 30 * time.Second}
}

// GetLeaderboard returns the top entries for a period. Completed periods are
// served from their frozen archive — live trading points may have been
// superseded since — and only fall back to recomputation if no archive exists.
func (s *LeaderboardService) GetLeaderboard(periodID uint, limit int) ([]models.ArchivedRank, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var period models.ReferralPeriod
	if err := s.DB.First(&period, periodID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "period", ID: periodID}
		}
		return nil, err
	}

	if period.Status == models.PeriodCompleted {
		archive, err := s.GetArchive(periodID)
		if err == nil {
			if len(archive.Rankings) > limit {
				return archive.Rankings[:limit], nil
			}
			return archive.Rankings, nil
		}
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	rankings, _, err := s.computeRankings(s.DB, &period)
	if err != nil {
		return nil, err
	}
	if len(rankings) > limit {
		rankings = rankings[:limit]
	}
	return rankings, nil
}

// BuildArchive snapshots the period's full leaderboard inside the caller's
// transaction. Called exactly once, from period completion; the unique index
// on period_id rejects a second snapshot.
func (s *LeaderboardService) BuildArchive(tx *gorm.DB, period *models.ReferralPeriod) (*models.LeaderboardArchive, error) {
	var existing int64
	if err := tx.Model(&models.LeaderboardArchive{}).
		Where("period_id = ?", period.ID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, conflictf("archive already exists for period %d", period.ID)
	}

	rankings, stats, err := s.computeRankings(tx, period)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	end := period.EndsAt
	if end == nil {
		end = &now
	}
	archive := &models.LeaderboardArchive{
		PeriodID:    period.ID,
		PeriodStart: period.StartsAt,
		PeriodEnd:   end,
		ResetMode:   period.ResetMode,
		Rankings:    rankings,
		Stats:       stats,
	}
	if err := tx.Create(archive).Error; err != nil {
		return nil, err
	}
	return archive, nil
}

func (s *LeaderboardService) GetArchive(periodID uint) (*models.LeaderboardArchive, error) {
	var archive models.LeaderboardArchive
	if err := s.DB.Where("period_id = ?", periodID).First(&archive).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "archive", ID: periodID}
		}
		return nil, err
	}
	return &archive, nil
}

// ListArchives returns historical snapshots newest first.
func (s *LeaderboardService) ListArchives() ([]models.LeaderboardArchive, error) {
	var archives []models.LeaderboardArchive
	if err := s.DB.Order("created_at DESC").Find(&archives).Error; err != nil {
		return nil, err
	}
	return archives, nil
}

// computeRankings joins referral counts per referrer, summed bonuses per
// recipient, and externally supplied trading points for every address
// appearing in either set, ranked by trading + bonus points descending.
func (s *LeaderboardService) computeRankings(db *gorm.DB, period *models.ReferralPeriod) ([]models.ArchivedRank, models.ArchiveStats, error) {
	var stats models.ArchiveStats

	var referralCounts []struct {
		ReferrerAddress string
		Count           int64
	}
	if err := db.Model(&models.ReferralLink{}).
		Select("referrer_address, COUNT(*) as count").
		Where("period_id = ?", period.ID).
		Group("referrer_address").
		Scan(&referralCounts).Error; err != nil {
		return nil, stats, err
	}

	var bonusSums []struct {
		RecipientAddress string
		Total            int64
	}
	if err := db.Model(&models.ReferralBonus{}).
		Select("recipient_address, SUM(points) as total").
		Where("period_id = ?", period.ID).
		Group("recipient_address").
		Scan(&bonusSums).Error; err != nil {
		return nil, stats, err
	}

	referrals := make(map[string]int64, len(referralCounts))
	for _, rc := range referralCounts {
		referrals[rc.ReferrerAddress] = rc.Count
		stats.TotalReferrals += rc.Count
	}
	bonuses := make(map[string]int64, len(bonusSums))
	for _, bs := range bonusSums {
		bonuses[bs.RecipientAddress] = bs.Total
		stats.TotalBonusAwarded += bs.Total
	}

	seen := make(map[string]bool)
	var addresses []string
	for addr := range referrals {
		if !seen[addr] {
			seen[addr] = true
			addresses = append(addresses, addr)
		}
	}
	for addr := range bonuses {
		if !seen[addr] {
			seen[addr] = true
			addresses = append(addresses, addr)
		}
	}
	if len(addresses) == 0 {
		return []models.ArchivedRank{}, stats, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	points, err := s.Points.BatchTradingPoints(ctx, addresses)
	if err != nil {
		return nil, stats, &TransientError{Op: "trading points lookup", Err: err}
	}

	rankings := make([]models.ArchivedRank, 0, len(addresses))
	for _, addr := range addresses {
		rankings = append(rankings, models.ArchivedRank{
			Address:     addr,
			Points:      points[addr],
			Referrals:   referrals[addr],
			BonusPoints: bonuses[addr],
		})
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		ti := rankings[i].Points + rankings[i].BonusPoints
		tj := rankings[j].Points + rankings[j].BonusPoints
		if ti != tj {
			return ti > tj
		}
		return rankings[i].Address < rankings[j].Address
	})
	for i := range rankings {
		rankings[i].Rank = i + 1
	}

	stats.TotalUsers = int64(len(rankings))
	var topReferrals int64
	for addr, count := range referrals {
		if count > topReferrals || (count == topReferrals && addr < stats.TopReferrer) {
			topReferrals = count
			stats.TopReferrer = addr
		}
	}
	return rankings, stats, nil
}
