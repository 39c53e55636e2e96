package services

import (
	"context"
	"log"
	"time"

	"referral-incentive-engine/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BonusService resolves the active period, runs the period's strategy over a
// referrer's links, and records any durable awards in the ledger.
type BonusService struct {
	DB      *gorm.DB
	Periods *PeriodService
	Points  PointsSource
	Timeout time.Duration
}

func NewBonusService(db *gorm.DB, periods *PeriodService, points PointsSource) *BonusService {
	return &BonusService{DB: db, Periods: periods, Points: points, Timeout: 30 * time.Second}
}

// BonusStatement is a caller's current total plus itemized breakdown for one
// period.
type BonusStatement struct {
	PeriodID   uint                `json:"period_id"`
	Strategy   models.StrategyKind `json:"strategy"`
	TotalBonus int64               `json:"total_bonus"`
	Breakdown  []BonusItem         `json:"breakdown"`
}

// ComputeBonus calculates the current bonus for an address against the
// active period. Newly satisfied milestone awards are persisted on the way
// through; repeating the call with no new referral activity yields an
// identical total and writes nothing.
func (s *BonusService) ComputeBonus(address string) (*BonusStatement, error) {
	period, err := s.Periods.GetActivePeriod()
	if err != nil {
		return nil, err
	}
	if period == nil {
		return &BonusStatement{Breakdown: []BonusItem{}}, nil
	}
	return s.ComputeBonusForPeriod(address, period)
}

func (s *BonusService) ComputeBonusForPeriod(address string, period *models.ReferralPeriod) (*BonusStatement, error) {
	address = NormalizeAddress(address)
	now := time.Now().UTC()

	var links []models.ReferralLink
	if err := s.DB.Where("period_id = ? AND referrer_address = ?", period.ID, address).
		Order("linked_at ASC").
		Find(&links).Error; err != nil {
		return nil, err
	}
	links = filterExpiredLinks(period, links, now)

	var existing []models.ReferralBonus
	if err := s.DB.Where("period_id = ? AND recipient_address = ?", period.ID, address).
		Order("awarded_at ASC").
		Find(&existing).Error; err != nil {
		return nil, err
	}
	existingKeys := make(map[string]bool, len(existing))
	for _, b := range existing {
		if b.MilestoneKey != nil {
			existingKeys[*b.MilestoneKey] = true
		}
	}

	points, err := s.fetchPoints(address, links)
	if err != nil {
		return nil, err
	}

	calc, err := CalculatorFor(period.Strategy)
	if err != nil {
		return nil, err
	}
	result, err := calc.Calculate(CalcContext{
		Period:           period,
		Links:            links,
		TradingPoints:    points,
		OwnTradingPoints: points[address],
		ExistingKeys:     existingKeys,
		Now:              now,
	})
	if err != nil {
		return nil, err
	}

	statement := &BonusStatement{
		PeriodID:  period.ID,
		Strategy:  period.Strategy,
		Breakdown: []BonusItem{},
	}
	for _, b := range existing {
		statement.Breakdown = append(statement.Breakdown, ledgerItem(&b))
		statement.TotalBonus += b.Points
	}
	for _, item := range result.Breakdown {
		if item.MilestoneKey == "" {
			// Live period-to-date amount, recomputed on every read.
			statement.Breakdown = append(statement.Breakdown, item)
			statement.TotalBonus += item.Points
			continue
		}
		awarded, err := s.recordAward(address, period.ID, now, item)
		if err != nil {
			return nil, err
		}
		if awarded {
			statement.Breakdown = append(statement.Breakdown, item)
			statement.TotalBonus += item.Points
		}
	}
	return statement, nil
}

// recordAward appends one durable bonus row. The unique constraint on
// (recipient, period, milestone key) turns a concurrent duplicate into a
// no-op insert, which the caller treats as "already awarded".
func (s *BonusService) recordAward(recipient string, periodID uint, now time.Time, item BonusItem) (bool, error) {
	row := &models.ReferralBonus{
		RecipientAddress: recipient,
		PeriodID:         periodID,
		BonusType:        item.BonusType,
		Points:           item.Points,
		MilestoneKey:     &item.MilestoneKey,
		Metadata: models.BonusMetadata{
			MilestoneKey: item.MilestoneKey,
			Label:        item.Reason,
			Volume:       item.Volume,
		},
		AwardedAt: now,
	}
	if item.SourceAddress != "" {
		src := item.SourceAddress
		row.SourceAddress = &src
	}
	return insertBonusIgnoringDuplicates(s.DB, row)
}

// insertBonusIgnoringDuplicates appends a ledger row, reporting false when
// the milestone-key constraint already holds a row for it.
func insertBonusIgnoringDuplicates(db *gorm.DB, row *models.ReferralBonus) (bool, error) {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		log.Printf("[Bonus] duplicate award suppressed: %s period=%d key=%v",
			row.RecipientAddress, row.PeriodID, row.MilestoneKey)
		return false, nil
	}
	return true, nil
}

func (s *BonusService) fetchPoints(address string, links []models.ReferralLink) (map[string]int64, error) {
	addresses := make([]string, 0, len(links)+1)
	addresses = append(addresses, address)
	for i := range links {
		addresses = append(addresses, links[i].ReferredAddress)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	points, err := s.Points.BatchTradingPoints(ctx, addresses)
	if err != nil {
		return nil, &TransientError{Op: "trading points lookup", Err: err}
	}
	return points, nil
}

func ledgerItem(b *models.ReferralBonus) BonusItem {
	item := BonusItem{
		BonusType: b.BonusType,
		Points:    b.Points,
		Reason:    b.Metadata.Label,
	}
	if b.SourceAddress != nil {
		item.SourceAddress = *b.SourceAddress
	}
	if b.MilestoneKey != nil {
		item.MilestoneKey = *b.MilestoneKey
	}
	return item
}

// filterExpiredLinks applies the rolling-expiry window as a read-time filter
// only: expired links drop out of computation but are never deleted, keeping
// the milestone-key uniqueness contract intact.
func filterExpiredLinks(period *models.ReferralPeriod, links []models.ReferralLink, now time.Time) []models.ReferralLink {
	if period.ResetMode != models.ResetRollingExpiry || period.ResetConfig.RollingExpiry == nil {
		return links
	}
	cutoff := now.AddDate(0, 0, -period.ResetConfig.RollingExpiry.WindowDays)
	kept := links[:0]
	for _, l := range links {
		last := l.LinkedAt
		if l.LastBetAt != nil && l.LastBetAt.After(last) {
			last = *l.LastBetAt
		}
		if !last.Before(cutoff) {
			kept = append(kept, l)
		}
	}
	return kept
}
