package services

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"referral-incentive-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const codeLength = 8

// ReferralService issues referral codes and records signups and trading
// activity against the period-scoped link store.
type ReferralService struct {
	DB      *gorm.DB
	Periods *PeriodService
	BaseURL string // shareable-link prefix, e.g. https://app.example.com/r
}

func NewReferralService(db *gorm.DB, periods *PeriodService, baseURL string) *ReferralService {
	return &ReferralService{DB: db, Periods: periods, BaseURL: baseURL}
}

// NormalizeAddress lowercases a wallet address; the identity layer guarantees
// format beyond that.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// GetOrCreateCode returns the address's referral code, generating one on
// first use. Issuance is idempotent per address; generated codes are checked
// against every stored code.
func (s *ReferralService) GetOrCreateCode(address string) (*models.ReferralCode, error) {
	address = NormalizeAddress(address)
	if address == "" {
		return nil, validationf("address is required")
	}

	var existing models.ReferralCode
	err := s.DB.Where("address = ?", address).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < 5; attempt++ {
		code := generateCode()
		var collisions int64
		if err := s.DB.Model(&models.ReferralCode{}).
			Where("code = ?", code).
			Count(&collisions).Error; err != nil {
			return nil, err
		}
		if collisions > 0 {
			continue
		}
		row := &models.ReferralCode{Address: address, Code: code}
		res := s.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoNothing: true,
		}).Create(row)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Concurrent issuance won; return the stored row.
			if err := s.DB.Where("address = ?", address).First(&existing).Error; err != nil {
				return nil, err
			}
			return &existing, nil
		}
		return row, nil
	}
	return nil, conflictf("could not generate a collision-free referral code")
}

func generateCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:codeLength])
}

// ShareLink renders the shareable URL for a code.
func (s *ReferralService) ShareLink(code string) string {
	return fmt.Sprintf("%s?ref=%s", s.BaseURL, code)
}

// SignupResult reports what TrackSignup recorded.
type SignupResult struct {
	ReferrerAddress string               `json:"referrer_address"`
	Link            *models.ReferralLink `json:"link,omitempty"`
}

// TrackSignup resolves a referral code for a new signup. It rejects
// self-referral and already-referred addresses, records the durable referrer
// relationship, and — when a period is active — creates the period-scoped
// link plus the referee's signup bonus. With no active period the
// relationship is still recorded, but no bonus accrues until a period exists.
func (s *ReferralService) TrackSignup(referredAddress, code string) (*SignupResult, error) {
	referredAddress = NormalizeAddress(referredAddress)
	code = strings.ToUpper(strings.TrimSpace(code))
	if referredAddress == "" || code == "" {
		return nil, validationf("address and referral code are required")
	}

	var owner models.ReferralCode
	if err := s.DB.Where("code = ?", code).First(&owner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "referral code", ID: code}
		}
		return nil, err
	}
	if owner.Address == referredAddress {
		return nil, conflictf("self-referral is not allowed")
	}

	var already int64
	if err := s.DB.Model(&models.ReferralSignup{}).
		Where("referred_address = ?", referredAddress).
		Count(&already).Error; err != nil {
		return nil, err
	}
	if already > 0 {
		return nil, conflictf("address %s is already referred", referredAddress)
	}

	period, err := s.Periods.GetActivePeriod()
	if err != nil {
		return nil, err
	}

	result := &SignupResult{ReferrerAddress: owner.Address}
	now := time.Now().UTC()
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		signup := &models.ReferralSignup{
			ReferredAddress: referredAddress,
			ReferrerAddress: owner.Address,
			ReferralCode:    code,
			SignedUpAt:      now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "referred_address"}},
			DoNothing: true,
		}).Create(signup)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflictf("address %s is already referred", referredAddress)
		}

		if period == nil {
			return nil
		}
		link := &models.ReferralLink{
			ReferrerAddress: owner.Address,
			ReferredAddress: referredAddress,
			ReferralCode:    code,
			PeriodID:        period.ID,
			Status:          models.LinkPending,
			LinkedAt:        now,
		}
		if err := tx.Create(link).Error; err != nil {
			return err
		}
		result.Link = link

		if period.RefereeBenefits.SignupBonus > 0 {
			key := fmt.Sprintf("referee_signup:%d", link.ID)
			src := owner.Address
			_, err := insertBonusIgnoringDuplicates(tx, &models.ReferralBonus{
				RecipientAddress: referredAddress,
				PeriodID:         period.ID,
				BonusType:        models.BonusMilestone,
				Points:           period.RefereeBenefits.SignupBonus,
				SourceAddress:    &src,
				MilestoneKey:     &key,
				Metadata:         models.BonusMetadata{MilestoneKey: key, Label: "signup bonus"},
				AwardedAt:        now,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Referral signup: %s referred by %s (code %s)", referredAddress, owner.Address, code)
	return result, nil
}

// ActivityObservation is one volume/activity push from the trading side.
type ActivityObservation struct {
	Address string    `json:"address"`
	Volume  float64   `json:"volume"` // stake volume added by this observation
	At      time.Time `json:"at,omitempty"`
}

// RecordActivity applies a trading observation to the referred user's link in
// the active period: bumps lifetime volume (monotone), stamps first/last bet,
// flips pending links to active, and pays the referee first-bet benefit once.
// Observations for users with no link are ignored.
func (s *ReferralService) RecordActivity(obs ActivityObservation) (*models.ReferralLink, error) {
	address := NormalizeAddress(obs.Address)
	if address == "" {
		return nil, validationf("address is required")
	}
	if obs.Volume < 0 {
		return nil, validationf("volume must be >= 0")
	}
	if obs.At.IsZero() {
		obs.At = time.Now().UTC()
	}

	period, err := s.Periods.GetActivePeriod()
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, nil
	}

	var link models.ReferralLink
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).
			Where("period_id = ? AND referred_address = ?", period.ID, address).
			First(&link).Error; err != nil {
			return err
		}

		firstBet := link.FirstBetAt == nil
		if firstBet {
			link.FirstBetAt = &obs.At
			link.Status = models.LinkActive
		}
		if link.LastBetAt == nil || obs.At.After(*link.LastBetAt) {
			link.LastBetAt = &obs.At
		}
		link.LifetimeVolume += obs.Volume
		if err := tx.Save(&link).Error; err != nil {
			return err
		}

		if firstBet {
			return s.awardFirstBetBonus(tx, period, &link, obs)
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // not a referred user in this period
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// awardFirstBetBonus pays the referred user their first-bet multiplier on the
// qualifying stake. Keyed per link so recomputation can never double-pay.
func (s *ReferralService) awardFirstBetBonus(tx *gorm.DB, period *models.ReferralPeriod, link *models.ReferralLink, obs ActivityObservation) error {
	benefits := period.RefereeBenefits
	if benefits.FirstBetMultiplier <= 0 {
		return nil
	}
	stake := obs.Volume
	if benefits.MaxQualifyingStake > 0 && stake > benefits.MaxQualifyingStake {
		stake = benefits.MaxQualifyingStake
	}
	points := int64(math.Floor(stake * benefits.FirstBetMultiplier))
	if points <= 0 {
		return nil
	}
	key := fmt.Sprintf("referee_first_bet:%d", link.ID)
	src := link.ReferrerAddress
	_, err := insertBonusIgnoringDuplicates(tx, &models.ReferralBonus{
		RecipientAddress: link.ReferredAddress,
		PeriodID:         period.ID,
		BonusType:        models.BonusMilestone,
		Points:           points,
		SourceAddress:    &src,
		MilestoneKey:     &key,
		Metadata:         models.BonusMetadata{MilestoneKey: key, Label: "first bet bonus", Volume: stake},
		AwardedAt:        obs.At,
	})
	return err
}

// ReferralListing is a caller's referred users plus summary stats for the
// active period.
type ReferralListing struct {
	PeriodID    uint                  `json:"period_id,omitempty"`
	Referrals   []models.ReferralLink `json:"referrals"`
	Total       int64                 `json:"total"`
	Active      int64                 `json:"active"`
	TotalVolume float64               `json:"total_volume"`
}

// ListReferrals returns the caller's links in the active period.
func (s *ReferralService) ListReferrals(address string) (*ReferralListing, error) {
	address = NormalizeAddress(address)
	listing := &ReferralListing{Referrals: []models.ReferralLink{}}

	period, err := s.Periods.GetActivePeriod()
	if err != nil {
		return nil, err
	}
	if period == nil {
		return listing, nil
	}
	listing.PeriodID = period.ID

	if err := s.DB.Where("period_id = ? AND referrer_address = ?", period.ID, address).
		Order("linked_at ASC").
		Find(&listing.Referrals).Error; err != nil {
		return nil, err
	}
	for i := range listing.Referrals {
		listing.Total++
		if listing.Referrals[i].Status == models.LinkActive {
			listing.Active++
		}
		listing.TotalVolume += listing.Referrals[i].LifetimeVolume
	}
	return listing, nil
}
