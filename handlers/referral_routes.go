package handlers

import (
	"strconv"

	"referral-incentive-engine/middleware"
	"referral-incentive-engine/services"

	"github.com/gofiber/fiber/v2"
)

// SetupReferralRoutes registers the public referral surface. All routes sit
// behind the global gateway auth; user routes additionally require wallet
// context.
func SetupReferralRoutes(
	app *fiber.App,
	referralService *services.ReferralService,
	bonusService *services.BonusService,
	leaderboardService *services.LeaderboardService,
	periodService *services.PeriodService,
) {
	// Service-to-service push from the trading side — no wallet context.
	app.Post("/referral/activity", func(c *fiber.Ctx) error {
		var obs services.ActivityObservation
		if err := c.BodyParser(&obs); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		link, err := referralService.RecordActivity(obs)
		if err != nil {
			return respondError(c, err)
		}
		if link == nil {
			return c.JSON(fiber.Map{"tracked": false})
		}
		return c.JSON(fiber.Map{"tracked": true, "link": link})
	})

	secured := app.Group("/referral", middleware.WalletContextMiddleware())

	secured.Get("/period", func(c *fiber.Ctx) error {
		period, err := periodService.GetActivePeriod()
		if err != nil {
			return respondError(c, err)
		}
		if period == nil {
			return c.JSON(fiber.Map{"active": false})
		}
		return c.JSON(fiber.Map{
			"active":           true,
			"id":               period.ID,
			"name":             period.Name,
			"strategy":         period.Strategy,
			"reset_mode":       period.ResetMode,
			"starts_at":        period.StartsAt,
			"ends_at":          period.EndsAt,
			"referee_benefits": period.RefereeBenefits,
		})
	})

	secured.Get("/code", func(c *fiber.Ctx) error {
		address := c.Locals("wallet_address").(string)
		code, err := referralService.GetOrCreateCode(address)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"code":       code.Code,
			"share_link": referralService.ShareLink(code.Code),
		})
	})

	secured.Post("/signup", func(c *fiber.Ctx) error {
		address := c.Locals("wallet_address").(string)
		type Req struct {
			Code string `json:"code"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		result, err := referralService.TrackSignup(address, req.Code)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	secured.Get("/bonus", func(c *fiber.Ctx) error {
		address := c.Locals("wallet_address").(string)
		statement, err := bonusService.ComputeBonus(address)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(statement)
	})

	secured.Get("/referrals", func(c *fiber.Ctx) error {
		address := c.Locals("wallet_address").(string)
		listing, err := referralService.ListReferrals(address)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(listing)
	})

	secured.Get("/leaderboard", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "100"))

		var periodID uint
		if raw := c.Query("period_id"); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "period_id must be an integer"})
			}
			periodID = uint(id)
		} else {
			period, err := periodService.GetActivePeriod()
			if err != nil {
				return respondError(c, err)
			}
			if period == nil {
				return c.JSON(fiber.Map{"rankings": []any{}})
			}
			periodID = period.ID
		}

		rankings, err := leaderboardService.GetLeaderboard(periodID, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"period_id": periodID, "rankings": rankings})
	})

	secured.Get("/archives", func(c *fiber.Ctx) error {
		archives, err := leaderboardService.ListArchives()
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(archives)
	})
}
