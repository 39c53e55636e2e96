package handlers

import (
	"strconv"

	"referral-incentive-engine/middleware"
	"referral-incentive-engine/models"
	"referral-incentive-engine/services"

	"github.com/gofiber/fiber/v2"
)

// SetupAdminRoutes registers the period-administration surface.
func SetupAdminRoutes(app *fiber.App, periodService *services.PeriodService) {
	admin := app.Group("/referral/admin",
		middleware.WalletContextMiddleware(),
		middleware.AdminOnlyMiddleware(),
	)

	admin.Post("/periods", func(c *fiber.Ctx) error {
		var spec services.PeriodSpec
		if err := c.BodyParser(&spec); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		period, err := periodService.CreatePeriod(spec)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(period)
	})

	admin.Get("/periods", func(c *fiber.Ctx) error {
		periods, err := periodService.ListPeriods(models.PeriodStatus(c.Query("status")))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(periods)
	})

	admin.Get("/periods/:id", func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id must be an integer"})
		}
		period, err := periodService.GetPeriod(id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(period)
	})

	admin.Patch("/periods/:id", func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id must be an integer"})
		}
		var update services.PeriodUpdate
		if err := c.BodyParser(&update); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		period, err := periodService.UpdatePeriod(id, update)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(period)
	})

	admin.Delete("/periods/:id", func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id must be an integer"})
		}
		deleted, err := periodService.DeletePeriod(id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"deleted": deleted})
	})

	admin.Post("/periods/:id/activate", func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id must be an integer"})
		}
		period, err := periodService.ActivatePeriod(id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(period)
	})

	admin.Post("/periods/:id/complete", func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id must be an integer"})
		}
		period, err := periodService.CompletePeriod(id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(period)
	})

	admin.Post("/periods/:id/reset", func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id must be an integer"})
		}
		type Req struct {
			CreateNew bool `json:"create_new"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		completed, clone, err := periodService.ManualReset(id, req.CreateNew)
		if err != nil {
			return respondError(c, err)
		}
		resp := fiber.Map{"completed": completed}
		if clone != nil {
			resp["new_period"] = clone
		}
		return c.JSON(resp)
	})
}

func parseID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
