package handlers

import (
	"errors"

	"referral-incentive-engine/services"

	"github.com/gofiber/fiber/v2"
)

// respondError maps the service error taxonomy onto HTTP statuses without
// leaking internal identifiers.
func respondError(c *fiber.Ctx, err error) error {
	var (
		validation *services.ValidationError
		conflict   *services.ConflictError
		notFound   *services.NotFoundError
		transient  *services.TransientError
	)
	switch {
	case errors.As(err, &validation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validation.Reason})
	case errors.As(err, &conflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": conflict.Reason})
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": notFound.Error()})
	case errors.As(err, &transient):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "upstream temporarily unavailable, retry later"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error", "cause": err.Error()})
	}
}
