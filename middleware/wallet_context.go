package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// WalletContextMiddleware extracts the caller's wallet address set by the
// Gateway's identity layer and normalizes it to lowercase. Secured routes
// reject requests arriving without one.
func WalletContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		address := strings.ToLower(strings.TrimSpace(c.Get("X-Wallet-Address")))
		if address == "" {
			log.Printf("❌ [WALLET_CTX] X-Wallet-Address required but missing: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Wallet-Address — request must come through gateway with auth context",
			})
		}

		isAdmin := strings.EqualFold(c.Get("X-Admin"), "true")

		c.Locals("wallet_address", address)
		c.Locals("is_admin", isAdmin)
		return c.Next()
	}
}

// AdminOnlyMiddleware gates the period-administration surface on the admin
// flag forwarded by the Gateway.
func AdminOnlyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isAdmin, _ := c.Locals("is_admin").(bool)
		if !isAdmin {
			log.Printf("🚫 [ADMIN] non-admin call to %s from %v", c.Path(), c.Locals("wallet_address"))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin privileges required",
			})
		}
		return c.Next()
	}
}
