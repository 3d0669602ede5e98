package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/hotspotpay/hotspot/internal/pkg/env"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKeyAuth guards the operator API. The presented key is compared
// against a bcrypt hash; an unset hash disables the admin API entirely.
func AdminKeyAuth(hash string) fiber.Handler {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		log.Warn("[API] ADMIN_API_KEY_HASH is not set, admin API disabled")
	}
	return func(c *fiber.Ctx) error {
		if hash == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "admin_disabled", "message": "Admin API is not configured"})
		}

		key := extractAdminKey(c)
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing admin key"})
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			log.Warnf("[API] Rejected admin request from %s: %v", c.IP(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin key"})
		}
		return c.Next()
	}
}

// AdminKeyAuthFromEnv reads the hash from ADMIN_API_KEY_HASH.
func AdminKeyAuthFromEnv() fiber.Handler {
	return AdminKeyAuth(env.GetEnv("ADMIN_API_KEY_HASH", ""))
}

func extractAdminKey(c *fiber.Ctx) string {
	key := strings.TrimSpace(c.Get(AdminKeyHeader))
	if key != "" {
		return key
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
