// Package http exposes the thin HTTP trigger surface over the core services.
package http

import (
	"strings"

	"mailsort_server/core/domain"
	"mailsort_server/infra/middleware"
	"mailsort_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// GetUserID extracts the authenticated user id.
func GetUserID(c *fiber.Ctx) (string, error) {
	userID, ok := c.Locals(middleware.LocalUserID).(string)
	if !ok || userID == "" {
		return "", apperr.Unauthorized("unauthorized")
	}
	return userID, nil
}

// parseProvider accepts "gmail" as an alias of the google provider.
func parseProvider(c *fiber.Ctx) (domain.Provider, error) {
	raw := strings.ToLower(strings.TrimSpace(c.Params("provider")))
	if raw == "gmail" {
		raw = string(domain.ProviderGmail)
	}
	p := domain.Provider(raw)
	if !p.Valid() {
		return "", apperr.InvalidInput("provider", "unknown provider")
	}
	return p, nil
}

// bindJSON parses the body, mapping decode failures to 400.
func bindJSON(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	return nil
}
