package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/safarilist/safarilist/internal/pkg/env"
)

// HandleIndex renders the landing page with the configured amount so the
// form always shows what the STK prompt will charge.
func HandleIndex(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"Amount":         env.GetEnv("MPESA_AMOUNT", "100"),
		"CaptchaSiteKey": env.GetEnv("HCAPTCHA_SITE_KEY", ""),
	})
}
