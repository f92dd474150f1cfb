package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/safarilist/safarilist/internal/pkg/metrics/counter"
)

// HandleAdminPending dumps the live pending records. Debug surface only,
// gated behind the admin API key middleware; phone and email are personal
// data and must never be public.
func HandleAdminPending(c *fiber.Ctx) error {
	snapshot, err := pendingStore.Snapshot(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "Pending store unavailable",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"count":   len(snapshot),
		"pending": snapshot,
	})
}

// HandleAdminStats reports the pipeline counters.
func HandleAdminStats(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"counters": counter.Snapshot(),
	})
}
