package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/safarilist/safarilist/app/controllers"
	"github.com/safarilist/safarilist/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	v1 := api.Group("/v1")

	// Public form endpoint, rate limited per client.
	v1.Post("/subscriptions", limiter.New(limiter.Config{Max: 10}), controllers.HandleSubscribe)

	// Payment provider callback. Never rate limited: a throttled 429
	// would make Daraja redeliver.
	v1.Post("/payments/mpesa/callback", controllers.HandleMpesaCallback)

	// Admin/debug surface.
	admin := v1.Group("/admin", middleware.AdminKeyMiddleware())
	admin.Get("/pending", controllers.HandleAdminPending)
	admin.Get("/stats", controllers.HandleAdminStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
