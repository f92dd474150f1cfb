package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/safarilist/safarilist/app/controllers"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Initialize the subscription engine (pending store, key strategy,
	// gateway clients) before any route can fire.
	controllers.InitializeSubscriptionControllers()

	app.Get("/", controllers.HandleIndex)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
