package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hotspotpay/hotspot/app/controllers"
	"github.com/hotspotpay/hotspot/internal/pkg/constants"
	"github.com/hotspotpay/hotspot/internal/pkg/middleware"
)

type AdminRouter struct {
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	admin := controllers.GetAdminController()

	adminGroup := app.Group(constants.AdminRoute, middleware.AdminKeyAuthFromEnv())
	adminGroup.Get("/companies/:companyID/sessions", admin.HandleListSessions)
	adminGroup.Post("/sessions/deactivate", admin.HandleDeactivateSessions)

	// Reconciliation jobs
	adminGroup.Post("/sweep", admin.HandleSweep)
	adminGroup.Post("/payments/poll", admin.HandlePoll)
	adminGroup.Get("/stats", admin.HandleStats)
}

func NewAdminRouter() *AdminRouter {
	return &AdminRouter{}
}
