package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers to keep behavior consistent with the admin API
	"github.com/hotspotpay/hotspot/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct {
	hotspot *controllers.HotspotController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(hotspot *controllers.HotspotController) *APIServer {
	return &APIServer{hotspot: hotspot}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// ListPlans returns the plans a captive portal can offer.
func (s *APIServer) ListPlans(c *fiber.Ctx) error {
	return s.hotspot.HandleListPlans(c)
}

// StartPayment creates a session and sends the collection request to the buyer's phone.
func (s *APIServer) StartPayment(c *fiber.Ctx) error {
	return s.hotspot.HandleStartPayment(c)
}

// GetPayment reads the stored payment state; it never contacts the gateway.
func (s *APIServer) GetPayment(c *fiber.Ctx) error {
	return s.hotspot.HandleGetPayment(c)
}

// ConfirmPayment is the client-triggered poll.
func (s *APIServer) ConfirmPayment(c *fiber.Ctx) error {
	return s.hotspot.HandleConfirmPayment(c)
}

// PostCallback receives gateway notifications.
func (s *APIServer) PostCallback(c *fiber.Ctx) error {
	return s.hotspot.HandleCallback(c)
}

// ActivateToken logs a device in with a token.
func (s *APIServer) ActivateToken(c *fiber.Ctx) error {
	return s.hotspot.HandleActivate(c)
}
