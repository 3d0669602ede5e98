package apiv1

import "github.com/gofiber/fiber/v2"

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists the public v1 operations documented in
// public/docs/v1/openapi.yml.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
	ListPlans(c *fiber.Ctx) error
	StartPayment(c *fiber.Ctx) error
	GetPayment(c *fiber.Ctx) error
	ConfirmPayment(c *fiber.Ctx) error
	PostCallback(c *fiber.Ctx) error
	ActivateToken(c *fiber.Ctx) error
}

// RegisterHandlers mounts every v1 operation on router.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	router.Get("/ping", si.GetPing)

	router.Get("/companies/:companyID/plans", si.ListPlans)
	router.Post("/companies/:companyID/payments", si.StartPayment)
	router.Post("/companies/:companyID/callbacks", si.PostCallback)
	router.Post("/companies/:companyID/activate", si.ActivateToken)

	router.Get("/payments/:reference", si.GetPayment)
	router.Post("/payments/:reference/confirm", si.ConfirmPayment)
}
