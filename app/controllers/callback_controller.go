package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hotspotpay/hotspot/internal/pkg/reconcile"
)

// HandleCallback receives a payment provider notification for a company.
// The raw body is passed on unchanged because the signature covers it.
func (h *HotspotController) HandleCallback(c *fiber.Ctx) error {
	companyID, ok := paramID(c, "companyID")
	if !ok {
		return badRequest(c, "invalid company id")
	}
	body := append([]byte(nil), c.Body()...)

	res, err := h.svc.HandleCallback(c.UserContext(), reconcile.CallbackInput{
		CompanyID: companyID,
		Body:      body,
		Signature: c.Get(reconcile.SignatureHeader),
	})
	if err != nil {
		return respondError(c, err)
	}

	out := fiber.Map{"status": "ok", "duplicate": res.Duplicate}
	if res.Confirm != nil {
		out["payment_status"] = res.Confirm.PaymentStatus
	}
	return c.JSON(out)
}
