package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hotspotpay/hotspot/app/models"
	"github.com/hotspotpay/hotspot/app/repository"
	"github.com/hotspotpay/hotspot/internal/pkg/reconcile"
)

// HotspotController serves the captive portal: plans, purchases, payment
// status and token activation.
type HotspotController struct {
	svc   *reconcile.Service
	plans repository.PlanRepository
}

func NewHotspotController(svc *reconcile.Service, plans repository.PlanRepository) *HotspotController {
	return &HotspotController{svc: svc, plans: plans}
}

type startPaymentRequest struct {
	PhoneNumber string `json:"phone_number"`
	PlanID      uint   `json:"plan_id"`
}

type activateRequest struct {
	Token      string `json:"token"`
	MACAddress string `json:"mac_address"`
	IPAddress  string `json:"ip_address"`
}

func planJSON(p models.Plan) fiber.Map {
	return fiber.Map{
		"id":               p.ID,
		"name":             p.Name,
		"price":            p.Price.StringFixed(2),
		"duration_minutes": p.DurationMinutes,
	}
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func confirmJSON(r *reconcile.ConfirmResult) fiber.Map {
	out := fiber.Map{
		"reference":     r.Reference,
		"status":        r.PaymentStatus,
		"session_id":    r.SessionID,
		"session_state": r.SessionState,
		"expires_at":    formatTimePtr(r.ExpiresAt),
	}
	if r.Token != "" {
		out["token"] = r.Token
	}
	return out
}

// HandleListPlans returns the active plans of a company.
func (h *HotspotController) HandleListPlans(c *fiber.Ctx) error {
	companyID, ok := paramID(c, "companyID")
	if !ok {
		return badRequest(c, "invalid company id")
	}
	plans, err := h.plans.ListActive(companyID)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]fiber.Map, 0, len(plans))
	for _, p := range plans {
		out = append(out, planJSON(p))
	}
	return c.JSON(fiber.Map{"plans": out})
}

// HandleStartPayment creates a session and asks the buyer's phone to approve the payment.
func (h *HotspotController) HandleStartPayment(c *fiber.Ctx) error {
	companyID, ok := paramID(c, "companyID")
	if !ok {
		return badRequest(c, "invalid company id")
	}
	var req startPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.svc.StartSession(c.UserContext(), reconcile.StartSessionInput{
		CompanyID: companyID,
		PlanID:    req.PlanID,
		Phone:     strings.TrimSpace(req.PhoneNumber),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"reference":  res.Payment.Reference,
		"session_id": res.Session.ID,
		"amount":     res.Payment.Amount.StringFixed(2),
		"currency":   res.Payment.Currency,
		"status":     res.Payment.Status,
	})
}

// HandleGetPayment returns the stored payment state without contacting the gateway.
func (h *HotspotController) HandleGetPayment(c *fiber.Ctx) error {
	res, err := h.svc.PaymentStatus(c.UserContext(), c.Params("reference"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(confirmJSON(res))
}

// HandleConfirmPayment re-verifies a payment with the gateway.
func (h *HotspotController) HandleConfirmPayment(c *fiber.Ctx) error {
	res, err := h.svc.ConfirmPayment(c.UserContext(), c.Params("reference"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(confirmJSON(res))
}

// HandleActivate logs a device in with a purchased token.
func (h *HotspotController) HandleActivate(c *fiber.Ctx) error {
	companyID, ok := paramID(c, "companyID")
	if !ok {
		return badRequest(c, "invalid company id")
	}
	var req activateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ip := strings.TrimSpace(req.IPAddress)
	if ip == "" {
		ip = GetClientIP(c)
	}

	res, err := h.svc.ActivateToken(c.UserContext(), reconcile.ActivateInput{
		CompanyID: companyID,
		Token:     req.Token,
		IP:        ip,
		MAC:       req.MACAddress,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":           "Access granted",
		"session_id":        res.SessionID,
		"expires_at":        res.ExpiresAt.UTC().Format(time.RFC3339),
		"remaining_seconds": int64(res.Remaining.Seconds()),
		"first_use":         res.FirstUse,
	})
}

var hotspotController *HotspotController

// InitializeHotspotController initializes the global hotspot controller
func InitializeHotspotController(svc *reconcile.Service) {
	hotspotController = NewHotspotController(svc, repository.GetGlobalFactory().GetPlanRepository())
}

// GetHotspotController returns the global hotspot controller instance
func GetHotspotController() *HotspotController {
	return hotspotController
}
