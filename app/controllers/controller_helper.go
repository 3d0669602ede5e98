package controllers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
)

// errorStatus maps an error to its HTTP status and public error code.
func errorStatus(err error) (int, string) {
	code := apperror.CodeOf(err)
	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		switch code {
		case apperror.CodeCompanyNotFound, apperror.CodePlanNotFound, apperror.CodeSessionNotFound:
			return fiber.StatusNotFound, code
		case apperror.CodeTokenInUse, apperror.CodePaymentPending:
			return fiber.StatusConflict, code
		case apperror.CodeTokenExpired:
			return fiber.StatusGone, code
		case apperror.CodePaymentFailed:
			return fiber.StatusPaymentRequired, code
		case apperror.CodeInvalidSignature:
			return fiber.StatusUnauthorized, code
		case "":
			return fiber.StatusBadRequest, apperror.CodeInvalidInput
		}
		return fiber.StatusBadRequest, code
	case apperror.KindUnknownTransaction:
		return fiber.StatusNotFound, "unknown_transaction"
	case apperror.KindGatewayUnavailable:
		return fiber.StatusServiceUnavailable, "gateway_unavailable"
	case apperror.KindUserAlreadyExists:
		return fiber.StatusConflict, "user_already_exists"
	case apperror.KindTokenGenerationExhausted:
		return fiber.StatusServiceUnavailable, "token_generation_exhausted"
	}
	return fiber.StatusInternalServerError, "internal_error"
}

// respondError writes the JSON error body for err.
func respondError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	message := apperror.PublicMessage(err)
	if status == fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		message = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": apperror.CodeInvalidInput, "message": message})
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// GetClientIP determines the client IP address considering proxies. The
// captive portal normally sends the device IP explicitly; this is the fallback.
func GetClientIP(c *fiber.Ctx) string {
	if cf := strings.TrimSpace(c.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		// the first entry is the original client
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return c.IP()
}
