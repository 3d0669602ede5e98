package lifecycle

import (
	"github.com/hotspotpay/hotspot/app/models"
)

// CanTransitionPayment reports whether from -> to is a legal payment move.
// Payments leave pending exactly once.
func CanTransitionPayment(from, to string) bool {
	if from != models.PaymentStatusPending {
		return false
	}
	return to == models.PaymentStatusSucceeded || to == models.PaymentStatusFailed
}

// Consistent reports whether a session/payment pair is in an allowed
// combination. A succeeded payment must belong to a session that reached
// active (or later ran out or was switched off); a failed payment must sit
// next to a failed session; a pending payment next to a pending session.
func Consistent(sessionState, paymentStatus string) bool {
	switch paymentStatus {
	case models.PaymentStatusPending:
		return sessionState == models.SessionStatePendingPayment || sessionState == models.SessionStateCreated
	case models.PaymentStatusSucceeded:
		return sessionState == models.SessionStateActive ||
			sessionState == models.SessionStateExpired ||
			sessionState == models.SessionStateDeactivated
	case models.PaymentStatusFailed:
		return sessionState == models.SessionStateFailed
	}
	return false
}
