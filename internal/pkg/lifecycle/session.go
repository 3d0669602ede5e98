// Package lifecycle holds the legal state transitions for access sessions
// and payments. Every state write in the service goes through these tables.
package lifecycle

import (
	"fmt"

	"github.com/hotspotpay/hotspot/app/models"
	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
)

var sessionTransitions = map[string][]string{
	models.SessionStateCreated:        {models.SessionStatePendingPayment, models.SessionStateFailed},
	models.SessionStatePendingPayment: {models.SessionStateActive, models.SessionStateFailed},
	models.SessionStateActive:         {models.SessionStateExpired, models.SessionStateDeactivated},
	models.SessionStateExpired:        nil,
	models.SessionStateDeactivated:    nil,
	models.SessionStateFailed:         nil,
}

// CanTransitionSession reports whether from -> to is a legal session move.
func CanTransitionSession(from, to string) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateSessionTransition returns an InternalInconsistency error for an
// illegal move. Callers treat this as a programming or data error.
func ValidateSessionTransition(from, to string) error {
	if CanTransitionSession(from, to) {
		return nil
	}
	return apperror.Inconsistency(fmt.Sprintf("illegal session transition %s -> %s", from, to), nil)
}

// HoldsAccess reports whether a session in state s may have an enabled
// controller user. Only active sessions grant access.
func HoldsAccess(s string) bool {
	return s == models.SessionStateActive
}
