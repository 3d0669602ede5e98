package reconcile

import (
	"time"

	"github.com/hotspotpay/hotspot/app/models"
)

// StartSessionInput is a purchase request from the captive portal.
type StartSessionInput struct {
	CompanyID uint   `validate:"required"`
	PlanID    uint   `validate:"required"`
	Phone     string `validate:"required,max=32"`
}

type StartSessionResult struct {
	Session *models.AccessSession
	Payment *models.Payment
}

// ConfirmResult describes the stored state after a confirm attempt.
type ConfirmResult struct {
	Reference     string
	PaymentStatus string
	SessionID     uint
	SessionState  string
	Token         string
	ExpiresAt     *time.Time
	// Changed is set when this call moved the payment to a terminal state.
	Changed bool
}

// CallbackInput is a raw gateway callback addressed to one company.
type CallbackInput struct {
	CompanyID uint
	Body      []byte
	Signature string
}

type CallbackResult struct {
	Duplicate bool
	Confirm   *ConfirmResult
}

type ActivateInput struct {
	CompanyID uint   `validate:"required"`
	Token     string `validate:"required,max=16"`
	IP        string `validate:"omitempty,ip"`
	MAC       string `validate:"omitempty,mac"`
}

type ActivateResult struct {
	SessionID uint
	Token     string
	ExpiresAt time.Time
	Remaining time.Duration
	// FirstUse is set when this call bound the device to the session.
	FirstUse bool
}

// EndResult reports a deactivation or expiry. DisableErr carries a failed
// controller call; the session is inactive in storage regardless.
type EndResult struct {
	SessionID  uint
	State      string
	Changed    bool
	DisableErr error
}

// DeactivationOutcome is one row of a bulk admin deactivation.
type DeactivationOutcome struct {
	SessionID uint
	Result    *EndResult
	Err       error
}

type PollReport struct {
	Checked   int
	Succeeded int
	Failed    int
	TimedOut  int
	Pending   int
	Errors    int
}

// ActivationCommit is the local write that follows a successful controller grant.
type ActivationCommit struct {
	PaymentID             uint
	SessionID             uint
	ProviderTransactionID string
	Start                 time.Time
	End                   time.Time
}
