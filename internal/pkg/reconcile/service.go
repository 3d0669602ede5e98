// Package reconcile coordinates access sessions, payments and the hotspot
// controller. The durable source of truth is the payment/session state in
// storage; every external call either happens before the state write that
// depends on it or is safe to repeat.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hotspotpay/hotspot/app/models"
	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
	"github.com/hotspotpay/hotspot/internal/pkg/lifecycle"
	"github.com/hotspotpay/hotspot/internal/pkg/netaccess"
	"github.com/hotspotpay/hotspot/internal/pkg/notify"
	"github.com/hotspotpay/hotspot/internal/pkg/paygate"
	"github.com/hotspotpay/hotspot/internal/pkg/token"
)

// Event names recorded through EventRecorder.
const (
	EventSessionStarted     = "session_started"
	EventInitiateFailed     = "initiate_failed"
	EventPaymentSucceeded   = "payment_succeeded"
	EventPaymentFailed      = "payment_failed"
	EventPaymentTimedOut    = "payment_timed_out"
	EventActivationDeferred = "activation_deferred"
	EventSessionExpired     = "session_expired"
	EventSessionDeactivated = "session_deactivated"
	EventDisableFailed      = "disable_failed"
	EventCallbackReceived   = "callback_received"
	EventCallbackDuplicate  = "callback_duplicate"
	EventCallbackRejected   = "callback_rejected"
	EventInconsistency      = "internal_inconsistency"
	EventSMSFailed          = "sms_failed"
)

// EventRecorder counts reconciliation outcomes.
type EventRecorder interface {
	Record(ctx context.Context, event string)
}

// GatewayResolver returns the payment gateway for a provider name.
type GatewayResolver interface {
	Get(provider string) (paygate.Gateway, error)
}

type Option func(*Service)

func WithAlerter(a notify.Alerter) Option {
	return func(s *Service) { s.alerter = a }
}

func WithRecorder(r EventRecorder) Option {
	return func(s *Service) { s.events = r }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the reconciliation orchestrator.
type Service struct {
	repo       Repository
	gateways   GatewayResolver
	controller netaccess.Controller
	notifier   notify.Notifier
	alerter    notify.Alerter
	events     EventRecorder
	tokens     *token.Generator
	validate   *validator.Validate
	cfg        Config
	now        func() time.Time

	wg sync.WaitGroup
}

func NewService(repo Repository, gateways GatewayResolver, controller netaccess.Controller, notifier notify.Notifier, cfg Config, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		repo:       repo,
		gateways:   gateways,
		controller: controller,
		notifier:   notifier,
		alerter:    notify.LogAlerter{},
		tokens:     token.NewGenerator(cfg.TokenLength),
		validate:   validator.New(),
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.notifier == nil {
		s.notifier = notify.LogNotifier{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until background notifications have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) record(ctx context.Context, event string) {
	if s.events != nil {
		s.events.Record(ctx, event)
	}
}

// inconsistent logs an invariant violation at error level and returns it.
func (s *Service) inconsistent(ctx context.Context, msg string, keysAndValues ...interface{}) error {
	log.Errorw("[Reconcile] "+msg, keysAndValues...)
	s.record(ctx, EventInconsistency)
	s.alerter.Alert("internal inconsistency", fmt.Sprintf("%s %v", msg, keysAndValues))
	return apperror.Inconsistency(msg, nil)
}

func (s *Service) loadCompany(ctx context.Context, id uint) (*models.Company, error) {
	c, err := s.repo.GetCompany(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Validation(apperror.CodeCompanyNotFound, "company not found")
	}
	if err != nil {
		return nil, apperror.Inconsistency("loading company", err)
	}
	return c, nil
}

// StartSession creates the session and its payment and asks the gateway to
// collect. If the gateway refuses, both records end up failed.
func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (*StartSessionResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.Validation(apperror.CodeInvalidInput, "company, plan and phone number are required")
	}
	company, err := s.loadCompany(ctx, in.CompanyID)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.GetPlan(ctx, company.ID, in.PlanID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !plan.IsActive) {
		return nil, apperror.Validation(apperror.CodePlanNotFound, "plan not found")
	}
	if err != nil {
		return nil, apperror.Inconsistency("loading plan", err)
	}
	phone, err := paygate.NormalizePhone(in.Phone, company.GatewayCountry)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Get(company.PaymentProvider)
	if err != nil {
		return nil, err
	}

	session := &models.AccessSession{
		CompanyID:       company.ID,
		PlanID:          plan.ID,
		PhoneNumber:     phone,
		DurationMinutes: plan.DurationMinutes,
	}
	payment := &models.Payment{
		CompanyID: company.ID,
		Reference: uuid.NewString(),
		Provider:  company.PaymentProvider,
		Amount:    plan.Price,
		Currency:  company.GatewayCurrency,
		Status:    models.PaymentStatusPending,
	}
	if err := s.repo.CreateSessionWithPayment(ctx, session, payment, s.tokens.Generate, s.cfg.MaxTokenAttempts); err != nil {
		if apperror.IsKind(err, apperror.KindTokenGenerationExhausted) {
			log.Errorf("[Reconcile] Token generation exhausted for company %d", company.ID)
			return nil, err
		}
		return nil, apperror.Ensure(err)
	}
	s.record(ctx, EventSessionStarted)

	res, err := gateway.Initiate(ctx, company.GatewayCredentials(), phone, payment.Amount, payment.Reference)
	if err != nil {
		s.record(ctx, EventInitiateFailed)
		log.Warnf("[Reconcile] Payment %s initiate failed: %v", payment.Reference, err)
		now := s.now()
		if _, ferr := s.repo.MarkPaymentFailed(ctx, payment.ID, "initiate: "+apperror.PublicMessage(err), now, now); ferr != nil {
			log.Errorf("[Reconcile] Could not mark payment %s failed after initiate error: %v", payment.Reference, ferr)
		}
		return nil, apperror.Ensure(err)
	}
	if res.ProviderTransactionID != "" {
		if err := s.repo.SetProviderTransactionID(ctx, payment.ID, res.ProviderTransactionID); err != nil {
			log.Warnf("[Reconcile] Could not store provider id for %s: %v", payment.Reference, err)
		}
		payment.ProviderTransactionID = res.ProviderTransactionID
	}

	log.Infof("[Reconcile] Started session %d (payment %s, %s %s)", session.ID, payment.Reference, payment.Amount.String(), payment.Currency)
	return &StartSessionResult{Session: session, Payment: payment}, nil
}

// ConfirmPayment re-verifies a payment with its gateway and applies the
// outcome. Repeated calls converge on the same stored state.
func (s *Service) ConfirmPayment(ctx context.Context, reference string) (*ConfirmResult, error) {
	return s.confirm(ctx, strings.TrimSpace(reference), 0, nil)
}

func resultFor(p *models.Payment, sess *models.AccessSession, changed bool) *ConfirmResult {
	r := &ConfirmResult{Reference: p.Reference, PaymentStatus: p.Status, Changed: changed}
	if sess != nil {
		r.SessionID = sess.ID
		r.SessionState = sess.State
		r.ExpiresAt = sess.EndTime
		if sess.State == models.SessionStateActive || sess.State == models.SessionStateExpired || sess.State == models.SessionStateDeactivated {
			r.Token = sess.TokenValue()
		}
	}
	return r
}

func (s *Service) reload(ctx context.Context, reference string, changed bool) (*ConfirmResult, error) {
	p, err := s.repo.FindPaymentByReference(ctx, reference)
	if err != nil {
		return nil, apperror.Ensure(err)
	}
	return resultFor(p, p.Session, changed), nil
}

// confirm drives one payment towards a terminal state. companyID restricts
// the lookup to one tenant (0 means any). A non-nil trusted notice replaces
// the CheckStatus round-trip.
func (s *Service) confirm(ctx context.Context, reference string, companyID uint, trusted *paygate.CallbackNotice) (*ConfirmResult, error) {
	p, err := s.repo.FindPaymentByReference(ctx, reference)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && companyID != 0 && p.CompanyID != companyID) {
		return nil, apperror.New(apperror.KindUnknownTransaction, "", "unknown payment reference")
	}
	if err != nil {
		return nil, apperror.Inconsistency("loading payment", err)
	}
	sess := p.Session
	if sess == nil {
		return nil, s.inconsistent(ctx, "payment has no session", "reference", p.Reference)
	}

	if p.IsTerminal() {
		if !lifecycle.Consistent(sess.State, p.Status) {
			return nil, s.inconsistent(ctx, "terminal payment does not match its session",
				"reference", p.Reference, "payment_status", p.Status, "session_id", sess.ID, "session_state", sess.State)
		}
		return resultFor(p, sess, false), nil
	}
	if !lifecycle.Consistent(sess.State, p.Status) {
		return nil, s.inconsistent(ctx, "pending payment does not match its session",
			"reference", p.Reference, "session_id", sess.ID, "session_state", sess.State)
	}

	company, err := s.loadCompany(ctx, p.CompanyID)
	if err != nil {
		return nil, err
	}

	var outcome *paygate.StatusResult
	if trusted != nil {
		outcome = &paygate.StatusResult{Status: trusted.Status, ProviderTransactionID: trusted.ProviderTransactionID, Reason: trusted.Reason}
	} else {
		gateway, err := s.gateways.Get(p.Provider)
		if err != nil {
			return nil, err
		}
		outcome, err = gateway.CheckStatus(ctx, company.GatewayCredentials(), p.Reference)
		if err != nil {
			log.Warnf("[Reconcile] Status check for %s failed: %v", p.Reference, err)
			return nil, apperror.Ensure(err)
		}
	}

	switch outcome.Status {
	case paygate.StatusSucceeded:
		return s.activate(ctx, company, p, sess, outcome)
	case paygate.StatusFailed:
		reason := outcome.Reason
		if reason == "" {
			reason = "declined by provider"
		}
		now := s.now()
		changed, err := s.repo.MarkPaymentFailed(ctx, p.ID, reason, now, now.Add(-s.cfg.ClaimTTL))
		if err != nil {
			return nil, apperror.Ensure(err)
		}
		if changed {
			s.record(ctx, EventPaymentFailed)
			log.Infof("[Reconcile] Payment %s failed: %s", p.Reference, reason)
		}
		return s.reload(ctx, p.Reference, changed)
	default:
		return resultFor(p, sess, false), nil
	}
}

// activate grants access on the controller and only then commits the
// payment and session. A controller failure leaves both pending.
func (s *Service) activate(ctx context.Context, company *models.Company, p *models.Payment, sess *models.AccessSession, outcome *paygate.StatusResult) (*ConfirmResult, error) {
	tok := sess.TokenValue()
	if tok == "" {
		return nil, s.inconsistent(ctx, "session awaiting payment has no token", "session_id", sess.ID)
	}
	plan, err := s.repo.GetPlan(ctx, company.ID, sess.PlanID)
	if err != nil {
		return nil, apperror.Inconsistency("loading plan", err)
	}

	now := s.now()
	stamp, claimed, err := s.repo.ClaimActivation(ctx, sess.ID, now, s.cfg.ClaimTTL)
	if err != nil {
		return nil, apperror.Ensure(err)
	}
	if !claimed {
		// another worker is provisioning or already finished
		return s.reload(ctx, p.Reference, false)
	}

	creds := company.ControllerCredentials()
	if err := s.controller.CreateUser(ctx, creds, tok, plan.ControllerProfile); err != nil {
		if apperror.IsKind(err, apperror.KindUserAlreadyExists) {
			log.Infof("[Reconcile] Controller user for session %d already exists, continuing", sess.ID)
		} else {
			return nil, s.deferActivation(ctx, sess.ID, stamp, p.Reference, "create user", err)
		}
	}
	if err := s.controller.EnableUser(ctx, creds, tok); err != nil {
		return nil, s.deferActivation(ctx, sess.ID, stamp, p.Reference, "enable user", err)
	}

	start := s.now()
	end := start.Add(time.Duration(sess.DurationMinutes) * time.Minute)
	changed, err := s.repo.MarkPaymentSucceeded(ctx, ActivationCommit{
		PaymentID:             p.ID,
		SessionID:             sess.ID,
		ProviderTransactionID: outcome.ProviderTransactionID,
		Start:                 start,
		End:                   end,
	})
	if err != nil {
		s.compensate(ctx, creds, tok, sess.ID, p.Reference)
		if apperror.IsKind(err, apperror.KindInternalInconsistency) {
			return nil, s.inconsistent(ctx, "activation commit rejected", "reference", p.Reference, "session_id", sess.ID, "error", err)
		}
		return nil, apperror.Ensure(err)
	}
	if !changed {
		// finalized elsewhere while we were provisioning; a worker that took
		// over our stale claim may have committed the same grant
		current, err := s.reload(ctx, p.Reference, false)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus != models.PaymentStatusSucceeded {
			s.compensate(ctx, creds, tok, sess.ID, p.Reference)
		}
		return current, nil
	}

	s.record(ctx, EventPaymentSucceeded)
	log.Infof("[Reconcile] Payment %s succeeded, session %d active until %s", p.Reference, sess.ID, end.Format(time.RFC3339))
	s.sendToken(sess.PhoneNumber, tok, end)
	return s.reload(ctx, p.Reference, true)
}

func (s *Service) deferActivation(ctx context.Context, sessionID uint, stamp time.Time, reference, op string, cause error) error {
	s.record(ctx, EventActivationDeferred)
	log.Warnf("[Reconcile] Controller %s failed for payment %s, leaving it pending: %v", op, reference, cause)
	if err := s.repo.ReleaseActivation(ctx, sessionID, stamp); err != nil {
		log.Warnf("[Reconcile] Could not release activation claim on session %d: %v", sessionID, err)
	}
	if apperror.IsKind(cause, apperror.KindGatewayUnavailable) {
		return cause
	}
	return apperror.Ensure(cause)
}

// compensate revokes a grant for a payment that did not succeed.
func (s *Service) compensate(ctx context.Context, creds netaccess.Credentials, tok string, sessionID uint, reference string) {
	if err := s.controller.DisableUser(ctx, creds, tok); err != nil {
		s.record(ctx, EventDisableFailed)
		s.alerter.Alert("controller user left enabled",
			fmt.Sprintf("payment %s did not succeed but the user of session %d could not be disabled on %s: %v", reference, sessionID, creds.Host, err))
	}
}

func (s *Service) sendToken(phone, tok string, expiresAt time.Time) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()
		if err := s.notifier.SendAccessToken(ctx, phone, tok, expiresAt); err != nil {
			s.record(ctx, EventSMSFailed)
			log.Warnf("[Reconcile] Token SMS failed: %v", err)
		}
	}()
}

// HandleCallback records a gateway callback and applies it. Duplicate
// deliveries of an already processed callback are acknowledged without
// side effects.
func (s *Service) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	company, err := s.loadCompany(ctx, in.CompanyID)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Get(company.PaymentProvider)
	if err != nil {
		return nil, err
	}
	s.record(ctx, EventCallbackReceived)

	signatureValid := VerifyCallbackSignature(in.Body, in.Signature, company.CallbackSecret)
	notice, parseErr := gateway.ParseCallback(in.Body)

	event := &models.CallbackEvent{
		CompanyID:      company.ID,
		Provider:       company.PaymentProvider,
		PayloadJSON:    string(in.Body),
		SignatureValid: signatureValid,
	}
	if parseErr == nil {
		event.EventKey = notice.EventKey
		event.Reference = notice.Reference
	} else {
		event.EventKey = bodyKey(in.Body)
	}

	created, stored, err := s.repo.RecordCallback(ctx, event)
	if err != nil {
		return nil, apperror.Inconsistency("recording callback", err)
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		s.record(ctx, EventCallbackDuplicate)
		log.Infof("[Reconcile] Duplicate callback %s for %s ignored", stored.EventKey, stored.Reference)
		res := &CallbackResult{Duplicate: true}
		if stored.Reference != "" {
			if current, err := s.reload(ctx, stored.Reference, false); err == nil {
				res.Confirm = current
			}
		}
		return res, nil
	}

	fail := func(err error) (*CallbackResult, error) {
		s.record(ctx, EventCallbackRejected)
		if merr := s.repo.MarkCallbackProcessed(ctx, stored.ID, err.Error(), s.now()); merr != nil {
			log.Warnf("[Reconcile] Could not mark callback %d processed: %v", stored.ID, merr)
		}
		return nil, err
	}

	if parseErr != nil {
		return fail(parseErr)
	}
	if company.CallbackSecret != "" && !signatureValid {
		log.Warnf("[Reconcile] Callback for %s has an invalid signature", notice.Reference)
		return fail(apperror.Validation(apperror.CodeInvalidSignature, "callback signature is invalid"))
	}

	var trusted *paygate.CallbackNotice
	if signatureValid && company.TrustsSignedCallbacks() && notice.Status != paygate.StatusPending {
		trusted = notice
	}
	result, err := s.confirm(ctx, notice.Reference, company.ID, trusted)
	if err != nil {
		return fail(err)
	}
	if err := s.repo.MarkCallbackProcessed(ctx, stored.ID, "", s.now()); err != nil {
		log.Warnf("[Reconcile] Could not mark callback %d processed: %v", stored.ID, err)
	}
	return &CallbackResult{Confirm: result}, nil
}

// ActivateToken is called by the captive portal when a user logs in with a
// token. The first use binds the device; later uses from the same device
// are idempotent.
func (s *Service) ActivateToken(ctx context.Context, in ActivateInput) (*ActivateResult, error) {
	in.Token = token.Normalize(in.Token)
	in.MAC = strings.ToUpper(strings.TrimSpace(in.MAC))
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.Validation(apperror.CodeInvalidToken, "invalid token")
	}

	sess, err := s.repo.FindSessionByToken(ctx, in.CompanyID, in.Token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Validation(apperror.CodeInvalidToken, "invalid token")
	}
	if err != nil {
		return nil, apperror.Ensure(err)
	}

	if sess.State == models.SessionStatePendingPayment || sess.State == models.SessionStateCreated {
		p, err := s.repo.FindPaymentBySessionID(ctx, sess.ID)
		if err != nil {
			return nil, apperror.Ensure(err)
		}
		res, err := s.confirm(ctx, p.Reference, in.CompanyID, nil)
		if err != nil {
			if apperror.IsKind(err, apperror.KindGatewayUnavailable) {
				return nil, apperror.Validation(apperror.CodePaymentPending, "payment is still being processed")
			}
			return nil, err
		}
		switch res.SessionState {
		case models.SessionStateActive:
			if sess, err = s.repo.GetSession(ctx, sess.ID); err != nil {
				return nil, apperror.Ensure(err)
			}
		case models.SessionStateFailed:
			return nil, apperror.Validation(apperror.CodeInvalidToken, "invalid token")
		default:
			return nil, apperror.Validation(apperror.CodePaymentPending, "payment is still being processed")
		}
	}

	switch sess.State {
	case models.SessionStateActive:
	case models.SessionStateExpired, models.SessionStateDeactivated:
		return nil, apperror.Validation(apperror.CodeTokenExpired, "token has expired")
	default:
		return nil, apperror.Validation(apperror.CodeInvalidToken, "invalid token")
	}

	now := s.now()
	if sess.IsExpiredAt(now) {
		return nil, apperror.Validation(apperror.CodeTokenExpired, "token has expired")
	}

	out := &ActivateResult{SessionID: sess.ID, Token: sess.TokenValue(), ExpiresAt: *sess.EndTime, Remaining: sess.Remaining(now)}
	if in.MAC == "" {
		return out, nil
	}
	if sess.MACAddress == "" {
		bound, err := s.repo.BindDevice(ctx, sess.ID, in.IP, in.MAC)
		if err != nil {
			return nil, apperror.Ensure(err)
		}
		if bound {
			log.Infof("[Reconcile] Session %d bound to %s", sess.ID, in.MAC)
			out.FirstUse = true
			return out, nil
		}
		// lost a race with another device; re-read the winner
		if sess, err = s.repo.GetSession(ctx, sess.ID); err != nil {
			return nil, apperror.Ensure(err)
		}
	}
	if !strings.EqualFold(sess.MACAddress, in.MAC) {
		return nil, apperror.Validation(apperror.CodeTokenInUse, "token is already in use on another device")
	}
	return out, nil
}

// Deactivate ends an active session on operator request.
func (s *Service) Deactivate(ctx context.Context, sessionID uint) (*EndResult, error) {
	return s.end(ctx, sessionID, models.SessionStateDeactivated)
}

// Expire ends an active session whose time is up.
func (s *Service) Expire(ctx context.Context, sessionID uint) (*EndResult, error) {
	return s.end(ctx, sessionID, models.SessionStateExpired)
}

// DeactivateSessions deactivates each session independently and reports
// every outcome.
func (s *Service) DeactivateSessions(ctx context.Context, ids []uint) []DeactivationOutcome {
	out := make([]DeactivationOutcome, 0, len(ids))
	for _, id := range ids {
		res, err := s.Deactivate(ctx, id)
		out = append(out, DeactivationOutcome{SessionID: id, Result: res, Err: err})
	}
	return out
}

// end flips the session inactive in storage first and then disables the
// controller user. A failed disable is reported but not rolled back.
func (s *Service) end(ctx context.Context, sessionID uint, to string) (*EndResult, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Validation(apperror.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return nil, apperror.Ensure(err)
	}
	if !lifecycle.HoldsAccess(sess.State) {
		return &EndResult{SessionID: sess.ID, State: sess.State}, nil
	}

	changed, err := s.repo.EndSession(ctx, sess.ID, to, s.now())
	if err != nil {
		return nil, apperror.Ensure(err)
	}
	if !changed {
		current, err := s.repo.GetSession(ctx, sess.ID)
		if err != nil {
			return nil, apperror.Ensure(err)
		}
		return &EndResult{SessionID: sess.ID, State: current.State}, nil
	}

	if to == models.SessionStateExpired {
		s.record(ctx, EventSessionExpired)
	} else {
		s.record(ctx, EventSessionDeactivated)
	}
	res := &EndResult{SessionID: sess.ID, State: to, Changed: true}

	company, err := s.loadCompany(ctx, sess.CompanyID)
	if err != nil {
		res.DisableErr = err
	} else {
		res.DisableErr = s.controller.DisableUser(ctx, company.ControllerCredentials(), sess.TokenValue())
	}
	if res.DisableErr != nil {
		s.record(ctx, EventDisableFailed)
		log.Errorf("[Reconcile] Session %d is %s but controller disable failed: %v", sess.ID, to, res.DisableErr)
		s.alerter.Alert("controller disable failed",
			fmt.Sprintf("session %d (token %s) is %s in storage but the controller user could not be disabled: %v",
				sess.ID, token.Mask(sess.TokenValue()), to, res.DisableErr))
	} else {
		log.Infof("[Reconcile] Session %d %s", sess.ID, to)
	}
	return res, nil
}

// PollPending re-checks payments that have been pending for at least
// PollMinAge and fails the ones still pending after PendingTimeout.
func (s *Service) PollPending(ctx context.Context) (*PollReport, error) {
	now := s.now()
	payments, err := s.repo.ListPendingPayments(ctx, now.Add(-s.cfg.PollMinAge), s.cfg.PollBatch)
	if err != nil {
		return nil, apperror.Ensure(err)
	}

	report := &PollReport{}
	for i := range payments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p := &payments[i]
		report.Checked++

		res, err := s.confirm(ctx, p.Reference, 0, nil)
		if err != nil {
			report.Errors++
			log.Warnf("[Reconcile] Poll of %s failed: %v", p.Reference, err)
			continue
		}
		switch res.PaymentStatus {
		case models.PaymentStatusSucceeded:
			report.Succeeded++
			continue
		case models.PaymentStatusFailed:
			report.Failed++
			continue
		}

		if now.Sub(p.CreatedAt) < s.cfg.PendingTimeout {
			report.Pending++
			continue
		}
		changed, err := s.repo.MarkPaymentFailed(ctx, p.ID, "timeout", now, now.Add(-s.cfg.ClaimTTL))
		if err != nil {
			report.Errors++
			log.Warnf("[Reconcile] Could not time out %s: %v", p.Reference, err)
			continue
		}
		if changed {
			report.TimedOut++
			s.record(ctx, EventPaymentTimedOut)
			log.Infof("[Reconcile] Payment %s timed out after %s", p.Reference, s.cfg.PendingTimeout)
		} else {
			report.Pending++
		}
	}
	return report, nil
}

// ListSessions returns the most recent sessions of a company.
func (s *Service) ListSessions(ctx context.Context, companyID uint, activeOnly bool, limit int) ([]models.AccessSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out, err := s.repo.ListSessions(ctx, companyID, activeOnly, limit)
	if err != nil {
		return nil, apperror.Ensure(err)
	}
	return out, nil
}

// ListExpiredSessionIDs exposes the sweep query to the expiry package.
func (s *Service) ListExpiredSessionIDs(ctx context.Context, afterID uint, limit int) ([]uint, error) {
	return s.repo.ListExpiredSessionIDs(ctx, s.now(), afterID, limit)
}

// PaymentStatus returns the stored state of a payment without contacting the gateway.
func (s *Service) PaymentStatus(ctx context.Context, reference string) (*ConfirmResult, error) {
	p, err := s.repo.FindPaymentByReference(ctx, strings.TrimSpace(reference))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.KindUnknownTransaction, "", "unknown payment reference")
	}
	if err != nil {
		return nil, apperror.Ensure(err)
	}
	return resultFor(p, p.Session, false), nil
}
