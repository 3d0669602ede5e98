package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotspotpay/hotspot/app/models"
	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
	"github.com/hotspotpay/hotspot/internal/pkg/paygate"
)

func TestStartSessionCreatesPendingRecords(t *testing.T) {
	h := newHarness(t)
	ref, tok := h.start(t)

	p := h.payment(t, ref)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, "1000", p.Amount.String())
	assert.Equal(t, "UGX", p.Currency)
	assert.Equal(t, "fin-"+ref[:8], p.ProviderTransactionID)
	require.NotNil(t, p.Session)
	assert.Equal(t, models.SessionStatePendingPayment, p.Session.State)
	assert.Equal(t, testPhone, p.Session.PhoneNumber)
	assert.Equal(t, 60, p.Session.DurationMinutes)
	assert.False(t, p.Session.IsActive)
	assert.Len(t, tok, 8)
	assert.Equal(t, []string{testPhone}, h.gateway.initiated)
	assert.Equal(t, 1, h.events.get(EventSessionStarted))
}

func TestStartSessionValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inactive := &models.Plan{CompanyID: h.company.ID, Name: "old", Price: h.plan.Price, DurationMinutes: 30, ControllerProfile: "30m", IsActive: true}
	require.NoError(t, h.db.Create(inactive).Error)
	require.NoError(t, h.db.Model(inactive).Update("is_active", false).Error)

	tests := []struct {
		name string
		in   StartSessionInput
		code string
	}{
		{"missing phone", StartSessionInput{CompanyID: h.company.ID, PlanID: h.plan.ID}, apperror.CodeInvalidInput},
		{"unknown company", StartSessionInput{CompanyID: 999, PlanID: h.plan.ID, Phone: "0771234567"}, apperror.CodeCompanyNotFound},
		{"unknown plan", StartSessionInput{CompanyID: h.company.ID, PlanID: 999, Phone: "0771234567"}, apperror.CodePlanNotFound},
		{"inactive plan", StartSessionInput{CompanyID: h.company.ID, PlanID: inactive.ID, Phone: "0771234567"}, apperror.CodePlanNotFound},
		{"bad phone", StartSessionInput{CompanyID: h.company.ID, PlanID: h.plan.ID, Phone: "12"}, apperror.CodeInvalidPhoneNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.StartSession(ctx, tt.in)
			require.Error(t, err)
			assert.True(t, apperror.IsKind(err, apperror.KindValidation))
			assert.Equal(t, tt.code, apperror.CodeOf(err))
		})
	}

	var sessions int64
	require.NoError(t, h.db.Model(&models.AccessSession{}).Count(&sessions).Error)
	assert.Zero(t, sessions)
}

func TestStartSessionInitiateFailureFailsBothRecords(t *testing.T) {
	h := newHarness(t)
	h.gateway.initiateErr = apperror.GatewayUnavailable("momo down", errors.New("dial tcp: refused"))

	_, err := h.svc.StartSession(context.Background(), StartSessionInput{CompanyID: h.company.ID, PlanID: h.plan.ID, Phone: "0771234567"})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindGatewayUnavailable))

	var p models.Payment
	require.NoError(t, h.db.Preload("Session").First(&p).Error)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Contains(t, p.FailureReason, "initiate")
	assert.NotNil(t, p.FinalizedAt)
	assert.Equal(t, models.SessionStateFailed, p.Session.State)
	assert.Equal(t, 1, h.events.get(EventInitiateFailed))
}

func TestConfirmPaymentActivatesSession(t *testing.T) {
	h := newHarness(t)
	ref, tok := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)

	res, err := h.svc.ConfirmPayment(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, models.PaymentStatusSucceeded, res.PaymentStatus)
	assert.Equal(t, models.SessionStateActive, res.SessionState)
	assert.Equal(t, tok, res.Token)
	require.NotNil(t, res.ExpiresAt)

	p := h.payment(t, ref)
	require.NotNil(t, p.Session.StartTime)
	assert.Equal(t, 60*time.Minute, p.Session.EndTime.Sub(*p.Session.StartTime))
	assert.True(t, p.Session.IsActive)
	assert.Nil(t, p.Session.ActivationClaimedAt)
	assert.NotNil(t, p.FinalizedAt)

	creates, enables, disables := h.controller.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, enables)
	assert.Zero(t, disables)
	assert.True(t, h.controller.enabled(tok))

	h.svc.Wait()
	assert.Equal(t, tok, h.notifier.sent[testPhone])
	assert.Equal(t, 1, h.events.get(EventPaymentSucceeded))
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	ctx := context.Background()

	first, err := h.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	second, err := h.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)

	assert.True(t, first.Changed)
	assert.False(t, second.Changed)
	assert.Equal(t, first.SessionState, second.SessionState)
	assert.Equal(t, first.ExpiresAt.Unix(), second.ExpiresAt.Unix())

	_, enables, _ := h.controller.counts()
	assert.Equal(t, 1, enables)
	assert.Equal(t, 1, h.gateway.checkCount())
}

func TestConfirmUnknownReference(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)

	_, err := h.svc.ConfirmPayment(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindUnknownTransaction))
	assert.Zero(t, h.gateway.checkCount())
	assert.Equal(t, models.PaymentStatusPending, h.payment(t, ref).Status)
}

func TestConfirmPendingLeavesRecordsUntouched(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)

	res, err := h.svc.ConfirmPayment(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, models.PaymentStatusPending, res.PaymentStatus)
	assert.Empty(t, res.Token)

	creates, _, _ := h.controller.counts()
	assert.Zero(t, creates)
}

func TestConfirmGatewayUnavailableMutatesNothing(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	h.gateway.statusErr = apperror.GatewayUnavailable("timeout", context.DeadlineExceeded)

	_, err := h.svc.ConfirmPayment(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindGatewayUnavailable))
	assert.Equal(t, models.PaymentStatusPending, h.payment(t, ref).Status)
}

func TestConfirmControllerFailureLeavesPaymentPending(t *testing.T) {
	h := newHarness(t)
	ref, tok := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	h.controller.createErr = apperror.GatewayUnavailable("router unreachable", errors.New("i/o timeout"))
	ctx := context.Background()

	_, err := h.svc.ConfirmPayment(ctx, ref)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindGatewayUnavailable))

	p := h.payment(t, ref)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, models.SessionStatePendingPayment, p.Session.State)
	assert.Nil(t, p.Session.ActivationClaimedAt)
	assert.Equal(t, 1, h.events.get(EventActivationDeferred))

	h.controller.createErr = nil
	res, err := h.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateActive, res.SessionState)
	assert.True(t, h.controller.enabled(tok))
}

func TestConfirmEnableFailureThenRetryReusesUser(t *testing.T) {
	h := newHarness(t)
	ref, tok := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	h.controller.enableErr = apperror.GatewayUnavailable("router unreachable", nil)
	ctx := context.Background()

	_, err := h.svc.ConfirmPayment(ctx, ref)
	require.Error(t, err)

	h.controller.enableErr = nil
	res, err := h.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateActive, res.SessionState)

	creates, enables, _ := h.controller.counts()
	assert.Equal(t, 2, creates)
	assert.Equal(t, 2, enables)
	assert.True(t, h.controller.enabled(tok))
}

func TestConfirmFailedPayment(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	h.gateway.set(ref, paygate.StatusFailed)

	res, err := h.svc.ConfirmPayment(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, models.PaymentStatusFailed, res.PaymentStatus)
	assert.Equal(t, models.SessionStateFailed, res.SessionState)
	assert.Empty(t, res.Token)

	p := h.payment(t, ref)
	assert.Equal(t, "insufficient funds", p.FailureReason)
	creates, _, _ := h.controller.counts()
	assert.Zero(t, creates)
	assert.Equal(t, 1, h.events.get(EventPaymentFailed))
}

func TestMarkFailedAfterSucceededIsNoop(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	ctx := context.Background()

	_, err := h.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)

	p := h.payment(t, ref)
	now := h.clock.now()
	changed, err := h.repo.MarkPaymentFailed(ctx, p.ID, "late failure", now, now)
	require.NoError(t, err)
	assert.False(t, changed)

	p = h.payment(t, ref)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, models.SessionStateActive, p.Session.State)
	assert.Empty(t, p.FailureReason)

	// a late failure report from the gateway does not reopen it either
	h.gateway.set(ref, paygate.StatusFailed)
	res, err := h.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, res.PaymentStatus)
}

func TestConfirmDetectsInconsistentPair(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	require.NoError(t, h.db.Model(&models.Payment{}).Where("reference = ?", ref).Update("status", models.PaymentStatusSucceeded).Error)

	_, err := h.svc.ConfirmPayment(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindInternalInconsistency))
	assert.Equal(t, 1, h.events.get(EventInconsistency))
	assert.Equal(t, 1, h.alerter.count())
}

func callbackBody(ref, status, id string) []byte {
	return []byte(fmt.Sprintf(`{"reference":%q,"status":%q,"id":%q}`, ref, status, id))
}

func signed(body []byte) string {
	return fmt.Sprintf("sha256=%x", SignCallback(body, "cb-secret"))
}

func TestHandleCallbackVerifiesWithGateway(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)

	body := callbackBody(ref, "succeeded", "tx-1")
	res, err := h.svc.HandleCallback(context.Background(), CallbackInput{CompanyID: h.company.ID, Body: body, Signature: signed(body)})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, models.SessionStateActive, res.Confirm.SessionState)
	assert.Equal(t, 1, h.gateway.checkCount())

	var ev models.CallbackEvent
	require.NoError(t, h.db.First(&ev).Error)
	assert.True(t, ev.SignatureValid)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Empty(t, ev.ProcessingError)
	assert.Equal(t, ref, ev.Reference)
}

func TestHandleCallbackVerifyPolicyIgnoresClaimedStatus(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)

	// callback claims success but the gateway still reports pending
	body := callbackBody(ref, "succeeded", "tx-1")
	res, err := h.svc.HandleCallback(context.Background(), CallbackInput{CompanyID: h.company.ID, Body: body, Signature: signed(body)})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, res.Confirm.PaymentStatus)
	creates, _, _ := h.controller.counts()
	assert.Zero(t, creates)
}

func TestHandleCallbackTrustSignedSkipsStatusCheck(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Model(h.company).Update("callback_trust", models.CallbackTrustTrustSigned).Error)
	ref, _ := h.start(t)

	body := callbackBody(ref, "succeeded", "tx-1")
	res, err := h.svc.HandleCallback(context.Background(), CallbackInput{CompanyID: h.company.ID, Body: body, Signature: signed(body)})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateActive, res.Confirm.SessionState)
	assert.Zero(t, h.gateway.checkCount())
	assert.Equal(t, "tx-1", h.payment(t, ref).ProviderTransactionID)
}

func TestHandleCallbackRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)

	body := callbackBody(ref, "succeeded", "tx-1")
	_, err := h.svc.HandleCallback(context.Background(), CallbackInput{CompanyID: h.company.ID, Body: body, Signature: "sha256=deadbeef"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidSignature, apperror.CodeOf(err))
	assert.Equal(t, models.PaymentStatusPending, h.payment(t, ref).Status)
	assert.Equal(t, 1, h.events.get(EventCallbackRejected))

	var ev models.CallbackEvent
	require.NoError(t, h.db.First(&ev).Error)
	assert.False(t, ev.SignatureValid)
	assert.NotEmpty(t, ev.ProcessingError)
}

func TestHandleCallbackDuplicateDelivery(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	ctx := context.Background()

	body := callbackBody(ref, "succeeded", "tx-1")
	in := CallbackInput{CompanyID: h.company.ID, Body: body, Signature: signed(body)}
	_, err := h.svc.HandleCallback(ctx, in)
	require.NoError(t, err)

	res, err := h.svc.HandleCallback(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	require.NotNil(t, res.Confirm)
	assert.Equal(t, models.SessionStateActive, res.Confirm.SessionState)

	_, enables, _ := h.controller.counts()
	assert.Equal(t, 1, enables)
	assert.Equal(t, 1, h.events.get(EventCallbackDuplicate))

	var n int64
	require.NoError(t, h.db.Model(&models.CallbackEvent{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestHandleCallbackRetriesAfterFailedProcessing(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	h.controller.createErr = apperror.GatewayUnavailable("router unreachable", nil)
	ctx := context.Background()

	body := callbackBody(ref, "succeeded", "tx-1")
	in := CallbackInput{CompanyID: h.company.ID, Body: body, Signature: signed(body)}
	_, err := h.svc.HandleCallback(ctx, in)
	require.Error(t, err)

	h.controller.createErr = nil
	res, err := h.svc.HandleCallback(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, models.SessionStateActive, res.Confirm.SessionState)
}

func TestHandleCallbackGarbageBody(t *testing.T) {
	h := newHarness(t)
	body := []byte(`not json`)

	_, err := h.svc.HandleCallback(context.Background(), CallbackInput{CompanyID: h.company.ID, Body: body, Signature: signed(body)})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidCallback, apperror.CodeOf(err))

	var ev models.CallbackEvent
	require.NoError(t, h.db.First(&ev).Error)
	assert.Equal(t, bodyKey(body), ev.EventKey)
}

func TestHandleCallbackOtherCompanyReference(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	other := &models.Company{Name: "Other", ControllerKind: models.ControllerKindSimulated, PaymentProvider: models.PaymentProviderMTNMoMo,
		GatewayCountry: "UG", GatewayCurrency: "UGX", CallbackSecret: "cb-secret", CallbackTrust: models.CallbackTrustVerify}
	require.NoError(t, h.db.Create(other).Error)

	body := callbackBody(ref, "succeeded", "tx-9")
	_, err := h.svc.HandleCallback(context.Background(), CallbackInput{CompanyID: other.ID, Body: body, Signature: signed(body)})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindUnknownTransaction))
	assert.Equal(t, models.PaymentStatusPending, h.payment(t, ref).Status)
}

func activate(t *testing.T, h *harness) (string, string) {
	t.Helper()
	ref, tok := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	_, err := h.svc.ConfirmPayment(context.Background(), ref)
	require.NoError(t, err)
	return ref, tok
}

func TestActivateTokenBindsDevice(t *testing.T) {
	h := newHarness(t)
	_, tok := activate(t, h)
	ctx := context.Background()

	res, err := h.svc.ActivateToken(ctx, ActivateInput{CompanyID: h.company.ID, Token: " " + tok + " ", IP: "10.5.50.2", MAC: "aa:bb:cc:dd:ee:01"})
	require.NoError(t, err)
	assert.True(t, res.FirstUse)
	assert.Equal(t, tok, res.Token)
	assert.Equal(t, 60*time.Minute, res.Remaining)

	again, err := h.svc.ActivateToken(ctx, ActivateInput{CompanyID: h.company.ID, Token: tok, MAC: "AA:BB:CC:DD:EE:01"})
	require.NoError(t, err)
	assert.False(t, again.FirstUse)

	_, err = h.svc.ActivateToken(ctx, ActivateInput{CompanyID: h.company.ID, Token: tok, MAC: "aa:bb:cc:dd:ee:02"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeTokenInUse, apperror.CodeOf(err))
}

func TestActivateTokenErrors(t *testing.T) {
	h := newHarness(t)
	_, tok := activate(t, h)
	ctx := context.Background()

	_, err := h.svc.ActivateToken(ctx, ActivateInput{CompanyID: h.company.ID, Token: "ZZZZZZZZ"})
	assert.Equal(t, apperror.CodeInvalidToken, apperror.CodeOf(err))

	_, err = h.svc.ActivateToken(ctx, ActivateInput{CompanyID: h.company.ID + 1, Token: tok})
	assert.Equal(t, apperror.CodeInvalidToken, apperror.CodeOf(err))

	h.clock.advance(61 * time.Minute)
	_, err = h.svc.ActivateToken(ctx, ActivateInput{CompanyID: h.company.ID, Token: tok})
	assert.Equal(t, apperror.CodeTokenExpired, apperror.CodeOf(err))
}

func TestActivateTokenConfirmsPendingPayment(t *testing.T) {
	h := newHarness(t)
	ref, tok := h.start(t)
	ctx := context.Background()

	_, err := h.svc.ActivateToken(ctx, ActivateInput{CompanyID: h.company.ID, Token: tok})
	assert.Equal(t, apperror.CodePaymentPending, apperror.CodeOf(err))

	h.gateway.set(ref, paygate.StatusSucceeded)
	res, err := h.svc.ActivateToken(ctx, ActivateInput{CompanyID: h.company.ID, Token: tok})
	require.NoError(t, err)
	assert.Equal(t, tok, res.Token)
	assert.True(t, h.controller.enabled(tok))
}

func TestActivateTokenFailedPayment(t *testing.T) {
	h := newHarness(t)
	ref, tok := h.start(t)
	h.gateway.set(ref, paygate.StatusFailed)

	_, err := h.svc.ActivateToken(context.Background(), ActivateInput{CompanyID: h.company.ID, Token: tok})
	assert.Equal(t, apperror.CodeInvalidToken, apperror.CodeOf(err))
}

func TestDeactivateDisablesControllerUser(t *testing.T) {
	h := newHarness(t)
	ref, tok := activate(t, h)
	ctx := context.Background()
	sessionID := h.payment(t, ref).SessionID

	res, err := h.svc.Deactivate(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, models.SessionStateDeactivated, res.State)
	assert.NoError(t, res.DisableErr)
	assert.False(t, h.controller.enabled(tok))

	p := h.payment(t, ref)
	assert.False(t, p.Session.IsActive)
	assert.NotNil(t, p.Session.DeactivatedAt)

	again, err := h.svc.Deactivate(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	_, _, disables := h.controller.counts()
	assert.Equal(t, 1, disables)

	_, err = h.svc.ActivateToken(ctx, ActivateInput{CompanyID: h.company.ID, Token: tok})
	assert.Equal(t, apperror.CodeTokenExpired, apperror.CodeOf(err))
}

func TestDeactivateDisableFailureIsReported(t *testing.T) {
	h := newHarness(t)
	ref, _ := activate(t, h)
	h.controller.disableErr = apperror.GatewayUnavailable("router unreachable", nil)

	res, err := h.svc.Expire(context.Background(), h.payment(t, ref).SessionID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, models.SessionStateExpired, res.State)
	require.Error(t, res.DisableErr)

	p := h.payment(t, ref)
	assert.Equal(t, models.SessionStateExpired, p.Session.State)
	assert.False(t, p.Session.IsActive)
	assert.Equal(t, 1, h.events.get(EventDisableFailed))
	assert.Equal(t, 1, h.alerter.count())
}

func TestDeactivateSessions(t *testing.T) {
	h := newHarness(t)
	ref, _ := activate(t, h)
	id := h.payment(t, ref).SessionID

	out := h.svc.DeactivateSessions(context.Background(), []uint{id, 4242})
	require.Len(t, out, 2)
	require.NoError(t, out[0].Err)
	assert.True(t, out[0].Result.Changed)
	assert.Equal(t, apperror.CodeSessionNotFound, apperror.CodeOf(out[1].Err))
}

func TestDeactivatePendingSessionIsNoop(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)

	res, err := h.svc.Deactivate(context.Background(), h.payment(t, ref).SessionID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, models.SessionStatePendingPayment, res.State)
}

func TestPollPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	paid, _ := h.start(t)
	stuck, _ := h.start(t)
	h.gateway.set(paid, paygate.StatusSucceeded)

	// too young to poll
	report, err := h.svc.PollPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)

	h.clock.advance(time.Minute)
	report, err = h.svc.PollPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Pending)

	h.clock.advance(20 * time.Minute)
	report, err = h.svc.PollPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.TimedOut)

	p := h.payment(t, stuck)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, "timeout", p.FailureReason)
	assert.Equal(t, models.SessionStateFailed, p.Session.State)
	assert.Equal(t, 1, h.events.get(EventPaymentTimedOut))
}

func TestListExpiredSessionIDs(t *testing.T) {
	h := newHarness(t)
	ref, _ := activate(t, h)
	id := h.payment(t, ref).SessionID
	ctx := context.Background()

	ids, err := h.svc.ListExpiredSessionIDs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	h.clock.advance(61 * time.Minute)
	ids, err = h.svc.ListExpiredSessionIDs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{id}, ids)

	ids, err = h.svc.ListExpiredSessionIDs(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStaleClaimTakeoverKeepsAccess(t *testing.T) {
	h := newHarness(t)
	ref, tok := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	ctx := context.Background()

	// the first worker stalls after enabling until its claim has run out;
	// a second confirm takes over and commits
	var takeover *ConfirmResult
	h.controller.onEnable = func(call int) {
		if call != 1 {
			return
		}
		h.clock.advance(DefaultConfig().ClaimTTL + time.Second)
		res, err := h.svc.ConfirmPayment(ctx, ref)
		if assert.NoError(t, err) {
			takeover = res
		}
	}

	res, err := h.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, takeover)
	assert.True(t, takeover.Changed)
	assert.False(t, res.Changed)
	assert.Equal(t, models.PaymentStatusSucceeded, res.PaymentStatus)
	assert.Equal(t, models.SessionStateActive, res.SessionState)

	_, enables, disables := h.controller.counts()
	assert.LessOrEqual(t, enables, 2)
	assert.Zero(t, disables)
	assert.True(t, h.controller.enabled(tok))
	assert.Zero(t, h.alerter.count())
	assert.Equal(t, 1, h.events.get(EventPaymentSucceeded))

	p := h.payment(t, ref)
	assert.Equal(t, models.SessionStateActive, p.Session.State)
	assert.True(t, p.Session.IsActive)
}

func TestFailedWorkerDoesNotReleaseTakeoverClaim(t *testing.T) {
	h := newHarness(t)
	ref, _ := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	ctx := context.Background()
	sessionID := h.payment(t, ref).SessionID
	ttl := DefaultConfig().ClaimTTL

	h.controller.enableErr = apperror.GatewayUnavailable("router unreachable", nil)
	h.controller.onEnable = func(call int) {
		if call != 1 {
			return
		}
		h.clock.advance(ttl + time.Second)
		_, ok, err := h.repo.ClaimActivation(ctx, sessionID, h.clock.now(), ttl)
		assert.NoError(t, err)
		assert.True(t, ok)
	}

	_, err := h.svc.ConfirmPayment(ctx, ref)
	require.Error(t, err)

	// the takeover claim is still live, so a third worker stands back
	h.controller.enableErr = nil
	res, err := h.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, res.PaymentStatus)

	_, enables, _ := h.controller.counts()
	assert.Equal(t, 1, enables)
	assert.NotNil(t, h.payment(t, ref).Session.ActivationClaimedAt)
}

func TestCommitAfterTimeoutRevokesGrant(t *testing.T) {
	h := newHarness(t)
	ref, tok := h.start(t)
	h.gateway.set(ref, paygate.StatusSucceeded)
	ctx := context.Background()
	paymentID := h.payment(t, ref).ID

	// the payment is failed behind the worker's back while it provisions
	h.controller.onEnable = func(call int) {
		if call != 1 {
			return
		}
		require.NoError(t, h.db.Model(&models.Payment{}).Where("id = ?", paymentID).
			Update("status", models.PaymentStatusFailed).Error)
		require.NoError(t, h.db.Model(&models.AccessSession{}).Where("id = ?", h.payment(t, ref).SessionID).
			Update("state", models.SessionStateFailed).Error)
	}

	res, err := h.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, res.PaymentStatus)

	_, _, disables := h.controller.counts()
	assert.Equal(t, 1, disables)
	assert.False(t, h.controller.enabled(tok))
}
