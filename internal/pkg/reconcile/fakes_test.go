package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hotspotpay/hotspot/app/models"
	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
	"github.com/hotspotpay/hotspot/internal/pkg/database"
	"github.com/hotspotpay/hotspot/internal/pkg/netaccess"
	"github.com/hotspotpay/hotspot/internal/pkg/paygate"
)

// fakeController counts calls and can be told to fail.
type fakeController struct {
	mu sync.Mutex

	creates  int
	enables  int
	disables int
	users    map[string]bool

	createErr  error
	enableErr  error
	disableErr error

	// flaky, when set, fails an enable with a transient error when it returns true.
	flaky func() bool
	// onEnable runs after every enable, outside the lock.
	onEnable func(call int)
	granted  map[string]int
}

func newFakeController() *fakeController {
	return &fakeController{users: map[string]bool{}, granted: map[string]int{}}
}

func (f *fakeController) CreateUser(_ context.Context, _ netaccess.Credentials, token, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.users[token]; ok {
		return apperror.New(apperror.KindUserAlreadyExists, "", "exists")
	}
	f.users[token] = false
	return nil
}

func (f *fakeController) EnableUser(_ context.Context, _ netaccess.Credentials, token string) error {
	f.mu.Lock()
	f.enables++
	call := f.enables
	err := f.enableErr
	if err == nil && f.flaky != nil && f.flaky() {
		err = apperror.GatewayUnavailable("router flapped", nil)
	}
	if err == nil {
		f.users[token] = true
		f.granted[token]++
	}
	hook := f.onEnable
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}

func (f *fakeController) DisableUser(_ context.Context, _ netaccess.Credentials, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disables++
	if f.disableErr != nil {
		return f.disableErr
	}
	if _, ok := f.users[token]; ok {
		f.users[token] = false
	}
	return nil
}

func (f *fakeController) enabled(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[token]
}

// grants returns how many enables of token succeeded.
func (f *fakeController) grants(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted[token]
}

func (f *fakeController) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.enables, f.disables
}

// fakeGateway answers CheckStatus from a per-reference table.
type fakeGateway struct {
	mu sync.Mutex

	status      map[string]paygate.Status
	initiateErr error
	statusErr   error
	checks      int
	initiated   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{status: map[string]paygate.Status{}}
}

func (g *fakeGateway) Initiate(_ context.Context, _ paygate.Credentials, phone string, _ decimal.Decimal, reference string) (*paygate.InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	g.initiated = append(g.initiated, phone)
	return &paygate.InitiateResult{Reference: reference, ProviderTransactionID: "fin-" + reference[:8]}, nil
}

func (g *fakeGateway) CheckStatus(_ context.Context, _ paygate.Credentials, reference string) (*paygate.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	st, ok := g.status[reference]
	if !ok {
		st = paygate.StatusPending
	}
	res := &paygate.StatusResult{Status: st}
	if st == paygate.StatusFailed {
		res.Reason = "insufficient funds"
	}
	return res, nil
}

func (g *fakeGateway) set(reference string, st paygate.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[reference] = st
}

func (g *fakeGateway) checkCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checks
}

type fakeCallback struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	ID        string `json:"id"`
}

func (g *fakeGateway) ParseCallback(body []byte) (*paygate.CallbackNotice, error) {
	var cb fakeCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.Reference == "" {
		return nil, apperror.Validation(apperror.CodeInvalidCallback, "callback body is not a payment notification")
	}
	return &paygate.CallbackNotice{
		Reference:             cb.Reference,
		Status:                paygate.Status(cb.Status),
		ProviderTransactionID: cb.ID,
		EventKey:              cb.ID + ":" + cb.Status,
	}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string]string
}

func (n *fakeNotifier) SendAccessToken(_ context.Context, phone, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[string]string{}
	}
	n.sent[phone] = token
	return nil
}

type fakeAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *fakeAlerter) Alert(subject, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subjects)
}

type countingRecorder struct {
	mu     sync.Mutex
	events map[string]int
}

func (r *countingRecorder) Record(_ context.Context, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[string]int{}
	}
	r.events[event]++
}

func (r *countingRecorder) get(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[event]
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	db         *gorm.DB
	repo       Repository
	svc        *Service
	controller *fakeController
	gateway    *fakeGateway
	notifier   *fakeNotifier
	alerter    *fakeAlerter
	events     *countingRecorder
	clock      *clock
	company    *models.Company
	plan       *models.Plan
}

const testPhone = "+256771234567"

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := database.OpenTestDB(t)

	company := &models.Company{
		Name:            "Kampala Cafe",
		ControllerKind:  models.ControllerKindSimulated,
		PaymentProvider: models.PaymentProviderMTNMoMo,
		GatewayCountry:  "UG",
		GatewayCurrency: "UGX",
		CallbackSecret:  "cb-secret",
		CallbackTrust:   models.CallbackTrustVerify,
	}
	require.NoError(t, db.Create(company).Error)
	plan := &models.Plan{
		CompanyID:         company.ID,
		Name:              "1 hour",
		Price:             decimal.RequireFromString("1000"),
		DurationMinutes:   60,
		ControllerProfile: "1h",
		IsActive:          true,
	}
	require.NoError(t, db.Create(plan).Error)

	h := &harness{
		db:         db,
		repo:       NewRepository(db),
		controller: newFakeController(),
		gateway:    newFakeGateway(),
		notifier:   &fakeNotifier{},
		alerter:    &fakeAlerter{},
		events:     &countingRecorder{},
		clock:      &clock{t: time.Now().UTC().Truncate(time.Second)},
		company:    company,
		plan:       plan,
	}
	registry := paygate.NewRegistry().Register(models.PaymentProviderMTNMoMo, h.gateway)
	h.svc = NewService(h.repo, registry, h.controller, h.notifier, DefaultConfig(),
		WithAlerter(h.alerter), WithRecorder(h.events), WithClock(h.clock.now))
	return h
}

// start buys the harness plan and returns the payment reference and token.
func (h *harness) start(t *testing.T) (string, string) {
	t.Helper()
	res, err := h.svc.StartSession(context.Background(), StartSessionInput{
		CompanyID: h.company.ID,
		PlanID:    h.plan.ID,
		Phone:     "0771 234567",
	})
	require.NoError(t, err)
	return res.Payment.Reference, res.Session.TokenValue()
}

func (h *harness) payment(t *testing.T, reference string) *models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, h.db.Preload("Session").Where("reference = ?", reference).First(&p).Error)
	return &p
}
