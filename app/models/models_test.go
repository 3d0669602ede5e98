package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCompany() *Company {
	return &Company{
		Name:            "Kampala Cafe",
		ControllerKind:  ControllerKindRouterOS,
		ControllerHost:  "10.0.0.1",
		PaymentProvider: PaymentProviderMTNMoMo,
		GatewayCountry:  "UG",
		GatewayCurrency: "UGX",
		CallbackTrust:   CallbackTrustVerify,
	}
}

func TestCompanyValidate(t *testing.T) {
	c := validCompany()
	require.NoError(t, c.Validate())

	c.ControllerHost = ""
	assert.Error(t, c.Validate(), "routeros controllers need a host")

	c.ControllerKind = ControllerKindSimulated
	assert.NoError(t, c.Validate())

	c.PaymentProvider = "mpesa"
	assert.Error(t, c.Validate())
}

func TestCompanyCredentialsCarryTenantSettings(t *testing.T) {
	c := validCompany()
	c.ControllerPassword = "router-pass"
	c.GatewayClientSecret = "gw-secret"

	cc := c.ControllerCredentials()
	assert.Equal(t, "10.0.0.1", cc.Host)
	assert.Equal(t, "router-pass", cc.Password)
	assert.NotContains(t, cc.String(), "router-pass")

	gc := c.GatewayCredentials()
	assert.Equal(t, PaymentProviderMTNMoMo, gc.Provider)
	assert.Equal(t, "UGX", gc.Currency)
	assert.NotContains(t, gc.String(), "gw-secret")

	assert.False(t, c.TrustsSignedCallbacks())
	c.CallbackTrust = CallbackTrustTrustSigned
	assert.True(t, c.TrustsSignedCallbacks())
}

func TestPlanValidate(t *testing.T) {
	p := &Plan{Name: "1 hour", Price: decimal.RequireFromString("1000"), DurationMinutes: 60, ControllerProfile: "1h"}
	require.NoError(t, p.Validate())
	assert.Equal(t, time.Hour, p.Duration())

	p.Price = decimal.RequireFromString("0")
	assert.ErrorIs(t, p.Validate(), ErrInvalidPrice)

	p.Price = decimal.RequireFromString("10.005")
	assert.ErrorIs(t, p.Validate(), ErrInvalidPrice)

	p.Price = decimal.RequireFromString("10.50")
	p.DurationMinutes = 0
	assert.Error(t, p.Validate())
}

func TestAccessSessionTimeHelpers(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &AccessSession{}
	assert.Equal(t, "", s.TokenValue())
	assert.False(t, s.IsExpiredAt(now))
	assert.Equal(t, time.Duration(0), s.Remaining(now))

	tok := "ABCD2345"
	end := now.Add(30 * time.Minute)
	s.Token = &tok
	s.EndTime = &end
	assert.Equal(t, tok, s.TokenValue())
	assert.False(t, s.IsExpiredAt(now))
	assert.Equal(t, 30*time.Minute, s.Remaining(now))
	assert.True(t, s.IsExpiredAt(end))
	assert.Equal(t, time.Duration(0), s.Remaining(end.Add(time.Minute)))
}

func TestPaymentIsTerminal(t *testing.T) {
	assert.False(t, (&Payment{Status: PaymentStatusPending}).IsTerminal())
	assert.True(t, (&Payment{Status: PaymentStatusSucceeded}).IsTerminal())
	assert.True(t, (&Payment{Status: PaymentStatusFailed}).IsTerminal())
}
