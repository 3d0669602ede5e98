package models

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hotspotpay/hotspot/internal/pkg/netaccess"
	"github.com/hotspotpay/hotspot/internal/pkg/paygate"
)

const (
	ControllerKindRouterOS  = "routeros"
	ControllerKindSimulated = "simulated"
)

const (
	PaymentProviderMTNMoMo = "mtn_momo"
	PaymentProviderAirtel  = "airtel"
)

// Callback trust policies. "verify" always re-checks the payment status with
// the gateway before acting on a callback; "trust_signed" acts on a callback
// whose signature validates without the extra round-trip.
const (
	CallbackTrustVerify      = "verify"
	CallbackTrustTrustSigned = "trust_signed"
)

// Company is a tenant operating one hotspot controller and one merchant
// account with a mobile-money provider.
type Company struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(150);uniqueIndex;not null" json:"name" validate:"required,min=2,max=150"`

	ControllerKind     string `gorm:"type:varchar(20);not null;default:'routeros'" json:"controller_kind" validate:"oneof=routeros simulated"`
	ControllerHost     string `gorm:"type:varchar(191)" json:"controller_host" validate:"required_if=ControllerKind routeros"`
	ControllerPort     int    `gorm:"default:8728" json:"controller_port" validate:"min=0,max=65535"`
	ControllerUsername string `gorm:"type:varchar(100)" json:"-"`
	ControllerPassword string `gorm:"type:varchar(191)" json:"-"`
	ControllerUseTLS   bool   `gorm:"default:false" json:"controller_use_tls"`

	PaymentProvider          string `gorm:"type:varchar(20);not null" json:"payment_provider" validate:"required,oneof=mtn_momo airtel"`
	GatewayBaseURL           string `gorm:"type:varchar(255)" json:"-" validate:"omitempty,url"`
	GatewayClientID          string `gorm:"type:varchar(191)" json:"-"`
	GatewayClientSecret      string `gorm:"type:varchar(191)" json:"-"`
	GatewaySubscriptionKey   string `gorm:"type:varchar(191)" json:"-"`
	GatewayTargetEnvironment string `gorm:"type:varchar(50)" json:"-"`
	GatewayCountry           string `gorm:"type:varchar(2);not null;default:'UG'" json:"gateway_country" validate:"required,len=2"`
	GatewayCurrency          string `gorm:"type:varchar(3);not null;default:'UGX'" json:"gateway_currency" validate:"required,len=3"`
	GatewayCallbackURL       string `gorm:"type:varchar(255)" json:"-" validate:"omitempty,url"`

	CallbackSecret string `gorm:"type:varchar(191)" json:"-"`
	CallbackTrust  string `gorm:"type:varchar(20);not null;default:'verify'" json:"callback_trust" validate:"oneof=verify trust_signed"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Company) Validate() error {
	v := validator.New()

	return v.Struct(c)
}

// TrustsSignedCallbacks reports whether a validly signed callback may be acted
// upon without re-verifying with the gateway.
func (c *Company) TrustsSignedCallbacks() bool {
	return c.CallbackTrust == CallbackTrustTrustSigned
}

// ControllerCredentials builds the adapter configuration for this company's controller.
func (c *Company) ControllerCredentials() netaccess.Credentials {
	return netaccess.Credentials{
		Kind:     c.ControllerKind,
		Host:     c.ControllerHost,
		Port:     c.ControllerPort,
		Username: c.ControllerUsername,
		Password: c.ControllerPassword,
		UseTLS:   c.ControllerUseTLS,
	}
}

// GatewayCredentials builds the adapter configuration for this company's merchant account.
func (c *Company) GatewayCredentials() paygate.Credentials {
	return paygate.Credentials{
		Provider:          c.PaymentProvider,
		BaseURL:           c.GatewayBaseURL,
		ClientID:          c.GatewayClientID,
		ClientSecret:      c.GatewayClientSecret,
		SubscriptionKey:   c.GatewaySubscriptionKey,
		TargetEnvironment: c.GatewayTargetEnvironment,
		Country:           c.GatewayCountry,
		Currency:          c.GatewayCurrency,
		CallbackURL:       c.GatewayCallbackURL,
	}
}
