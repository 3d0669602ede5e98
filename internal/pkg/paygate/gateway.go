// Package paygate wraps the mobile-money collection APIs behind one
// Gateway interface. Adapters own token refresh and phone normalization and
// report failures as apperror kinds.
package paygate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
)

const (
	ProviderMTNMoMo = "mtn_momo"
	ProviderAirtel  = "airtel"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Credentials is one company's merchant account with a provider.
type Credentials struct {
	Provider          string
	BaseURL           string
	ClientID          string
	ClientSecret      string
	SubscriptionKey   string
	TargetEnvironment string
	Country           string
	Currency          string
	CallbackURL       string
}

// String never includes secrets.
func (c Credentials) String() string {
	return fmt.Sprintf("%s(%s, client=%s)", c.Provider, c.BaseURL, c.ClientID)
}

type InitiateResult struct {
	Reference             string
	ProviderTransactionID string
	// AlreadyAccepted is set when the provider reported the reference as a duplicate.
	AlreadyAccepted bool
}

// StatusResult is what CheckStatus learned about a reference.
type StatusResult struct {
	Status                Status
	ProviderTransactionID string
	Reason                string
}

// CallbackNotice is a provider callback reduced to what reconciliation needs.
type CallbackNotice struct {
	Reference             string
	Status                Status
	ProviderTransactionID string
	Reason                string
	// EventKey identifies the delivery for deduplication.
	EventKey string
}

type Gateway interface {
	Initiate(ctx context.Context, creds Credentials, phone string, amount decimal.Decimal, reference string) (*InitiateResult, error)
	CheckStatus(ctx context.Context, creds Credentials, reference string) (*StatusResult, error)
	ParseCallback(body []byte) (*CallbackNotice, error)
}

// Registry selects the Gateway for a provider name.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(provider string, g Gateway) *Registry {
	r.gateways[provider] = g
	return r
}

func (r *Registry) Get(provider string) (Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, apperror.Inconsistency(fmt.Sprintf("no payment gateway registered for provider %q", provider), nil)
	}
	return g, nil
}
