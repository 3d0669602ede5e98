package paygate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
)

const defaultMoMoBaseURL = "https://sandbox.momodeveloper.mtn.com"

// MoMo is the MTN Mobile Money collection API client.
type MoMo struct {
	client *httpClient
}

func NewMoMo(hc *http.Client, attempts int, backoff time.Duration) *MoMo {
	return &MoMo{client: newHTTPClient("MTN MoMo", hc, attempts, backoff)}
}

type momoParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type momoRequestToPay struct {
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ExternalID   string    `json:"externalId"`
	Payer        momoParty `json:"payer"`
	PayerMessage string    `json:"payerMessage"`
	PayeeNote    string    `json:"payeeNote"`
}

// momoTransaction is both the status response and the callback body.
type momoTransaction struct {
	FinancialTransactionID string          `json:"financialTransactionId"`
	ExternalID             string          `json:"externalId"`
	Status                 string          `json:"status"`
	Reason                 json.RawMessage `json:"reason"`
}

func (m *MoMo) base(creds Credentials) string {
	if b := trimBase(creds.BaseURL); b != "" {
		return b
	}
	return defaultMoMoBaseURL
}

func (m *MoMo) tokenSource(creds Credentials) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     m.base(creds) + "/collection/token/",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return m.client.tokenSource(cfg, map[string]string{"Ocp-Apim-Subscription-Key": creds.SubscriptionKey})
}

func (m *MoMo) headers(creds Credentials) map[string]string {
	h := map[string]string{
		"Ocp-Apim-Subscription-Key": creds.SubscriptionKey,
		"X-Target-Environment":      creds.TargetEnvironment,
	}
	if h["X-Target-Environment"] == "" {
		h["X-Target-Environment"] = "sandbox"
	}
	return h
}

// Initiate sends a requesttopay. The provider answers 202 Accepted; 409 means
// the reference was already submitted, which a retry can safely ignore.
func (m *MoMo) Initiate(ctx context.Context, creds Credentials, phone string, amount decimal.Decimal, reference string) (*InitiateResult, error) {
	party, err := msisdn(phone, creds.Country)
	if err != nil {
		return nil, err
	}
	headers := m.headers(creds)
	headers["X-Reference-Id"] = reference
	if creds.CallbackURL != "" {
		headers["X-Callback-Url"] = creds.CallbackURL
	}

	resp, err := m.client.do(ctx, apiRequest{
		method:  http.MethodPost,
		url:     m.base(creds) + "/collection/v1_0/requesttopay",
		headers: headers,
		token:   m.tokenSource(creds),
		body: momoRequestToPay{
			Amount:       amount.String(),
			Currency:     creds.Currency,
			ExternalID:   reference,
			Payer:        momoParty{PartyIDType: "MSISDN", PartyID: party},
			PayerMessage: "Payment for WiFi hotspot access",
			PayeeNote:    "WiFi hotspot access",
		},
	}, http.StatusConflict)
	if err != nil {
		return nil, err
	}

	out := &InitiateResult{Reference: reference}
	if resp.status == http.StatusConflict {
		log.Warnf("[MTN MoMo] Reference %s was already submitted", reference)
		out.AlreadyAccepted = true
	}
	return out, nil
}

func (m *MoMo) CheckStatus(ctx context.Context, creds Credentials, reference string) (*StatusResult, error) {
	resp, err := m.client.do(ctx, apiRequest{
		method:  http.MethodGet,
		url:     m.base(creds) + "/collection/v1_0/requesttopay/" + url.PathEscape(reference),
		headers: m.headers(creds),
		token:   m.tokenSource(creds),
	}, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		// not yet visible on the provider side
		return &StatusResult{Status: StatusPending}, nil
	}

	var tx momoTransaction
	if err := json.Unmarshal(resp.body, &tx); err != nil {
		return nil, apperror.GatewayUnavailable("MTN MoMo returned an unreadable status", err)
	}
	return &StatusResult{
		Status:                momoStatus(tx.Status),
		ProviderTransactionID: tx.FinancialTransactionID,
		Reason:                momoReason(tx.Reason),
	}, nil
}

func (m *MoMo) ParseCallback(body []byte) (*CallbackNotice, error) {
	var tx momoTransaction
	if err := json.Unmarshal(body, &tx); err != nil || tx.ExternalID == "" {
		return nil, apperror.Validation(apperror.CodeInvalidCallback, "callback payload is not a MoMo transaction")
	}
	status := momoStatus(tx.Status)
	return &CallbackNotice{
		Reference:             tx.ExternalID,
		Status:                status,
		ProviderTransactionID: tx.FinancialTransactionID,
		Reason:                momoReason(tx.Reason),
		EventKey:              eventKey(tx.FinancialTransactionID, string(status), body),
	}, nil
}

func momoStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESSFUL":
		return StatusSucceeded
	case "FAILED", "REJECTED", "TIMEOUT":
		return StatusFailed
	default:
		return StatusPending
	}
}

// momoReason accepts both the string and the {code,message} object forms.
func momoReason(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Code != "" {
			return obj.Code
		}
		return obj.Message
	}
	return ""
}

// eventKey prefers the provider transaction id; without one the body hash
// still deduplicates byte-identical redeliveries.
func eventKey(providerID, status string, body []byte) string {
	if providerID != "" {
		return providerID + ":" + status
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
