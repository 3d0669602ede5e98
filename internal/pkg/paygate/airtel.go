package paygate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
)

const defaultAirtelBaseURL = "https://openapiuat.airtel.africa"

// Airtel is the Airtel Money collection API client.
type Airtel struct {
	client *httpClient
}

func NewAirtel(hc *http.Client, attempts int, backoff time.Duration) *Airtel {
	return &Airtel{client: newHTTPClient("Airtel Money", hc, attempts, backoff)}
}

type airtelSubscriber struct {
	Country  string `json:"country"`
	Currency string `json:"currency"`
	MSISDN   string `json:"msisdn"`
}

type airtelTransaction struct {
	Amount   json.Number `json:"amount"`
	Country  string      `json:"country"`
	Currency string      `json:"currency"`
	ID       string      `json:"id"`
}

type airtelPaymentRequest struct {
	Reference   string            `json:"reference"`
	Subscriber  airtelSubscriber  `json:"subscriber"`
	Transaction airtelTransaction `json:"transaction"`
}

type airtelStatus struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	ResultCode string `json:"result_code"`
	Success    bool   `json:"success"`
}

type airtelEnvelope struct {
	Data struct {
		Transaction struct {
			ID            string `json:"id"`
			AirtelMoneyID string `json:"airtel_money_id"`
			Message       string `json:"message"`
			Status        string `json:"status"`
		} `json:"transaction"`
	} `json:"data"`
	Status airtelStatus `json:"status"`
}

type airtelCallback struct {
	Transaction struct {
		ID            string `json:"id"`
		Message       string `json:"message"`
		StatusCode    string `json:"status_code"`
		AirtelMoneyID string `json:"airtel_money_id"`
	} `json:"transaction"`
}

func (a *Airtel) base(creds Credentials) string {
	if b := trimBase(creds.BaseURL); b != "" {
		return b
	}
	return defaultAirtelBaseURL
}

func (a *Airtel) tokenSource(creds Credentials) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     a.base(creds) + "/auth/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return a.client.tokenSource(cfg, nil)
}

func (a *Airtel) headers(creds Credentials) map[string]string {
	return map[string]string{
		"X-Country":  strings.ToUpper(creds.Country),
		"X-Currency": strings.ToUpper(creds.Currency),
	}
}

func (a *Airtel) Initiate(ctx context.Context, creds Credentials, phone string, amount decimal.Decimal, reference string) (*InitiateResult, error) {
	subscriber, err := nationalNumber(phone, creds.Country)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(ctx, apiRequest{
		method:  http.MethodPost,
		url:     a.base(creds) + "/merchant/v1/payments/",
		headers: a.headers(creds),
		token:   a.tokenSource(creds),
		body: airtelPaymentRequest{
			Reference: "WiFi hotspot access",
			Subscriber: airtelSubscriber{
				Country:  strings.ToUpper(creds.Country),
				Currency: strings.ToUpper(creds.Currency),
				MSISDN:   subscriber,
			},
			Transaction: airtelTransaction{
				Amount:   json.Number(amount.String()),
				Country:  strings.ToUpper(creds.Country),
				Currency: strings.ToUpper(creds.Currency),
				ID:       reference,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	var env airtelEnvelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, apperror.GatewayUnavailable("Airtel Money returned an unreadable response", err)
	}
	if !env.Status.Success {
		// Airtel reports business failures with HTTP 200
		return nil, apperror.Validation(apperror.CodePaymentRejected, "payment request was rejected by the provider")
	}
	return &InitiateResult{Reference: reference, ProviderTransactionID: env.Data.Transaction.AirtelMoneyID}, nil
}

func (a *Airtel) CheckStatus(ctx context.Context, creds Credentials, reference string) (*StatusResult, error) {
	resp, err := a.client.do(ctx, apiRequest{
		method:  http.MethodGet,
		url:     a.base(creds) + "/standard/v1/payments/" + url.PathEscape(reference),
		headers: a.headers(creds),
		token:   a.tokenSource(creds),
	}, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return &StatusResult{Status: StatusPending}, nil
	}

	var env airtelEnvelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, apperror.GatewayUnavailable("Airtel Money returned an unreadable status", err)
	}
	tx := env.Data.Transaction
	return &StatusResult{
		Status:                airtelStatusCode(tx.Status),
		ProviderTransactionID: tx.AirtelMoneyID,
		Reason:                tx.Message,
	}, nil
}

func (a *Airtel) ParseCallback(body []byte) (*CallbackNotice, error) {
	var cb airtelCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.Transaction.ID == "" {
		return nil, apperror.Validation(apperror.CodeInvalidCallback, "callback payload is not an Airtel transaction")
	}
	status := airtelStatusCode(cb.Transaction.StatusCode)
	return &CallbackNotice{
		Reference:             cb.Transaction.ID,
		Status:                status,
		ProviderTransactionID: cb.Transaction.AirtelMoneyID,
		Reason:                cb.Transaction.Message,
		EventKey:              eventKey(cb.Transaction.AirtelMoneyID, string(status), body),
	}, nil
}

// airtelStatusCode maps TS (success), TF (failed), TE (expired); TIP and
// TA mean the transaction is still in progress.
func airtelStatusCode(code string) Status {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "TS":
		return StatusSucceeded
	case "TF", "TE":
		return StatusFailed
	default:
		return StatusPending
	}
}
