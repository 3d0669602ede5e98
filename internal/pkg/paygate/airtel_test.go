package paygate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
)

func newAirtelServer(t *testing.T, initiateBody, statusBody string) (*httptest.Server, *airtelPaymentRequest) {
	var last airtelPaymentRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "airtel-id", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"air-tok","token_type":"bearer","expires_in":180}`))
	})
	mux.HandleFunc("/merchant/v1/payments/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer air-tok", r.Header.Get("Authorization"))
		assert.Equal(t, "UG", r.Header.Get("X-Country"))
		assert.Equal(t, "UGX", r.Header.Get("X-Currency"))
		_ = json.NewDecoder(r.Body).Decode(&last)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(initiateBody))
	})
	mux.HandleFunc("/standard/v1/payments/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(statusBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &last
}

func airtelCreds(base string) Credentials {
	return Credentials{Provider: ProviderAirtel, BaseURL: base, ClientID: "airtel-id", ClientSecret: "airtel-secret", Country: "UG", Currency: "UGX"}
}

func newTestAirtel() *Airtel {
	a := NewAirtel(nil, 2, time.Millisecond)
	a.client.sleep = func(context.Context, time.Duration) error { return nil }
	return a
}

func TestAirtelInitiateAndStatus(t *testing.T) {
	srv, last := newAirtelServer(t,
		`{"data":{"transaction":{"id":"ref-1","status":"Success."}},"status":{"code":"200","success":true}}`,
		`{"data":{"transaction":{"id":"ref-1","airtel_money_id":"am-1","status":"TS","message":"Paid"}},"status":{"success":true}}`)
	a := newTestAirtel()
	ctx := context.Background()

	res, err := a.Initiate(ctx, airtelCreds(srv.URL), "0701234567", decimal.RequireFromString("2500"), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", res.Reference)
	assert.Equal(t, "701234567", last.Subscriber.MSISDN)
	assert.Equal(t, "ref-1", last.Transaction.ID)
	assert.Equal(t, json.Number("2500"), last.Transaction.Amount)

	st, err := a.CheckStatus(ctx, airtelCreds(srv.URL), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, st.Status)
	assert.Equal(t, "am-1", st.ProviderTransactionID)
}

func TestAirtelBusinessFailure(t *testing.T) {
	srv, _ := newAirtelServer(t, `{"status":{"code":"200","success":false,"message":"Invalid MSISDN"}}`, `{}`)
	_, err := newTestAirtel().Initiate(context.Background(), airtelCreds(srv.URL), "0701234567", decimal.NewFromInt(100), "ref-2")
	assert.Equal(t, apperror.CodePaymentRejected, apperror.CodeOf(err))
}

func TestAirtelStatusCodes(t *testing.T) {
	assert.Equal(t, StatusSucceeded, airtelStatusCode("TS"))
	assert.Equal(t, StatusFailed, airtelStatusCode("tf"))
	assert.Equal(t, StatusFailed, airtelStatusCode("TE"))
	assert.Equal(t, StatusPending, airtelStatusCode("TIP"))
	assert.Equal(t, StatusPending, airtelStatusCode(""))
}

func TestAirtelParseCallback(t *testing.T) {
	n, err := newTestAirtel().ParseCallback([]byte(`{"transaction":{"id":"ref-9","message":"ok","status_code":"TS","airtel_money_id":"am-9"}}`))
	require.NoError(t, err)
	assert.Equal(t, "ref-9", n.Reference)
	assert.Equal(t, StatusSucceeded, n.Status)
	assert.Equal(t, "am-9:succeeded", n.EventKey)

	_, err = newTestAirtel().ParseCallback([]byte(`not json`))
	assert.Equal(t, apperror.CodeInvalidCallback, apperror.CodeOf(err))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry().Register(ProviderAirtel, newTestAirtel())
	g, err := r.Get(ProviderAirtel)
	require.NoError(t, err)
	assert.NotNil(t, g)
	_, err = r.Get("mpesa")
	assert.ErrorIs(t, err, apperror.ErrInternalInconsistency)
}
