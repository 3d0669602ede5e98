package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/internal/pkg/env"
)

const defaultAfricasTalkingURL = "https://api.africastalking.com/version1/messaging"

// AfricasTalking sends SMS through the Africa's Talking messaging API.
type AfricasTalking struct {
	Username string
	APIKey   string
	SenderID string
	BaseURL  string

	HTTPClient *http.Client
}

// NewNotifierFromEnv returns an Africa's Talking client when AT_USERNAME and
// AT_API_KEY are set and a LogNotifier otherwise.
func NewNotifierFromEnv() Notifier {
	username := strings.TrimSpace(env.GetEnv("AT_USERNAME", ""))
	apiKey := strings.TrimSpace(env.GetEnv("AT_API_KEY", ""))
	if username == "" || apiKey == "" {
		log.Warn("[Notify] AT_USERNAME/AT_API_KEY not set, SMS delivery disabled")
		return LogNotifier{}
	}
	return &AfricasTalking{
		Username:   username,
		APIKey:     apiKey,
		SenderID:   strings.TrimSpace(env.GetEnv("AT_SENDER_ID", "")),
		BaseURL:    strings.TrimSpace(env.GetEnv("AT_BASE_URL", defaultAfricasTalkingURL)),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type atResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func (a *AfricasTalking) SendAccessToken(ctx context.Context, phone, token string, expiresAt time.Time) error {
	form := url.Values{}
	form.Set("username", a.Username)
	form.Set("to", phone)
	form.Set("message", AccessTokenMessage(token, expiresAt))
	if a.SenderID != "" {
		form.Set("from", a.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", a.APIKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms request failed: status=%d", resp.StatusCode)
	}

	var out atResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("sms response unreadable: %w", err)
	}
	for _, r := range out.SMSMessageData.Recipients {
		// 100 Processed, 101 Sent, 102 Queued
		if r.StatusCode < 100 || r.StatusCode > 102 {
			return fmt.Errorf("sms rejected for %s: %s", maskPhone(r.Number), r.Status)
		}
	}
	log.Infof("[Notify] Token SMS sent to %s", maskPhone(phone))
	return nil
}
