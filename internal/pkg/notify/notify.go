// Package notify delivers the access token to the buyer by SMS and raises
// operator alerts by email. Both are best effort and never part of the
// reconciliation outcome.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/internal/pkg/token"
)

// Notifier sends the purchased token to the subscriber.
type Notifier interface {
	SendAccessToken(ctx context.Context, phone, tok string, expiresAt time.Time) error
}

// AccessTokenMessage is the SMS text for a freshly activated session.
func AccessTokenMessage(tok string, expiresAt time.Time) string {
	return fmt.Sprintf("Your WiFi token is %s. It is valid until %s UTC. Use it to log in to the hotspot.",
		tok, expiresAt.UTC().Format("2006-01-02 15:04"))
}

// LogNotifier only logs; used when no SMS provider is configured.
type LogNotifier struct{}

func (LogNotifier) SendAccessToken(_ context.Context, phone, tok string, expiresAt time.Time) error {
	log.Infof("[Notify] SMS disabled, would send token %s to %s (valid until %s)", token.Mask(tok), maskPhone(phone), expiresAt.UTC().Format(time.RFC3339))
	return nil
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
