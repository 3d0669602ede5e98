package netaccess

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
	"github.com/hotspotpay/hotspot/internal/pkg/token"
)

// Retrying retries transient (GatewayUnavailable) controller failures with
// exponential backoff. Other kinds are returned immediately.
type Retrying struct {
	next      Controller
	attempts  int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

func WithRetry(next Controller, attempts int, baseDelay time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{next: next, attempts: attempts, baseDelay: baseDelay, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Retrying) do(ctx context.Context, op, user string, fn func() error) error {
	var err error
	delay := r.baseDelay
	for i := 0; i < r.attempts; i++ {
		err = fn()
		if err == nil || !apperror.IsKind(err, apperror.KindGatewayUnavailable) {
			return err
		}
		if i == r.attempts-1 {
			break
		}
		log.Warnf("[Controller] %s for %s failed (try %d/%d): %v", op, token.Mask(user), i+1, r.attempts, err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return apperror.GatewayUnavailable(op+" aborted while waiting to retry", serr)
		}
		delay *= 2
	}
	return err
}

func (r *Retrying) CreateUser(ctx context.Context, creds Credentials, user, profile string) error {
	return r.do(ctx, "create user", user, func() error { return r.next.CreateUser(ctx, creds, user, profile) })
}

func (r *Retrying) EnableUser(ctx context.Context, creds Credentials, user string) error {
	return r.do(ctx, "enable user", user, func() error { return r.next.EnableUser(ctx, creds, user) })
}

func (r *Retrying) DisableUser(ctx context.Context, creds Credentials, user string) error {
	return r.do(ctx, "disable user", user, func() error { return r.next.DisableUser(ctx, creds, user) })
}
