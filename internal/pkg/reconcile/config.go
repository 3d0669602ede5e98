package reconcile

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/internal/pkg/env"
	"github.com/hotspotpay/hotspot/internal/pkg/token"
)

// Config holds the reconciliation tunables. Per-company credentials are not
// part of it; they are read from the companies table on every operation.
type Config struct {
	TokenLength      int
	MaxTokenAttempts int
	// ClaimTTL bounds how long a provisioning claim blocks other workers.
	ClaimTTL       time.Duration
	PollMinAge     time.Duration
	PendingTimeout time.Duration
	PollBatch      int
	NotifyTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		TokenLength:      token.DefaultLength,
		MaxTokenAttempts: 5,
		ClaimTTL:         2 * time.Minute,
		PollMinAge:       30 * time.Second,
		PendingTimeout:   15 * time.Minute,
		PollBatch:        100,
		NotifyTimeout:    20 * time.Second,
	}
}

func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		TokenLength:      env.GetEnvInt("TOKEN_LENGTH", def.TokenLength),
		MaxTokenAttempts: env.GetEnvInt("TOKEN_MAX_ATTEMPTS", def.MaxTokenAttempts),
		ClaimTTL:         env.GetEnvDuration("ACTIVATION_CLAIM_TTL", def.ClaimTTL),
		PollMinAge:       env.GetEnvDuration("POLL_MIN_AGE", def.PollMinAge),
		PendingTimeout:   env.GetEnvDuration("PENDING_PAYMENT_TIMEOUT", def.PendingTimeout),
		PollBatch:        env.GetEnvInt("POLL_BATCH_SIZE", def.PollBatch),
		NotifyTimeout:    env.GetEnvDuration("NOTIFY_TIMEOUT", def.NotifyTimeout),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TokenLength <= 0 {
		c.TokenLength = def.TokenLength
	}
	if c.TokenLength > token.MaxLength {
		log.Warnf("[Reconcile] TOKEN_LENGTH %d exceeds the token column, using %d", c.TokenLength, token.MaxLength)
		c.TokenLength = token.MaxLength
	}
	if c.MaxTokenAttempts <= 0 {
		c.MaxTokenAttempts = def.MaxTokenAttempts
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = def.ClaimTTL
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = def.PendingTimeout
	}
	if c.PollBatch <= 0 {
		c.PollBatch = def.PollBatch
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = def.NotifyTimeout
	}
	return c
}
