package reconcile

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/hotspotpay/hotspot/internal/pkg/env"
	"github.com/hotspotpay/hotspot/internal/pkg/metrics/counter"
	"github.com/hotspotpay/hotspot/internal/pkg/netaccess"
	"github.com/hotspotpay/hotspot/internal/pkg/notify"
	"github.com/hotspotpay/hotspot/internal/pkg/paygate"
)

// NewServiceFromEnv wires the service with the production adapters: both
// mobile-money gateways, RouterOS behind retries plus the simulated
// controller, SMS and alert senders from the environment, and Redis event
// counters.
func NewServiceFromEnv(db *gorm.DB, rdb *redis.Client) *Service {
	retries := env.GetEnvInt("EXTERNAL_RETRY_ATTEMPTS", 3)
	backoff := env.GetEnvDuration("EXTERNAL_RETRY_BACKOFF", 500*time.Millisecond)

	httpClient := &http.Client{Timeout: env.GetEnvDuration("GATEWAY_TIMEOUT", 30*time.Second)}
	gateways := paygate.NewRegistry().
		Register(paygate.ProviderMTNMoMo, paygate.NewMoMo(httpClient, retries, backoff)).
		Register(paygate.ProviderAirtel, paygate.NewAirtel(httpClient, retries, backoff))

	routerOS := netaccess.NewRouterOS(
		env.GetEnvDuration("ROUTEROS_TIMEOUT", 10*time.Second),
		env.GetEnvBool("ROUTEROS_TLS_INSECURE", false),
	)
	controller := netaccess.NewDispatcher(
		netaccess.WithRetry(routerOS, retries, backoff),
		netaccess.NewSimulated(),
	)

	return NewService(
		NewRepository(db),
		gateways,
		controller,
		notify.NewNotifierFromEnv(),
		ConfigFromEnv(),
		WithAlerter(notify.NewAlerterFromEnv()),
		WithRecorder(counter.NewRecorder(rdb)),
	)
}
