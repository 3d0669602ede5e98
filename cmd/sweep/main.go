package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/internal/pkg/cache"
	"github.com/hotspotpay/hotspot/internal/pkg/database"
	"github.com/hotspotpay/hotspot/internal/pkg/env"
	"github.com/hotspotpay/hotspot/internal/pkg/expiry"
	"github.com/hotspotpay/hotspot/internal/pkg/logging"
	"github.com/hotspotpay/hotspot/internal/pkg/reconcile"
)

// sweep runs one expiry sweep (and optionally one pending-payment poll) and
// exits; meant for cron. It exits 2 when any session could not be disabled
// on its controller.
func main() {
	poll := flag.Bool("poll", false, "also re-check pending payments")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall time limit")
	flag.Parse()

	env.SetupEnvFile()
	logging.Setup()
	database.SetupDatabase()
	cache.SetupCache()

	svc := reconcile.NewServiceFromEnv(database.GetDB(), cache.GetClient())

	// no tickers; the manager only provides the locked one-shot runs
	jobs := expiry.NewManager(expiry.NewSweeper(svc), svc, cache.GetClient(), 0, 0)
	jobs.JobTimeout = *timeout

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	code := 0
	report, err := jobs.RunSweepOnce(ctx)
	if err != nil {
		log.Errorf("[Sweeper] Sweep failed: %v", err)
		code = 1
	} else {
		log.Infof("[Sweeper] Deactivated %d sessions, %d failures", report.Deactivated, len(report.Failures))
		if len(report.Failures) > 0 {
			code = 2
		}
	}

	if *poll {
		pr, err := jobs.RunPollOnce(ctx)
		if err != nil {
			log.Errorf("[Sweeper] Poll failed: %v", err)
		} else {
			log.Infof("[Sweeper] Polled %d payments: %d succeeded, %d failed, %d timed out",
				pr.Checked, pr.Succeeded, pr.Failed, pr.TimedOut)
		}
	}

	// let token SMS from poll activations finish
	svc.Wait()
	os.Exit(code)
}
