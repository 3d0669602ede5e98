// Package expiry ends sessions whose paid time has run out and runs the
// periodic reconciliation jobs.
package expiry

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/hotspotpay/hotspot/internal/pkg/env"
	"github.com/hotspotpay/hotspot/internal/pkg/reconcile"
)

// Ender is the part of the reconciliation service the sweeper needs.
type Ender interface {
	ListExpiredSessionIDs(ctx context.Context, afterID uint, limit int) ([]uint, error)
	Expire(ctx context.Context, sessionID uint) (*reconcile.EndResult, error)
}

// Failure is one session the sweep could not fully end.
type Failure struct {
	SessionID uint   `json:"session_id"`
	Error     string `json:"error"`
}

type Report struct {
	Deactivated int       `json:"deactivated"`
	Failures    []Failure `json:"failures"`
}

type Sweeper struct {
	svc         Ender
	BatchSize   int
	Concurrency int
}

func NewSweeper(svc Ender) *Sweeper {
	return &Sweeper{
		svc:         svc,
		BatchSize:   env.GetEnvInt("SWEEP_BATCH_SIZE", 200),
		Concurrency: env.GetEnvInt("SWEEP_CONCURRENCY", 4),
	}
}

// Sweep expires every active session past its end time. A session whose
// controller disable fails still counts as deactivated and is also listed
// as a failure so an operator can clean up the router.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	batch := s.BatchSize
	if batch <= 0 {
		batch = 200
	}
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}

	report := &Report{Failures: []Failure{}}
	var mu sync.Mutex
	var cursor uint

	for {
		ids, err := s.svc.ListExpiredSessionIDs(ctx, cursor, batch)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				res, err := s.svc.Expire(gctx, id)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					log.Warnf("[Sweeper] Could not expire session %d: %v", id, err)
					report.Failures = append(report.Failures, Failure{SessionID: id, Error: err.Error()})
				case res.Changed:
					report.Deactivated++
					if res.DisableErr != nil {
						report.Failures = append(report.Failures, Failure{SessionID: id, Error: res.DisableErr.Error()})
					}
				}
				// per-session failures never abort the sweep
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return report, err
		}
		cursor = ids[len(ids)-1]
		if len(ids) < batch {
			break
		}
	}

	if report.Deactivated > 0 || len(report.Failures) > 0 {
		log.Infof("[Sweeper] Expired %d sessions, %d failures", report.Deactivated, len(report.Failures))
	}
	return report, nil
}
