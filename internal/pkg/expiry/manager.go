package expiry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/hotspotpay/hotspot/internal/pkg/lock"
	"github.com/hotspotpay/hotspot/internal/pkg/reconcile"
)

const (
	SweepLockKey = "lock:hotspot:sweep"
	PollLockKey  = "lock:hotspot:poll"
)

// Poller is the part of the reconciliation service the poll job needs.
type Poller interface {
	PollPending(ctx context.Context) (*reconcile.PollReport, error)
}

// Manager runs the sweep and the pending-payment poll on tickers. A nil
// redis client runs every tick without the cross-process lock.
type Manager struct {
	sweeper *Sweeper
	poller  Poller
	redis   *redis.Client

	SweepInterval time.Duration
	PollInterval  time.Duration
	JobTimeout    time.Duration

	sweepTicker *time.Ticker
	pollTicker  *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

func NewManager(sweeper *Sweeper, poller Poller, client *redis.Client, sweepInterval, pollInterval time.Duration) *Manager {
	return &Manager{
		sweeper:       sweeper,
		poller:        poller,
		redis:         client,
		SweepInterval: sweepInterval,
		PollInterval:  pollInterval,
		JobTimeout:    5 * time.Minute,
	}
}

// Start launches the workers whose interval is positive.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Expiry Manager] Starting background jobs")

	if m.SweepInterval > 0 {
		m.sweepTicker = time.NewTicker(m.SweepInterval)
		m.wg.Add(1)
		go m.worker("sweep", m.sweepTicker, m.stopCh, m.runSweepLocked)
		log.Infof("[Expiry Manager] Sweep every %s", m.SweepInterval)
	}
	if m.PollInterval > 0 && m.poller != nil {
		m.pollTicker = time.NewTicker(m.PollInterval)
		m.wg.Add(1)
		go m.worker("poll", m.pollTicker, m.stopCh, m.runPollLocked)
		log.Infof("[Expiry Manager] Pending payment poll every %s", m.PollInterval)
	}
}

// Stop halts the tickers and waits for a running job to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[Expiry Manager] Stopping background jobs...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.pollTicker != nil {
		m.pollTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	log.Info("[Expiry Manager] Stopped successfully")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(name string, ticker *time.Ticker, stop <-chan struct{}, run func(context.Context) error) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			log.Infof("[Expiry Manager] %s worker stopping", name)
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.JobTimeout)
			if err := run(ctx); err != nil {
				log.Errorf("[Expiry Manager] %s error: %v", name, err)
			}
			cancel()
		}
	}
}

// withLock runs fn under key. Another holder means skip; a Redis error
// means run anyway since the database writes are compare-and-swap.
func (m *Manager) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if m.redis == nil {
		return fn(ctx)
	}
	l, err := lock.Acquire(ctx, m.redis, key, m.JobTimeout)
	if errors.Is(err, lock.ErrNotAcquired) {
		log.Debugf("[Expiry Manager] %s held elsewhere, skipping", key)
		return nil
	}
	if err != nil {
		log.Warnf("[Expiry Manager] Lock %s unavailable, running unlocked: %v", key, err)
		return fn(ctx)
	}
	defer func() {
		if err := l.Release(context.Background()); err != nil {
			log.Warnf("[Expiry Manager] Could not release %s: %v", key, err)
		}
	}()
	return fn(ctx)
}

func (m *Manager) runSweepLocked(ctx context.Context) error {
	return m.withLock(ctx, SweepLockKey, func(ctx context.Context) error {
		_, err := m.sweeper.Sweep(ctx)
		return err
	})
}

func (m *Manager) runPollLocked(ctx context.Context) error {
	return m.withLock(ctx, PollLockKey, func(ctx context.Context) error {
		report, err := m.poller.PollPending(ctx)
		if err != nil {
			return err
		}
		if report.Checked > 0 {
			log.Infof("[Expiry Manager] Polled %d pending payments: %d succeeded, %d failed, %d timed out, %d errors",
				report.Checked, report.Succeeded, report.Failed, report.TimedOut, report.Errors)
		}
		return nil
	})
}

// RunSweepOnce runs one locked sweep and returns its report. When another
// process holds the lock the report is empty.
func (m *Manager) RunSweepOnce(ctx context.Context) (*Report, error) {
	report := &Report{Failures: []Failure{}}
	err := m.withLock(ctx, SweepLockKey, func(ctx context.Context) error {
		r, err := m.sweeper.Sweep(ctx)
		if r != nil {
			report = r
		}
		return err
	})
	return report, err
}

// RunPollOnce runs one locked poll.
func (m *Manager) RunPollOnce(ctx context.Context) (*reconcile.PollReport, error) {
	report := &reconcile.PollReport{}
	err := m.withLock(ctx, PollLockKey, func(ctx context.Context) error {
		r, err := m.poller.PollPending(ctx)
		if r != nil {
			report = r
		}
		return err
	})
	return report, err
}
