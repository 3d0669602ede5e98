// Package counter keeps reconciliation event counters in a Redis hash so
// every process (server, sweep CLI) contributes to the same totals.
package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/hotspotpay/hotspot/internal/pkg/cache"
)

const countersKey = "hotspot:counters"

// Recorder increments named counters. A nil client falls back to the shared cache client.
type Recorder struct {
	client *redis.Client
}

func NewRecorder(client *redis.Client) *Recorder {
	return &Recorder{client: client}
}

func (r *Recorder) rdb() *redis.Client {
	if r.client != nil {
		return r.client
	}
	return cache.GetClient()
}

// Record increments event by one. Counter failures are logged and never
// returned; losing a tick is preferable to failing a payment.
func (r *Recorder) Record(ctx context.Context, event string) {
	if err := r.rdb().HIncrBy(ctx, countersKey, event, 1).Err(); err != nil {
		log.Debugf("[Metrics] Could not count %s: %v", event, err)
	}
}

// Snapshot returns the current totals.
func (r *Recorder) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := r.rdb().HGetAll(ctx, countersKey).Result()
	if err != nil {
		return nil, err
	}
	return parse(data), nil
}

// Drain returns the totals and resets them. The hash is renamed to a
// temporary key first so increments racing with the drain are not lost.
func (r *Recorder) Drain(ctx context.Context) (map[string]int64, error) {
	rdb := r.rdb()
	tmpKey := fmt.Sprintf("%s:tmp:%d", countersKey, time.Now().UnixNano())
	if err := rdb.Rename(ctx, countersKey, tmpKey).Err(); err != nil {
		// nothing counted yet
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}
	return parse(data), nil
}

func parse(data map[string]string) map[string]int64 {
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}
