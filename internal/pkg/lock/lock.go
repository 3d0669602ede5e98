// Package lock is a small Redis mutex used to keep periodic jobs from
// running concurrently on several replicas.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock is held by another owner")

// release deletes the key only while it still carries our owner id.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Lock struct {
	client *redis.Client
	key    string
	owner  string
}

// Acquire takes key for ttl. It returns ErrNotAcquired when someone else holds it.
func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	owner := uuid.NewString()
	ok, err := client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{client: client, key: key, owner: owner}, nil
}

// Release frees the lock if it has not expired and been taken over.
func (l *Lock) Release(ctx context.Context) error {
	return release.Run(ctx, l.client, []string{l.key}, l.owner).Err()
}
