package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock re-acquired by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived named locks shared by every replica.
type Locker struct {
	client *Client
}

// NewLocker creates a locker over client.
func NewLocker(client *Client) *Locker {
	return &Locker{client: client}
}

// Acquire tries to take the lock name for ttl. When ok is false another
// holder owns it. release is safe to call once the work is done.
func (l *Locker) Acquire(
	ctx context.Context,
	name string,
	ttl time.Duration,
) (release func(), ok bool, err error) {
	key := l.client.lockKey(name)
	token := uuid.NewString()

	ok, err = l.client.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// the caller's context may be done by now
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
