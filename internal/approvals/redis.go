package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/xerrors"
)

// DefaultRedisKey is the list holding pending approvals.
const DefaultRedisKey = "responder:approvals"

// Pushes ARGV[2] onto KEYS[1] unless the list already holds ARGV[1] items.
var enqueueScript = redis.NewScript(`
if redis.call("LLEN", KEYS[1]) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("LPUSH", KEYS[1], ARGV[2])
return 1
`)

// Redis is a Queue stored in a Redis list. Items are pushed on the left
// and popped from the right.
type Redis struct {
	client   redis.UniversalClient
	key      string
	capacity int
	now      func() time.Time
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedis returns a queue on key holding at most capacity items. An empty
// key selects DefaultRedisKey.
func NewRedis(client redis.UniversalClient, key string, capacity int) *Redis {
	if client == nil {
		panic(xerrors.New("approvals: redis client is required"))
	}
	if capacity <= 0 {
		panic(xerrors.Newf("approvals: invalid capacity %d", capacity))
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key, capacity: capacity, now: time.Now}
}

// Enqueue pushes req as a pending item. The capacity check and push run as
// one script, so ErrQueueFull holds across concurrent producers.
func (q *Redis) Enqueue(ctx context.Context, req Request) (Item, error) {
	it := newItem(req, q.now())
	data, err := json.Marshal(it)
	if err != nil {
		return Item{}, fmt.Errorf("marshal approval: %w", err)
	}
	pushed, err := enqueueScript.Run(ctx, q.client, []string{q.key}, q.capacity, data).Int()
	if err != nil {
		return Item{}, fmt.Errorf("enqueue approval: %w", err)
	}
	if pushed == 0 {
		return Item{}, ErrQueueFull
	}
	return it, nil
}

// TakeNext pops the oldest pending item and marks it taken. It reports
// false when the list is empty.
func (q *Redis) TakeNext(ctx context.Context) (Item, bool, error) {
	data, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("take approval: %w", err)
	}
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return Item{}, false, fmt.Errorf("decode approval: %w", err)
	}
	it.Status = StatusTaken
	return it, true, nil
}

// Len returns the length of the pending list.
func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("approval queue length: %w", err)
	}
	return int(n), nil
}
