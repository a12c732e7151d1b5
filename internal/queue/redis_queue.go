package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher hands a job id to the queue transport.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
}

// Delivery is one leased notification. Raw identifies the lease for Ack.
type Delivery struct {
	Raw  string
	Body []byte
}

// RedisQueue is an at-least-once queue: a ready list plus an in-flight sorted
// set scored by lease deadline. A delivery that is not acknowledged before its
// deadline is put back on the ready list and delivered again.
type RedisQueue struct {
	client        redis.Cmdable
	readyKey      string
	inflightKey   string
	visibilityTTL time.Duration
	now           func() time.Time
}

// NewRedisQueue builds a queue on the named list.
func NewRedisQueue(client redis.Cmdable, name string, visibility time.Duration) *RedisQueue {
	if name == "" {
		name = "generation-jobs"
	}
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      fmt.Sprintf("queue:%s:ready", name),
		inflightKey:   fmt.Sprintf("queue:%s:inflight", name),
		visibilityTTL: visibility,
		now:           time.Now,
	}
}

// Publish enqueues an envelope carrying jobID.
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	body, err := json.Marshal(NewEnvelope(jobID, q.now()))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.client.RPush(ctx, q.readyKey, body).Err(); err != nil {
		return fmt.Errorf("publish job %s: %w", jobID, err)
	}
	return nil
}

// DequeueWithLease pops the next notification and records it as in flight
// until the visibility timeout. It returns nil when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (*Delivery, error) {
	deadline := q.now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return &Delivery{Raw: raw, Body: []byte(raw)}, nil
}

// Ack ends the lease so the notification is not redelivered.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.client.ZRem(ctx, q.inflightKey, d.Raw).Err()
}

// Nack returns the notification to the ready list immediately.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery) error {
	removed, err := q.client.ZRem(ctx, q.inflightKey, d.Raw).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return nil
	}
	return q.client.RPush(ctx, q.readyKey, d.Raw).Err()
}

// RequeueExpired moves notifications whose lease has expired back to the
// ready list and reports how many were moved.
func (q *RedisQueue) RequeueExpired(ctx context.Context, limit int64) (int, error) {
	res, err := requeueScript.Run(ctx, q.client, []string{q.inflightKey, q.readyKey}, q.now().UnixMilli(), limit).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	return res, nil
}

// ReadyDepth returns the number of notifications waiting for a worker.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InFlight returns the number of leased notifications.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local msg = redis.call('LPOP', KEYS[1])
if not msg then
  return nil
end
redis.call('ZADD', KEYS[2], ARGV[1], msg)
return msg
`)

var requeueScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, msg in ipairs(expired) do
  redis.call('ZREM', KEYS[1], msg)
  redis.call('RPUSH', KEYS[2], msg)
end
return #expired
`)
