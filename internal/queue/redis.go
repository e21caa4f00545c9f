package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/pdfsplitter/internal/config"
)

// SplitTask is one queued split of one source document.
type SplitTask struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Filename     string    `json:"filename,omitempty"`
	Input        string    `json:"input"`
	Mode         string    `json:"mode"`
	Template     string    `json:"template,omitempty"`
	WholeOnEmpty bool      `json:"whole_on_empty,omitempty"`
	Merge        bool      `json:"merge,omitempty"`
	Output       string    `json:"output,omitempty"`
	// RemoveSource marks a local source the service owns, such as an
	// upload, to be deleted once the task is final.
	RemoveSource bool      `json:"remove_source,omitempty"`
	Attempt      int       `json:"attempt"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// DecodeTask parses a stream payload.
func DecodeTask(data []byte) (SplitTask, error) {
	var t SplitTask
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decode split task: %w", err)
	}
	if t.ID == "" || t.Source == "" {
		return t, fmt.Errorf("decode split task: missing id or source")
	}
	return t, nil
}

// RedisQueue implements Redis Streams + consumer groups with a delayed ZSET mover.
type RedisQueue struct {
	client *redis.Client
	// streams / groups
	Stream string
	Group  string
	// keys
	CancelKey   string
	DelayedKey  string
	DLQStream   string
	IdemDoneKey string
	// mover control
	pollInterval time.Duration
	stop         chan struct{}
}

// NewRedisQueue connects to Redis, ensures stream & group, and starts delayed mover.
func NewRedisQueue(cfg config.QueueConfig) (*RedisQueue, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q := &RedisQueue{
		client:       c,
		Stream:       cfg.Stream,
		Group:        cfg.Group,
		CancelKey:    cfg.Stream + ":cancelled",
		DelayedKey:   cfg.Stream + ":delayed",
		DLQStream:    cfg.Stream + ":dlq",
		IdemDoneKey:  "idem:split:",
		pollInterval: cfg.PollInterval,
		stop:         make(chan struct{}),
	}
	// MKSTREAM creates the stream if missing
	if err := c.XGroupCreateMkStream(ctx, q.Stream, q.Group, "$").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	go q.mover()
	return q, nil
}

// Client exposes the connection so the status store can share it.
func (q *RedisQueue) Client() *redis.Client { return q.client }

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	// go-redis may return a generic error string from Redis
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error {
	close(q.stop)
	return q.client.Close()
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// EnqueueSplit adds a task to the stream as a single-field entry {data: <json>}.
func (q *RedisQueue) EnqueueSplit(ctx context.Context, t SplitTask) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(b)},
	}).Err()
}

// EnqueueDelayed schedules a task for later execution via ZSET.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, t SplitTask, executeAt time.Time) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{Score: float64(executeAt.Unix()), Member: string(b)}).Err()
}

// DequeueSplit reads one message from the consumer group. The caller acks it
// once the task reached a final state or was re-scheduled.
func (q *RedisQueue) DequeueSplit(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, nil
		}
		return "", nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", nil, nil
	}
	msg := res[0].Messages[0]
	if v, ok := msg.Values["data"]; ok {
		switch t := v.(type) {
		case string:
			return msg.ID, []byte(t), nil
		case []byte:
			return msg.ID, t, nil
		}
	}
	return msg.ID, nil, nil
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// CancelJob marks a task as cancelled. Workers check this before processing.
func (q *RedisQueue) CancelJob(ctx context.Context, id string) error {
	return q.client.SAdd(ctx, q.CancelKey, id).Err()
}

func (q *RedisQueue) IsCancelled(ctx context.Context, id string) (bool, error) {
	return q.client.SIsMember(ctx, q.CancelKey, id).Result()
}

// AddDLQ pushes a failed task to the DLQ stream with reason.
func (q *RedisQueue) AddDLQ(ctx context.Context, t SplitTask, reason string) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.DLQStream, Values: map[string]any{"data": string(b), "reason": reason}}).Err()
}

// IsIdemDone returns true if idempotency key already marked done.
func (q *RedisQueue) IsIdemDone(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	exists, err := q.client.Exists(ctx, q.IdemDoneKey+key).Result()
	return exists == 1, err
}

// MarkIdemDone marks idempotency key as done with TTL.
func (q *RedisQueue) MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	return q.client.Set(ctx, q.IdemDoneKey+key, 1, ttl).Err()
}

// mover periodically moves due delayed tasks from ZSET into the stream.
func (q *RedisQueue) mover() {
	if q.pollInterval <= 0 {
		q.pollInterval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveOnce()
		}
	}
}

func (q *RedisQueue) moveOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	vals, err := q.client.ZRangeByScore(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", time.Now().Unix()), Offset: 0, Count: 100,
	}).Result()
	if err != nil || len(vals) == 0 {
		return
	}
	pipe := q.client.TxPipeline()
	for _, s := range vals {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": s}})
		pipe.ZRem(ctx, q.DelayedKey, s)
	}
	_, _ = pipe.Exec(ctx)
}

// Depths returns approximate stream/deferred/dlq lengths for metrics.
func (q *RedisQueue) Depths(ctx context.Context) (int64, int64, int64, error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	zcard := pipe.ZCard(ctx, q.DelayedKey)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return xlen.Val(), zcard.Val(), dxlen.Val(), nil
}
