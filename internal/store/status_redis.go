package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Split request states.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusPartial    = "partial"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Final reports whether no worker will touch a request in this state again.
func Final(status string) bool {
	switch status {
	case StatusSuccess, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Status struct {
	Status   string                 `json:"status"`
	Progress int                    `json:"progress"`
	Message  string                 `json:"message"`
	Start    *time.Time             `json:"start_time,omitempty"`
	End      *time.Time             `json:"end_time,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// statusTTL bounds how long finished requests stay visible.
const statusTTL = 7 * 24 * time.Hour

type RedisStatus struct {
	client *redis.Client
	keyNS  string
}

func NewRedisStatus(redisURL string) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return NewRedisStatusWithClient(c), nil
}

func NewRedisStatusWithClient(c *redis.Client) *RedisStatus {
	return &RedisStatus{client: c, keyNS: "split"}
}

func (s *RedisStatus) key(id string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, id) }

func (s *RedisStatus) Set(ctx context.Context, id string, st Status) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(id), toHash(st))
	pipe.Expire(ctx, s.key(id), statusTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatus) Get(ctx context.Context, id string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	return fromHash(res), true, nil
}

func (s *RedisStatus) Close() error { return s.client.Close() }

// Client returns the underlying Redis client
func (s *RedisStatus) Client() *redis.Client { return s.client }

func toHash(st Status) map[string]interface{} {
	m := map[string]interface{}{
		"status":   st.Status,
		"progress": st.Progress,
		"message":  st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Metadata != nil {
		b, _ := json.Marshal(st.Metadata)
		m["metadata"] = string(b)
	}
	return m
}

func fromHash(res map[string]string) Status {
	st := Status{Status: res["status"], Message: res["message"]}
	// ignore parse errors; default 0
	st.Progress, _ = strconv.Atoi(res["progress"])
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st
}
