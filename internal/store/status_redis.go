package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Status is the mirrored view of an extraction, without its questions.
type Status struct {
	ExtractionID string
	FileName     string
	Status       string
	Message      string
	Progress     float64
	Error        string
	UpdatedAt    time.Time
}

// RedisStatus mirrors extraction status into Redis hashes so other replicas
// and restarted processes can answer status polls.
type RedisStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisStatus(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStatus{client: c, keyNS: "extraction", ttl: ttl}, nil
}

func (s *RedisStatus) key(id string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, id) }

func (s *RedisStatus) Set(ctx context.Context, st Status) error {
	k := s.key(st.ExtractionID)
	m := map[string]interface{}{
		"status":     st.Status,
		"message":    st.Message,
		"progress":   strconv.FormatFloat(st.Progress, 'f', -1, 64),
		"file_name":  st.FileName,
		"error":      st.Error,
		"updated_at": st.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, m)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
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
	st := Status{
		ExtractionID: id,
		FileName:     res["file_name"],
		Status:       res["status"],
		Message:      res["message"],
		Error:        res["error"],
	}
	if p, err := strconv.ParseFloat(res["progress"], 64); err == nil {
		st.Progress = p
	}
	if t, err := time.Parse(time.RFC3339Nano, res["updated_at"]); err == nil {
		st.UpdatedAt = t
	}
	return st, true, nil
}

func (s *RedisStatus) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStatus) Close() error { return s.client.Close() }
