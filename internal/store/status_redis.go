package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Status is the externally visible state of one conversion job.
type Status struct {
	Status   string         `json:"status"`
	Progress int            `json:"progress"`
	Message  string         `json:"message"`
	Start    *time.Time     `json:"start_time,omitempty"`
	End      *time.Time     `json:"end_time,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RedisStatus mirrors job status into Redis hashes for UIs running outside
// the process.
type RedisStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

// NewRedisStatus connects and pings redisURL. Keys expire after ttl when it
// is positive.
func NewRedisStatus(redisURL string, ttl time.Duration) (*RedisStatus, error) {
	c, err := connect(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisStatusWithClient(c, ttl), nil
}

// NewRedisStatusWithClient wraps an existing client.
func NewRedisStatusWithClient(c *redis.Client, ttl time.Duration) *RedisStatus {
	return &RedisStatus{client: c, keyNS: "djvupdf:job", ttl: ttl}
}

func connect(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

func (s *RedisStatus) pathKey(path string) string { return fmt.Sprintf("%s:path:%s", s.keyNS, path) }

func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
	m := map[string]any{
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
		b, err := json.Marshal(st.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		m["metadata"] = string(b)
	}
	key := s.key(jobID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, m)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatus) Get(ctx context.Context, jobID string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	st, err := parseStatus(jobID, res)
	if err != nil {
		return Status{}, false, err
	}
	return st, true, nil
}

func parseStatus(jobID string, res map[string]string) (Status, error) {
	st := Status{}
	st.Status = res["status"]
	st.Message = res["message"]
	if p := res["progress"]; p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Status{}, fmt.Errorf("job %s: progress %q: %w", jobID, p, err)
		}
		st.Progress = n
	}
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
	return st, nil
}

// SetPathJob maps a source path to the job converting it.
func (s *RedisStatus) SetPathJob(ctx context.Context, path, jobID string) error {
	return s.client.Set(ctx, s.pathKey(path), jobID, s.ttl).Err()
}

// JobByPath returns the latest job id for a source path.
func (s *RedisStatus) JobByPath(ctx context.Context, path string) (string, bool, error) {
	id, err := s.client.Get(ctx, s.pathKey(path)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Ping checks the connection.
func (s *RedisStatus) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStatus) Close() error { return s.client.Close() }

// Client returns the underlying Redis client
func (s *RedisStatus) Client() *redis.Client { return s.client }
