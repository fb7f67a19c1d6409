package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PageStore keeps per-job page counters, updated once per converted page.
type PageStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPageStore shares the client of a RedisStatus.
func NewPageStore(c *redis.Client, ttl time.Duration) *PageStore {
	return &PageStore{client: c, ttl: ttl}
}

func (s *PageStore) pagesKey(jobID string) string {
	return fmt.Sprintf("djvupdf:job:%s:pages", jobID)
}

func (s *PageStore) SetPages(ctx context.Context, jobID string, done, total int) error {
	key := s.pagesKey(jobID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{"done": done, "total": total})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *PageStore) GetPages(ctx context.Context, jobID string) (done, total int, ok bool, err error) {
	res, err := s.client.HGetAll(ctx, s.pagesKey(jobID)).Result()
	if err != nil {
		return 0, 0, false, err
	}
	if len(res) == 0 {
		return 0, 0, false, nil
	}
	done, total, err = parsePages(res)
	if err != nil {
		return 0, 0, false, fmt.Errorf("job %s: %w", jobID, err)
	}
	return done, total, true, nil
}

func parsePages(res map[string]string) (done, total int, err error) {
	if done, err = strconv.Atoi(res["done"]); err != nil {
		return 0, 0, fmt.Errorf("pages done: %w", err)
	}
	if total, err = strconv.Atoi(res["total"]); err != nil {
		return 0, 0, fmt.Errorf("pages total: %w", err)
	}
	return done, total, nil
}

// Clear removes the counters of a finished job.
func (s *PageStore) Clear(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, s.pagesKey(jobID)).Err()
}
