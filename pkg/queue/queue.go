// Package queue is an optional Redis-backed queue for async pull/push
// jobs, grounded on the teacher's
// ckmine11-registry-x/backend/pkg/queue/service.go (RPush/BLPop scan
// queue). A pull enqueued here survives the originating HTTP client
// disconnecting, unlike one driven only by the request's context.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/modelhost/modelhost/pkg/config"
)

const PullQueueKey = "modelhost:pull_queue"
const PushQueueKey = "modelhost:push_queue"

// Job names a model pull or push to run in the background.
type Job struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"` // model reference string
}

type Service struct {
	client *redis.Client
}

// New returns nil, nil when cfg.RedisAddr is empty — callers treat a
// nil *Service as "no queue configured," and perform pulls/pushes
// synchronously instead (mirrors the teacher's main.go: "if Redis is
// unreachable, log a warning and disable async scanning").
func New(cfg *config.Config) (*Service, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("queue: connect to redis: %w", err)
	}
	return &Service{client: rdb}, nil
}

func (s *Service) enqueue(ctx context.Context, key string, job Job) error {
	if s == nil {
		return fmt.Errorf("queue: not configured")
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	return s.client.RPush(ctx, key, b).Err()
}

func (s *Service) dequeue(ctx context.Context, key string) (*Job, error) {
	if s == nil {
		return nil, fmt.Errorf("queue: not configured")
	}
	result, err := s.client.BLPop(ctx, 0, key).Result()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *Service) EnqueuePull(ctx context.Context, name string) (uuid.UUID, error) {
	id := uuid.New()
	return id, s.enqueue(ctx, PullQueueKey, Job{ID: id, Name: name})
}

func (s *Service) DequeuePull(ctx context.Context) (*Job, error) {
	return s.dequeue(ctx, PullQueueKey)
}

func (s *Service) EnqueuePush(ctx context.Context, name string) (uuid.UUID, error) {
	id := uuid.New()
	return id, s.enqueue(ctx, PushQueueKey, Job{ID: id, Name: name})
}

func (s *Service) DequeuePush(ctx context.Context) (*Job, error) {
	return s.dequeue(ctx, PushQueueKey)
}

// Enabled reports whether a queue backend is configured, letting
// callers branch cleanly on a nil-but-typed *Service.
func (s *Service) Enabled() bool { return s != nil }
