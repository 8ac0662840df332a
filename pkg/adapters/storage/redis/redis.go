package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "genflow:process:"

// ProcessStore implements ports.ProcessStore using Redis
type ProcessStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewProcessStore creates a new Redis process store. Every save refreshes
// the key TTL; zero disables expiry.
func NewProcessStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ProcessStore {
	return &ProcessStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a process run
func (s *ProcessStore) Save(ctx context.Context, run *domain.ProcessRun) error {
	key := getProcessKey(run.ID)

	// Serialize run
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal process: %w", err)
	}

	// Save to Redis with TTL
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save process: %w", err)
	}

	s.logger.Debug("process saved",
		zap.String("process_id", run.ID),
		zap.String("status", string(run.Status)))

	return nil
}

// Load retrieves a process run
func (s *ProcessStore) Load(ctx context.Context, id string) (*domain.ProcessRun, error) {
	key := getProcessKey(id)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProcessNotFound, id)
		}
		return nil, fmt.Errorf("failed to get process: %w", err)
	}

	var run domain.ProcessRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal process: %w", err)
	}

	return &run, nil
}

// Delete removes a process run
func (s *ProcessStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, getProcessKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete process: %w", err)
	}

	s.logger.Debug("process deleted",
		zap.String("process_id", id))

	return nil
}

// List returns all stored process IDs
func (s *ProcessStore) List(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)

	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range batch {
			if id := strings.TrimPrefix(key, keyPrefix); id != "" && id != key {
				ids = append(ids, id)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return ids, nil
}

// getProcessKey returns the Redis key for a process run
func getProcessKey(id string) string {
	return keyPrefix + id
}
