package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FileMarkerStore remembers which source files have already been ingested
// so the periodic inbox re-scan does not re-offer them. Markers are
// best-effort dedup, not correctness: a lost marker only means one
// redundant run.
type FileMarkerStore interface {
	// Seen reports whether the file name was marked as processed.
	Seen(ctx context.Context, fileName string) (bool, error)

	// Mark records the file name as processed at the given time.
	Mark(ctx context.Context, fileName string, processedAt time.Time) error
}

const markerKeyPrefix = "intake:processed:"

type redisMarkerStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMarkerStore creates a Redis-backed marker store.
func NewRedisMarkerStore(client *redis.Client, ttl time.Duration) FileMarkerStore {
	return &redisMarkerStore{client: client, ttl: ttl}
}

var _ FileMarkerStore = (*redisMarkerStore)(nil)

func (s *redisMarkerStore) Seen(ctx context.Context, fileName string) (bool, error) {
	n, err := s.client.Exists(ctx, markerKeyPrefix+fileName).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check file marker: %w", err)
	}
	return n > 0, nil
}

func (s *redisMarkerStore) Mark(ctx context.Context, fileName string, processedAt time.Time) error {
	err := s.client.Set(ctx, markerKeyPrefix+fileName, processedAt.Format(time.RFC3339), s.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set file marker: %w", err)
	}
	return nil
}

type memoryMarkerStore struct {
	mu      sync.Mutex
	markers map[string]time.Time
}

// NewMemoryMarkerStore creates an in-process marker store, used when
// Redis is not configured. Markers do not survive a restart.
func NewMemoryMarkerStore() FileMarkerStore {
	return &memoryMarkerStore{markers: make(map[string]time.Time)}
}

var _ FileMarkerStore = (*memoryMarkerStore)(nil)

func (s *memoryMarkerStore) Seen(_ context.Context, fileName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.markers[fileName]
	return ok, nil
}

func (s *memoryMarkerStore) Mark(_ context.Context, fileName string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[fileName] = processedAt
	return nil
}
