package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound indicates the session record does not exist or has expired
	ErrNotFound = errors.New("session record not found")

	// ErrInvalidRecord indicates the record is invalid or corrupted
	ErrInvalidRecord = errors.New("invalid session record")
)

// Manager stores session records in Redis.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new record manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Get retrieves a record by key.
// Returns ErrNotFound if the key doesn't exist or the record is expired.
func (m *Manager) Get(ctx context.Context, key SessionKey) (*Record, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			StoreMisses.Inc()
			return nil, ErrNotFound
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	if record.IsExpired() {
		_ = m.Delete(ctx, key)
		StoreMisses.Inc()
		return nil, ErrNotFound
	}

	StoreHits.Inc()
	return &record, nil
}

// Set stores a record with a TTL derived from its Expires field.
func (m *Manager) Set(ctx context.Context, key SessionKey, record *Record) error {
	if record == nil {
		return fmt.Errorf("%w: record cannot be nil", ErrInvalidRecord)
	}
	if !key.Valid() {
		return fmt.Errorf("%w: key needs resource and session id", ErrInvalidRecord)
	}

	ttl := record.TTL()
	if ttl <= 0 {
		return fmt.Errorf("%w: record already expired", ErrInvalidRecord)
	}

	data, err := json.Marshal(record)
	if err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal session record: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	StoreBytesWritten.Add(float64(len(data)))
	return nil
}

// Delete removes a record.
func (m *Manager) Delete(ctx context.Context, key SessionKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Touch moves the expiry of an existing record to newExpires.
func (m *Manager) Touch(ctx context.Context, key SessionKey, newExpires time.Time) error {
	record, err := m.Get(ctx, key)
	if err != nil {
		return err
	}

	record.Expires = newExpires
	return m.Set(ctx, key, record)
}
