package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/bulk-request-client/internal/testutil"
	"github.com/Sternrassler/bulk-request-client/pkg/batch"
)

func newTestRecord(id string, ttl time.Duration) *Record {
	return &Record{
		SessionID: id,
		Resource:  "products",
		Items: []RecordItem{
			{Key: "a", Status: batch.StatusCompleted, Request: []byte(`{"sku":"a"}`), Response: []byte(`{"id":1}`)},
		},
		Summary:   batch.Summary{Total: 1, Completed: 1},
		CreatedAt: time.Now(),
		Expires:   time.Now().Add(ttl),
	}
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client)
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	server, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	record := newTestRecord("s1", 5*time.Minute)
	if err := manager.Set(ctx, record.Key(), record); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if ttl := server.TTL(record.Key().String()); ttl <= 0 || ttl > 5*time.Minute {
		t.Errorf("redis TTL = %v, want within (0, 5m]", ttl)
	}

	got, err := manager.Get(ctx, record.Key())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.SessionID != "s1" {
		t.Errorf("SessionID = %q, want %q", got.SessionID, "s1")
	}
	if got.Summary != record.Summary {
		t.Errorf("Summary = %+v, want %+v", got.Summary, record.Summary)
	}
	if len(got.Items) != 1 || got.Items[0].Status != batch.StatusCompleted {
		t.Errorf("Items = %+v, want one completed item", got.Items)
	}
}

func TestManager_Get_NotFound(t *testing.T) {
	_, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)

	_, err := manager.Get(context.Background(), SessionKey{Resource: "products", SessionID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestManager_Get_Expired(t *testing.T) {
	server, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	record := newTestRecord("s1", time.Minute)
	if err := manager.Set(ctx, record.Key(), record); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	server.FastForward(2 * time.Minute)

	_, err := manager.Get(ctx, record.Key())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestManager_Get_StaleRecordDeleted(t *testing.T) {
	server, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := SessionKey{Resource: "products", SessionID: "stale"}
	// no redis TTL, but the record itself says it has expired
	server.Set(key.String(), `{"session_id":"stale","resource":"products","expires":"2000-01-01T00:00:00Z"}`)

	_, err := manager.Get(ctx, key)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if server.Exists(key.String()) {
		t.Error("stale record should have been deleted")
	}
}

func TestManager_Get_Corrupt(t *testing.T) {
	server, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)

	key := SessionKey{Resource: "products", SessionID: "corrupt"}
	server.Set(key.String(), "not json")

	_, err := manager.Get(context.Background(), key)
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Get() error = %v, want ErrInvalidRecord", err)
	}
}

func TestManager_Set_Invalid(t *testing.T) {
	_, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	tests := []struct {
		name   string
		key    SessionKey
		record *Record
	}{
		{name: "nil record", key: SessionKey{Resource: "p", SessionID: "s"}, record: nil},
		{name: "invalid key", key: SessionKey{}, record: newTestRecord("s", time.Minute)},
		{name: "expired record", key: SessionKey{Resource: "p", SessionID: "s"}, record: newTestRecord("s", -time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := manager.Set(ctx, tt.key, tt.record)
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Set() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestManager_Delete(t *testing.T) {
	_, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	record := newTestRecord("s1", time.Minute)
	if err := manager.Set(ctx, record.Key(), record); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := manager.Delete(ctx, record.Key()); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	if _, err := manager.Get(ctx, record.Key()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
}

func TestManager_Touch(t *testing.T) {
	server, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	record := newTestRecord("s1", time.Minute)
	if err := manager.Set(ctx, record.Key(), record); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	newExpires := time.Now().Add(time.Hour)
	if err := manager.Touch(ctx, record.Key(), newExpires); err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}

	if ttl := server.TTL(record.Key().String()); ttl < 59*time.Minute {
		t.Errorf("redis TTL = %v, want about 1h", ttl)
	}

	got, err := manager.Get(ctx, record.Key())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.Expires.Equal(newExpires) {
		t.Errorf("Expires = %v, want %v", got.Expires, newExpires)
	}
}

func TestManager_Touch_Missing(t *testing.T) {
	_, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)

	err := manager.Touch(context.Background(), SessionKey{Resource: "p", SessionID: "x"}, time.Now().Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch() error = %v, want ErrNotFound", err)
	}
}

func TestManager_RedisDown(t *testing.T) {
	server, client := testutil.NewMiniRedis(t)
	manager := NewManager(client)
	server.Close()

	_, err := manager.Get(context.Background(), SessionKey{Resource: "p", SessionID: "x"})
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want redis error", err)
	}
}
