//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/bulk-request-client/internal/testutil"
	"github.com/Sternrassler/bulk-request-client/pkg/batch"
	"github.com/Sternrassler/bulk-request-client/pkg/bulk"
	"github.com/Sternrassler/bulk-request-client/pkg/client"
	"github.com/Sternrassler/bulk-request-client/pkg/store"
)

// Order is the item type used across the integration tests.
type Order struct {
	Key    string `json:"key"`
	Amount int    `json:"amount"`
}

func orderKey(o Order) string { return o.Key }

func orders(keys ...string) []Order {
	out := make([]Order, len(keys))
	for i, k := range keys {
		out[i] = Order{Key: k, Amount: (i + 1) * 10}
	}
	return out
}

// setupClient creates a bulk client against mock backed by redisClient.
func setupClient(t *testing.T, redisClient *redis.Client, mock *testutil.MockBulkAPI) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig(redisClient, mock.URL(), "IntegrationTest/1.0.0 (integration@test.com)")
	cfg.InitialBackoff = 10 * time.Millisecond
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newRunner(c *client.Client, cfg bulk.Config) *bulk.Runner[string, Order, Order] {
	cfg.WaveTimeout = c.CallBudget()
	endpoint := client.NewEndpoint[Order, Order](c, "/orders/bulk")
	return bulk.NewRunner[string, Order, Order](endpoint, orderKey, cfg)
}

// TestFullSessionFlow runs a session, stores it, reloads it and re-submits
// its failures: Runner → Endpoint → Redis quota → Store → Runner.
func TestFullSessionFlow(t *testing.T) {
	redisClient := testutil.StartRedisContainer(t)

	mock := testutil.NewMockBulkAPI()
	defer mock.Close()
	mock.FailKeyTimes("o2", client.ItemCodeConflictRetry, 1)
	mock.FailKey("o4", "invalid")

	c := setupClient(t, redisClient, mock)

	cfg := bulk.DefaultConfig()
	cfg.MaxBatchSize = 2
	runner := newRunner(c, cfg)

	ctx := context.Background()

	// Session 1: o2 and o4 fail
	report, err := runner.Run(ctx, orders("o1", "o2", "o3", "o4", "o5"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Summary.Completed != 3 || report.Summary.Failed != 2 {
		t.Fatalf("Summary = %+v, want 3 completed and 2 failed", report.Summary)
	}
	if got := mock.BatchSizes(); len(got) != 3 {
		t.Errorf("BatchSizes() = %v, want three waves", got)
	}

	record, err := store.NewRecord("orders", report, time.Hour)
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	sessions := store.NewManager(redisClient)
	if err := sessions.Set(ctx, record.Key(), record); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Reload from Redis and re-submit the failures
	loaded, err := sessions.Get(ctx, record.Key())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	retry, err := store.FailedRequests[Order](loaded)
	if err != nil {
		t.Fatalf("FailedRequests() error = %v", err)
	}
	if len(retry) != 2 || retry[0].Key != "o2" || retry[1].Key != "o4" {
		t.Fatalf("FailedRequests() = %+v, want o2 and o4", retry)
	}
	if retry[0].Amount != 20 {
		t.Errorf("Amount = %d, want 20", retry[0].Amount)
	}

	// Session 2: o2 succeeds now, o4 still fails
	again, err := runner.Run(ctx, retry)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if again.Summary.Completed != 1 || again.Summary.Failed != 1 {
		t.Errorf("Summary = %+v, want 1 completed and 1 failed", again.Summary)
	}
	if _, ok := again.Errors["o4"]; !ok {
		t.Errorf("Errors = %v, want o4", again.Errors)
	}
}

// TestResubmissionRounds checks that retryable item failures are re-sent
// within one Run when MaxRounds allows it.
func TestResubmissionRounds(t *testing.T) {
	redisClient := testutil.StartRedisContainer(t)

	mock := testutil.NewMockBulkAPI()
	defer mock.Close()
	mock.FailKeyTimes("b", client.ItemCodeUnavailable, 2)

	c := setupClient(t, redisClient, mock)

	cfg := bulk.DefaultConfig()
	cfg.MaxRounds = 3
	cfg.Retryable = client.IsRetryable
	runner := newRunner(c, cfg)

	report, err := runner.Run(context.Background(), orders("a", "b", "c"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Rounds != 3 {
		t.Errorf("Rounds = %d, want 3", report.Rounds)
	}
	if report.Failed() {
		t.Errorf("Failed() = true, errors %v", report.Errors)
	}
	if got, want := mock.BatchSizes(), []int{3, 1, 1}; !equalInts(got, want) {
		t.Errorf("BatchSizes() = %v, want %v", got, want)
	}
}

// TestWholeCallFailurePolicies compares fail_batch and abandon against a
// backend that keeps failing.
func TestWholeCallFailurePolicies(t *testing.T) {
	redisClient := testutil.StartRedisContainer(t)

	tests := []struct {
		name          string
		policy        bulk.FailurePolicy
		wantErr       error
		wantRequests  int
		wantPending   int
		wantFailed    int
		wantCompleted int
	}{
		{"fail_batch", bulk.FailBatch, nil, 2, 0, 2, 1},
		{"abandon", bulk.Abandon, bulk.ErrAbandoned, 1, 3, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := redisClient.FlushDB(context.Background()).Err(); err != nil {
				t.Fatalf("FlushDB() error = %v", err)
			}

			mock := testutil.NewMockBulkAPI()
			defer mock.Close()
			mock.FailNextCalls(1, http.StatusBadRequest)

			c := setupClient(t, redisClient, mock)

			cfg := bulk.DefaultConfig()
			cfg.MaxBatchSize = 2
			cfg.Policy = tt.policy
			report, err := newRunner(c, cfg).Run(context.Background(), orders("a", "b", "c"))

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if mock.RequestCount() != tt.wantRequests {
				t.Errorf("RequestCount() = %d, want %d", mock.RequestCount(), tt.wantRequests)
			}
			want := batch.Summary{Total: 3, Pending: tt.wantPending, Completed: tt.wantCompleted, Failed: tt.wantFailed}
			if report.Summary != want {
				t.Errorf("Summary = %+v, want %+v", report.Summary, want)
			}
		})
	}
}

// TestConcurrentRunnersShareQuota checks that a low quota reported to one
// runner blocks the others sharing the same Redis.
func TestConcurrentRunnersShareQuota(t *testing.T) {
	redisClient := testutil.StartRedisContainer(t)

	mock := testutil.NewMockBulkAPI()
	defer mock.Close()

	warm := setupClient(t, redisClient, mock)
	mock.SetQuota(1, 60)

	cfg := bulk.DefaultConfig()
	cfg.MaxBatchSize = 1

	// first call records the low quota
	report, err := newRunner(warm, cfg).Run(context.Background(), orders("warmup"))
	if err != nil || report.Failed() {
		t.Fatalf("warm-up Run() error = %v, report %+v", err, report.Summary)
	}

	runners := make([]*bulk.Runner[string, Order, Order], 3)
	for i := range runners {
		runners[i] = newRunner(setupClient(t, redisClient, mock), cfg)
	}

	var wg sync.WaitGroup
	reports := make([]*bulk.Report[string, Order, Order], len(runners))
	for i, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], _ = r.Run(context.Background(), orders("x", "y"))
		}()
	}
	wg.Wait()

	for i, r := range reports {
		if r.Summary.Failed != 2 {
			t.Errorf("runner %d Summary = %+v, want all failed", i, r.Summary)
		}
		for key, err := range r.Errors {
			if !errors.Is(err, client.ErrRateLimited) {
				t.Errorf("runner %d item %s error = %v, want ErrRateLimited", i, key, err)
			}
		}
	}
	if mock.RequestCount() != 1 {
		t.Errorf("RequestCount() = %d, want only the warm-up call", mock.RequestCount())
	}
}

// TestSessionExpiry checks that Redis drops stored sessions after their TTL.
func TestSessionExpiry(t *testing.T) {
	redisClient := testutil.StartRedisContainer(t)

	mock := testutil.NewMockBulkAPI()
	defer mock.Close()

	c := setupClient(t, redisClient, mock)
	report, err := newRunner(c, bulk.DefaultConfig()).Run(context.Background(), orders("a"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	record, err := store.NewRecord("orders", report, time.Second)
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	sessions := store.NewManager(redisClient)
	ctx := context.Background()
	if err := sessions.Set(ctx, record.Key(), record); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := sessions.Get(ctx, record.Key()); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := sessions.Get(ctx, record.Key()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
