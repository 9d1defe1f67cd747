package upload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/bulk-request-client/pkg/batch"
	"github.com/Sternrassler/bulk-request-client/pkg/logging"
)

// UploadFunc uploads a single item.
type UploadFunc[T, R any] func(ctx context.Context, item T) (R, error)

// Config holds upload queue configuration.
type Config struct {
	// MaxActive is the maximum number of uploads in flight
	MaxActive int

	// Timeout per upload
	Timeout time.Duration

	// RateLimit caps upload starts per second. Zero means unlimited.
	RateLimit rate.Limit

	// Burst is the token bucket size used with RateLimit
	Burst int
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxActive: 3,
		Timeout:   60 * time.Second,
		RateLimit: rate.Inf,
		Burst:     1,
	}
}

// Item is the tracked state of one upload.
type Item[K comparable, T, R any] = batch.RequestItem[K, T, R, error]

// Progress is emitted every time an item reaches a terminal state.
type Progress[K comparable] struct {
	Key    K
	Status batch.Status
	Done   int
	Total  int
}

// Result is the outcome of a Process call.
type Result[K comparable, T, R any] struct {
	Items    []Item[K, T, R]
	Summary  batch.Summary
	Duration time.Duration
}

// Queue runs uploads with bounded concurrency.
type Queue[K comparable, T, R any] struct {
	config     Config
	fn         UploadFunc[T, R]
	limiter    *rate.Limiter
	logger     zerolog.Logger
	active     atomic.Int64
	onProgress func(Progress[K])
}

// New creates a queue that uploads items with fn.
func New[K comparable, T, R any](cfg Config, fn UploadFunc[T, R]) *Queue[K, T, R] {
	if fn == nil {
		panic("upload func cannot be nil")
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Queue[K, T, R]{
		config:  cfg,
		fn:      fn,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		logger:  logging.NewLogger("upload-queue"),
	}
}

// OnProgress registers a callback invoked once per finished item. Calls are
// serialised and Done increases by one each time. Register before Process.
func (q *Queue[K, T, R]) OnProgress(fn func(Progress[K])) {
	q.onProgress = fn
}

// Active returns the number of uploads currently in flight.
func (q *Queue[K, T, R]) Active() int {
	return int(q.active.Load())
}

// Process uploads items and returns every item's outcome in input order.
//
// If ctx ends, items that have not finished are failed with ctx.Err() and
// the partial result is returned together with that error.
func (q *Queue[K, T, R]) Process(ctx context.Context, items []T, keyOf func(T) K) (*Result[K, T, R], error) {
	start := time.Now()

	coord := batch.NewCoordinator[K, T, R, error](batch.Config{MaxBatchSize: 1})
	coord.Init(items, keyOf)
	total := coord.Len()

	q.logger.Info().
		Int("items", total).
		Int("max_active", q.config.MaxActive).
		Msg("Starting uploads")

	var (
		mu   sync.Mutex
		done int
	)

	// record stores one outcome; the caller holds mu.
	record := func(key K, res R, err error) {
		coord.UpdateKey(key, func(item Item[K, T, R], _ int) Item[K, T, R] {
			if err != nil {
				return item.Fail(err)
			}
			return item.Complete(res)
		})
		done++

		if q.onProgress != nil {
			item, _ := coord.Get(key)
			q.onProgress(Progress[K]{Key: key, Status: item.Status, Done: done, Total: total})
		}
	}

	var g errgroup.Group
	g.SetLimit(q.config.MaxActive)

	for ctx.Err() == nil {
		mu.Lock()
		next := coord.Pop()
		mu.Unlock()
		if len(next) == 0 {
			break
		}

		req := next[0]
		key := keyOf(req)
		g.Go(func() error {
			res, err := q.upload(ctx, key, req)
			mu.Lock()
			record(key, res, err)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	err := ctx.Err()
	if err != nil {
		var zero R
		for _, item := range coord.Inspect() {
			if item.Status == batch.StatusPending {
				record(item.Key, zero, err)
			}
		}
	}

	result := &Result[K, T, R]{
		Items:    coord.Inspect(),
		Duration: time.Since(start),
	}
	result.Summary = batch.Summarize(result.Items)

	event := q.logger.Info()
	if result.Summary.Failed > 0 {
		event = q.logger.Warn()
	}
	event.
		Int("completed", result.Summary.Completed).
		Int("failed", result.Summary.Failed).
		Dur("duration", result.Duration).
		Msg("Uploads complete")

	return result, err
}

// upload runs fn for one item under the rate limit and the item timeout.
func (q *Queue[K, T, R]) upload(ctx context.Context, key K, req T) (R, error) {
	var zero R
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := q.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	q.active.Add(1)
	uploadActive.Inc()
	defer func() {
		q.active.Add(-1)
		uploadActive.Dec()
	}()

	start := time.Now()
	itemCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	res, err := q.fn(itemCtx, req)
	uploadDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		uploadTotal.WithLabelValues("failed").Inc()
		q.logger.Warn().
			Err(err).
			Interface("key", key).
			Msg("Upload failed")
		return zero, err
	}

	uploadTotal.WithLabelValues("completed").Inc()
	q.logger.Debug().
		Interface("key", key).
		Dur("duration", time.Since(start)).
		Msg("Upload complete")
	return res, nil
}
