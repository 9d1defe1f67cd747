package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bulk-request-client/pkg/batch"
	"github.com/Sternrassler/bulk-request-client/pkg/logging"
)

var (
	// ErrNoResult fails items for which the bulk endpoint returned no result.
	ErrNoResult = errors.New("no result returned for item")

	// ErrAbandoned is returned when a whole-call failure discards a session.
	ErrAbandoned = errors.New("bulk session abandoned")

	// ErrBatchFailed wraps whole-call failures recorded on individual items.
	ErrBatchFailed = errors.New("bulk call failed")
)

// FailurePolicy selects what happens when a whole bulk call fails.
type FailurePolicy int

const (
	// FailBatch marks every item of the failed wave as failed and carries on.
	FailBatch FailurePolicy = iota

	// Abandon stops the session and returns ErrAbandoned.
	Abandon
)

// String implements fmt.Stringer.
func (p FailurePolicy) String() string {
	switch p {
	case FailBatch:
		return "fail_batch"
	case Abandon:
		return "abandon"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses the String form of a policy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "fail_batch":
		return FailBatch, nil
	case "abandon":
		return Abandon, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Config holds runner configuration.
type Config struct {
	// MaxBatchSize is the maximum number of items per wave.
	MaxBatchSize int

	// Policy for whole-call failures.
	Policy FailurePolicy

	// MaxRounds is the total number of sessions per Run, including the first.
	// Values above 1 enable resubmission of Retryable failures.
	MaxRounds int

	// Retryable selects failed items for resubmission. Nil disables it.
	Retryable func(error) bool

	// WaveTimeout bounds each SendBatch call.
	WaveTimeout time.Duration
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: batch.DefaultMaxBatchSize,
		Policy:       FailBatch,
		MaxRounds:    1,
		WaveTimeout:  30 * time.Second,
	}
}

// Runner executes bulk sessions. It is safe for concurrent use; every Run
// uses its own coordinator.
type Runner[K comparable, Req, Res any] struct {
	sender Sender[Req, Res]
	keyOf  func(Req) K
	config Config
	logger zerolog.Logger
}

// NewRunner creates a runner. It panics if sender or keyOf is nil.
func NewRunner[K comparable, Req, Res any](sender Sender[Req, Res], keyOf func(Req) K, cfg Config) *Runner[K, Req, Res] {
	if sender == nil {
		panic("bulk: nil sender")
	}
	if keyOf == nil {
		panic("bulk: nil key selector")
	}

	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = batch.DefaultMaxBatchSize
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}
	if cfg.WaveTimeout <= 0 {
		cfg.WaveTimeout = 30 * time.Second
	}

	return &Runner[K, Req, Res]{
		sender: sender,
		keyOf:  keyOf,
		config: cfg,
		logger: logging.NewLogger("bulk-runner"),
	}
}

// SetLogger replaces the runner's logger.
func (r *Runner[K, Req, Res]) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// Run processes items and returns the merged report of all rounds.
//
// On context cancellation or abandonment, the partial report is returned
// together with the error.
func (r *Runner[K, Req, Res]) Run(ctx context.Context, items []Req) (*Report[K, Req, Res], error) {
	start := time.Now()
	sessionID := uuid.NewString()
	logger := r.logger.With().Str("session_id", sessionID).Logger()

	defer func() {
		SessionDuration.Observe(time.Since(start).Seconds())
	}()

	logger.Info().
		Int("items", len(items)).
		Int("max_batch_size", r.config.MaxBatchSize).
		Str("policy", r.config.Policy.String()).
		Msg("Starting bulk session")

	merged := newMergedItems[K, Req, Res]()
	pending := items
	rounds := 0

	for len(pending) > 0 && rounds < r.config.MaxRounds {
		rounds++

		result, err := r.runSession(ctx, logger.With().Int("round", rounds).Logger(), pending)
		merged.add(result)

		if err != nil {
			report := newReport(sessionID, merged.list(), rounds, time.Since(start))
			r.record(report)
			logger.Error().
				Err(err).
				Int("completed", report.Summary.Completed).
				Int("failed", report.Summary.Failed).
				Msg("Bulk session stopped")
			return report, err
		}

		if r.config.Retryable == nil {
			break
		}
		pending = r.retryable(result)
		if len(pending) > 0 && rounds < r.config.MaxRounds {
			logger.Warn().
				Int("items", len(pending)).
				Int("next_round", rounds+1).
				Msg("Resubmitting failed items")
		}
	}

	report := newReport(sessionID, merged.list(), rounds, time.Since(start))
	r.record(report)

	event := logger.Info()
	if report.Failed() {
		event = logger.Warn()
	}
	event.
		Int("completed", report.Summary.Completed).
		Int("failed", report.Summary.Failed).
		Int("rounds", rounds).
		Dur("duration", report.Duration).
		Msg("Bulk session complete")

	return report, nil
}

// runSession runs one coordinator session over reqs.
func (r *Runner[K, Req, Res]) runSession(ctx context.Context, logger zerolog.Logger, reqs []Req) ([]Item[K, Req, Res], error) {
	coord := batch.NewCoordinator[K, Req, Res, error](batch.Config{MaxBatchSize: r.config.MaxBatchSize})
	coord.Init(reqs, r.keyOf)
	defer coord.Reset()

	waves := 0
	for {
		if err := ctx.Err(); err != nil {
			failPending(coord, err)
			return coord.Inspect(), err
		}

		wave := coord.Pop()
		if len(wave) == 0 {
			break
		}
		waves++

		keys := make([]K, len(wave))
		for i, req := range wave {
			keys[i] = r.keyOf(req)
		}
		WaveSize.Observe(float64(len(wave)))

		waveStart := time.Now()
		waveCtx, cancel := context.WithTimeout(ctx, r.config.WaveTimeout)
		results, err := r.sender.SendBatch(waveCtx, wave)
		cancel()

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				WavesTotal.WithLabelValues("failed").Inc()
				failPending(coord, ctxErr)
				return coord.Inspect(), ctxErr
			}

			if r.config.Policy == Abandon {
				WavesTotal.WithLabelValues("abandoned").Inc()
				logger.Error().
					Err(err).
					Int("wave", waves).
					Msg("Bulk call failed - abandoning session")
				return coord.Inspect(), fmt.Errorf("%w: %w", ErrAbandoned, err)
			}

			WavesTotal.WithLabelValues("failed").Inc()
			logger.Warn().
				Err(err).
				Int("wave", waves).
				Int("items", len(wave)).
				Msg("Bulk call failed - marking wave as failed")
			resolve(coord, keys, nil, fmt.Errorf("%w: %w", ErrBatchFailed, err))
			continue
		}

		WavesTotal.WithLabelValues("ok").Inc()
		if len(results) != len(wave) {
			logger.Warn().
				Int("wave", waves).
				Int("submitted", len(wave)).
				Int("results", len(results)).
				Msg("Result count does not match wave size")
		}
		resolve(coord, keys, results, nil)

		// Remaining scans the session, only pay for it when debugging
		if e := logger.Debug(); e.Enabled() {
			e.Int("wave", waves).
				Int("items", len(wave)).
				Int("remaining", coord.Remaining()).
				Dur("duration", time.Since(waveStart)).
				Msg("Wave complete")
		}
	}

	return coord.Inspect(), nil
}

// resolve marks the items of one wave. A non-nil waveErr fails all of them.
func resolve[K comparable, Req, Res any](coord *batch.Coordinator[K, Req, Res, error], keys []K, results []Result[Res], waveErr error) {
	for pos, key := range keys {
		coord.UpdateKey(key, func(item Item[K, Req, Res], _ int) Item[K, Req, Res] {
			switch {
			case waveErr != nil:
				return item.Fail(waveErr)
			case pos >= len(results):
				return item.Fail(ErrNoResult)
			case results[pos].Err != nil:
				return item.Fail(results[pos].Err)
			default:
				return item.Complete(results[pos].Value)
			}
		})
	}
}

func failPending[K comparable, Req, Res any](coord *batch.Coordinator[K, Req, Res, error], err error) {
	coord.Update(func(item Item[K, Req, Res], _ int) Item[K, Req, Res] {
		return item.Fail(err)
	})
}

func (r *Runner[K, Req, Res]) retryable(items []Item[K, Req, Res]) []Req {
	var reqs []Req
	for _, item := range items {
		if item.Status == batch.StatusFailed && r.config.Retryable(item.Error) {
			reqs = append(reqs, item.Request)
		}
	}
	return reqs
}

func (r *Runner[K, Req, Res]) record(report *Report[K, Req, Res]) {
	ItemsTotal.WithLabelValues(batch.StatusCompleted.String()).Add(float64(report.Summary.Completed))
	ItemsTotal.WithLabelValues(batch.StatusFailed.String()).Add(float64(report.Summary.Failed))
	if report.Summary.Pending > 0 {
		ItemsTotal.WithLabelValues(batch.StatusPending.String()).Add(float64(report.Summary.Pending))
	}
}

// mergedItems keeps the first-seen order of keys while later rounds replace
// earlier outcomes.
type mergedItems[K comparable, Req, Res any] struct {
	order []K
	items map[K]Item[K, Req, Res]
}

func newMergedItems[K comparable, Req, Res any]() *mergedItems[K, Req, Res] {
	return &mergedItems[K, Req, Res]{items: make(map[K]Item[K, Req, Res])}
}

func (m *mergedItems[K, Req, Res]) add(items []Item[K, Req, Res]) {
	for _, item := range items {
		if _, ok := m.items[item.Key]; !ok {
			m.order = append(m.order, item.Key)
		}
		m.items[item.Key] = item
	}
}

func (m *mergedItems[K, Req, Res]) list() []Item[K, Req, Res] {
	out := make([]Item[K, Req, Res], 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.items[key])
	}
	return out
}
