package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/studiowebux/surge/internal/executor"
	"github.com/studiowebux/surge/internal/history"
	"github.com/studiowebux/surge/internal/metrics"
	"github.com/studiowebux/surge/internal/registry"
	"github.com/studiowebux/surge/internal/types"
)

// Batch limits enforced before any network activity.
const (
	MaxThreadCount   = 100
	MaxIterations    = 10000
	MaxTotalRequests = 1_000_000
)

// progressInterval bounds notification volume: a snapshot goes out
// every N completions plus unconditionally on the final one.
const progressInterval = 10

// Runner orchestrates concurrent batches: exactly threadCount workers
// each performing iterations sequential requests, drawing slots from
// a pool shared across all batches.
type Runner struct {
	executor *executor.Executor
	registry *registry.Registry
	history  history.Sink
	metrics  *metrics.Metrics
	slots    *semaphore.Weighted
	log      *zap.Logger

	// RampUp staggers worker starts across the configured window.
	RampUp time.Duration
}

// NewRunner wires a batch runner. maxSlots caps concurrent workers
// across every batch this runner executes.
func NewRunner(exec *executor.Executor, reg *registry.Registry, sink history.Sink, m *metrics.Metrics, maxSlots int64, log *zap.Logger) *Runner {
	if maxSlots < 1 {
		maxSlots = MaxThreadCount
	}
	return &Runner{
		executor: exec,
		registry: reg,
		history:  sink,
		metrics:  m,
		slots:    semaphore.NewWeighted(maxSlots),
		log:      log,
	}
}

// validate reports every violated constraint together, not just the
// first.
func validate(cfg *types.RequestConfig, threadCount, iterations int) (*responseValidator, error) {
	var violations []error

	if threadCount < 1 || threadCount > MaxThreadCount {
		violations = append(violations, fmt.Errorf("threadCount must be between 1 and %d, got %d", MaxThreadCount, threadCount))
	}
	if iterations < 1 || iterations > MaxIterations {
		violations = append(violations, fmt.Errorf("iterations must be between 1 and %d, got %d", MaxIterations, iterations))
	}
	if threadCount > 0 && iterations > 0 && threadCount*iterations > MaxTotalRequests {
		violations = append(violations, fmt.Errorf("threadCount*iterations cannot exceed %d, got %d", MaxTotalRequests, threadCount*iterations))
	}
	if err := cfg.Validate(); err != nil {
		violations = append(violations, err)
	}

	validator, err := newResponseValidator(cfg)
	if err != nil {
		violations = append(violations, err)
	}

	if len(violations) > 0 {
		return nil, errors.Join(violations...)
	}
	return validator, nil
}

// Execute runs one batch under a fresh execution id.
func (r *Runner) Execute(ctx context.Context, cfg *types.RequestConfig, threadCount, iterations int) (*types.ConcurrentExecutionResult, error) {
	return r.ExecuteWithID(ctx, uuid.NewString(), cfg, threadCount, iterations)
}

// ExecuteWithID runs one batch to completion or cancellation and
// returns the aggregate result. Individual transport failures are
// counted, never raised; only pre-flight validation and an
// already-cancelled context produce an error. The caller-chosen id
// lets progress listeners subscribe before the batch starts.
func (r *Runner) ExecuteWithID(ctx context.Context, id string, cfg *types.RequestConfig, threadCount, iterations int) (*types.ConcurrentExecutionResult, error) {
	validator, err := validate(cfg, threadCount, iterations)
	if err != nil {
		return nil, err
	}

	total := int64(threadCount) * int64(iterations)
	agg := newAggregator(total, time.Now().UnixNano())

	batchCtx, cancel := context.WithCancel(ctx)
	r.registry.Create(id)
	r.registry.RegisterJob(id, cancel)
	r.registry.SetRunning(id)

	start := time.Now()
	r.log.Info("batch started",
		zap.String("executionId", id),
		zap.String("method", cfg.Method),
		zap.String("url", cfg.URL),
		zap.Int("threadCount", threadCount),
		zap.Int("iterations", iterations),
		zap.Int64("totalRequests", total))

	var wg sync.WaitGroup
	for w := 0; w < threadCount; w++ {
		wg.Add(1)
		go r.worker(batchCtx, &wg, w, id, cfg, iterations, total, agg, validator, threadCount)
	}
	wg.Wait()

	end := time.Now()
	completed := agg.completed.Load()

	status := types.StatusCompleted
	if batchCtx.Err() != nil && completed < total {
		status = types.StatusCancelled
	}

	// Cleanup runs unconditionally so no tracking state leaks; the
	// terminal entry is evicted after the grace window.
	r.registry.UnregisterJob(id)
	r.registry.SetTerminal(id, status)
	cancel()

	responses, execErrors, durations := agg.capturedLists()
	result := &types.ConcurrentExecutionResult{
		ExecutionID:           id,
		TotalRequests:         total,
		CompletedRequests:     completed,
		SuccessfulRequests:    agg.successful.Load(),
		FailedRequests:        agg.failed.Load(),
		AverageResponseTimeMs: agg.averageMs(),
		MinResponseTimeMs:     agg.min(),
		MaxResponseTimeMs:     agg.max(),
		Responses:             responses,
		Errors:                execErrors,
		DurationsMs:           durations,
		StartTime:             start,
		EndTime:               end,
		ThreadCount:           threadCount,
		Status:                status,
	}

	if r.metrics != nil {
		r.metrics.ObserveBatch(string(status))
	}
	r.recordAggregate(cfg, result)

	r.log.Info("batch finished",
		zap.String("executionId", id),
		zap.String("status", string(status)),
		zap.Int64("completed", completed),
		zap.Int64("successful", result.SuccessfulRequests),
		zap.Int64("failed", result.FailedRequests),
		zap.Duration("elapsed", end.Sub(start)))

	return result, nil
}

// worker performs its share of sequential iterations, observing
// cancellation between iterations so already-counted results are
// preserved.
func (r *Runner) worker(ctx context.Context, wg *sync.WaitGroup, index int, id string, cfg *types.RequestConfig, iterations int, total int64, agg *aggregator, validator *responseValidator, threadCount int) {
	defer wg.Done()

	if err := r.slots.Acquire(ctx, 1); err != nil {
		return
	}
	defer r.slots.Release(1)

	if r.metrics != nil {
		r.metrics.WorkerStarted()
		defer r.metrics.WorkerStopped()
	}

	if r.RampUp > 0 && threadCount > 1 {
		offset := time.Duration(index) * r.RampUp / time.Duration(threadCount)
		select {
		case <-ctx.Done():
			return
		case <-time.After(offset):
		}
	}

	for i := 0; i < iterations; i++ {
		if ctx.Err() != nil {
			return
		}

		requestIndex := index*iterations + i
		resp, err := r.executor.Do(ctx, cfg)
		if err != nil {
			// Cancellation mid-request; counted results stay as-is.
			return
		}

		r.record(id, agg, resp, requestIndex, total, validator, cfg)
	}
}

// record folds one response into the aggregates and emits progress on
// the configured cadence.
func (r *Runner) record(id string, agg *aggregator, resp *types.HttpResponse, requestIndex int, total int64, validator *responseValidator, cfg *types.RequestConfig) {
	agg.recordDuration(resp.ResponseTimeMs)
	agg.captureResponse(resp)

	if failure, execErr := evaluate(resp, requestIndex, validator, cfg); failure {
		agg.failed.Add(1)
		agg.captureError(execErr)
		if r.metrics != nil {
			r.metrics.ObserveError(string(execErr.Type))
		}
	} else {
		agg.successful.Add(1)
	}

	completed := agg.completed.Add(1)
	if completed%progressInterval == 0 || completed == total {
		r.registry.Broadcast(agg.snapshot(id, total))
	}
}

// evaluate decides success or failure for one response and builds the
// error record on failure.
func evaluate(resp *types.HttpResponse, requestIndex int, validator *responseValidator, cfg *types.RequestConfig) (bool, types.ExecutionError) {
	if resp.IsSynthetic() {
		return true, types.ExecutionError{
			Message:      resp.Error,
			Kind:         "transport",
			RequestIndex: requestIndex,
			Type:         executor.ClassifyResponse(resp),
		}
	}

	if !cfg.IsExpectedStatus(resp.StatusCode) {
		errType := executor.ClassifyResponse(resp)
		if errType == types.ErrorUnknown {
			errType = types.ErrorValidation
		}
		return true, types.ExecutionError{
			Message:      fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Kind:         "status",
			RequestIndex: requestIndex,
			Type:         errType,
		}
	}

	if validator.active() {
		if msg := validator.validate(resp.Body); msg != "" {
			return true, types.ExecutionError{
				Message:      msg,
				Kind:         "body",
				RequestIndex: requestIndex,
				Type:         types.ErrorValidation,
			}
		}
	}

	return false, types.ExecutionError{}
}

// recordAggregate saves the batch aggregate to history. Individual
// iterations are deliberately not recorded, bounding history volume.
func (r *Runner) recordAggregate(cfg *types.RequestConfig, result *types.ConcurrentExecutionResult) {
	rec := &history.BatchRecord{
		ExecutionID:        result.ExecutionID,
		StartedAt:          result.StartTime,
		CompletedAt:        result.EndTime,
		Status:             string(result.Status),
		ThreadCount:        result.ThreadCount,
		TotalRequests:      result.TotalRequests,
		CompletedRequests:  result.CompletedRequests,
		SuccessfulRequests: result.SuccessfulRequests,
		FailedRequests:     result.FailedRequests,
		AvgDurationMs:      result.AverageResponseTimeMs,
		MinDurationMs:      result.MinResponseTimeMs,
		MaxDurationMs:      result.MaxResponseTimeMs,
		Method:             cfg.Method,
		URL:                cfg.URL,
	}
	if err := r.history.RecordBatch(rec); err != nil {
		r.log.Warn("failed to record batch aggregate",
			zap.String("executionId", result.ExecutionID),
			zap.Error(err))
	}
}
