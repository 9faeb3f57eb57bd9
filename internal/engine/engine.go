package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studiowebux/surge/internal/batch"
	"github.com/studiowebux/surge/internal/config"
	"github.com/studiowebux/surge/internal/executor"
	"github.com/studiowebux/surge/internal/history"
	"github.com/studiowebux/surge/internal/metrics"
	"github.com/studiowebux/surge/internal/progressfeed"
	"github.com/studiowebux/surge/internal/recovery"
	"github.com/studiowebux/surge/internal/registry"
	"github.com/studiowebux/surge/internal/stats"
	"github.com/studiowebux/surge/internal/transport"
	"github.com/studiowebux/surge/internal/types"
)

// Engine is the request-execution facade. One instance exclusively
// owns its registry, transport, history sink and metrics; construct
// with New and release with Close.
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	client   transport.Client
	registry *registry.Registry
	sink     history.Sink
	metrics  *metrics.Metrics
	executor *executor.Executor
	runner   *batch.Runner
	recovery *recovery.Manager
	feed     *progressfeed.Server

	shutdownTimeout time.Duration
}

// New builds an engine from the config. Optional servers (metrics,
// progress feed) start only when an address is configured.
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client transport.Client
	var err error
	switch cfg.Transport.Kind {
	case "fasthttp":
		client, err = transport.NewFastHTTP(cfg.Transport.MaxConnsPerHost, cfg.Transport.TLS)
	default:
		client, err = transport.NewNetHTTP(cfg.Transport.MaxIdleConns, cfg.Transport.MaxConnsPerHost, cfg.Transport.TLS)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build transport: %w", err)
	}

	var sink history.Sink
	if cfg.History.Disabled {
		sink = history.NopSink{}
	} else {
		sink, err = history.NewSQLiteSink(cfg.History.Path)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to open history sink: %w", err)
		}
	}

	reg := registry.New(log)
	m := metrics.New()
	exec := executor.New(client, reg, sink, m, log, cfg.Transport.RequestTimeout)
	runner := batch.NewRunner(exec, reg, sink, m, int64(cfg.MaxWorkerSlots), log)
	runner.RampUp = cfg.RampUp

	e := &Engine{
		cfg:             cfg,
		log:             log,
		client:          client,
		registry:        reg,
		sink:            sink,
		metrics:         m,
		executor:        exec,
		runner:          runner,
		recovery:        recovery.NewManager(log),
		shutdownTimeout: 5 * time.Second,
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}
	if cfg.ProgressFeedAddr != "" {
		e.feed = progressfeed.New(reg, log)
		go func() {
			if err := e.feed.Serve(cfg.ProgressFeedAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("progress feed stopped", zap.Error(err))
			}
		}()
	}

	return e, nil
}

// ExecuteRequest runs one request under a fresh execution id.
func (e *Engine) ExecuteRequest(ctx context.Context, cfg *types.RequestConfig) (*types.HttpResponse, error) {
	return e.ExecuteRequestWithID(ctx, uuid.NewString(), cfg)
}

// ExecuteRequestWithID runs one request under a caller-chosen id so
// CancelExecution and GetExecutionStatus can correlate it. Transport
// failures come back as a synthetic response; only cancellation and
// validation produce an error.
func (e *Engine) ExecuteRequestWithID(ctx context.Context, id string, cfg *types.RequestConfig) (*types.HttpResponse, error) {
	e.registry.Create(id)
	e.registry.SetRunning(id)

	resp, err := e.executor.Execute(ctx, id, cfg)
	switch {
	case err == nil:
		e.registry.SetTerminal(id, types.StatusCompleted)
	case errors.Is(err, context.Canceled):
		e.registry.SetTerminal(id, types.StatusCancelled)
	default:
		e.registry.SetTerminal(id, types.StatusFailed)
	}
	return resp, err
}

// ExecuteConcurrentRequests runs a batch of threadCount workers each
// performing iterations sequential requests.
func (e *Engine) ExecuteConcurrentRequests(ctx context.Context, cfg *types.RequestConfig, threadCount, iterations int) (*types.ConcurrentExecutionResult, error) {
	return e.runner.Execute(ctx, cfg, threadCount, iterations)
}

// ExecuteConcurrentRequestsWithID is ExecuteConcurrentRequests with a
// caller-chosen execution id, so listeners can subscribe up front.
func (e *Engine) ExecuteConcurrentRequestsWithID(ctx context.Context, id string, cfg *types.RequestConfig, threadCount, iterations int) (*types.ConcurrentExecutionResult, error) {
	return e.runner.ExecuteWithID(ctx, id, cfg, threadCount, iterations)
}

// ExecuteConcurrentRequestsWithStats runs a batch and reduces the
// result into throughput, percentile and error statistics.
func (e *Engine) ExecuteConcurrentRequestsWithStats(ctx context.Context, cfg *types.RequestConfig, threadCount, iterations int) (*types.EnhancedConcurrentResult, error) {
	result, err := e.runner.Execute(ctx, cfg, threadCount, iterations)
	if err != nil {
		return nil, err
	}
	return stats.Calculate(result), nil
}

// StatsFor reduces an existing batch result into throughput,
// percentile and error statistics.
func (e *Engine) StatsFor(result *types.ConcurrentExecutionResult) *types.EnhancedConcurrentResult {
	return stats.Calculate(result)
}

// CancelExecution aborts the batch job or single in-flight call
// registered under id. Returns false when nothing active was found.
func (e *Engine) CancelExecution(id string) bool {
	return e.registry.Cancel(id)
}

// GetExecutionStatus looks up the current status for an execution id.
func (e *Engine) GetExecutionStatus(id string) (types.ExecutionStatus, bool) {
	return e.registry.Status(id)
}

// AddProgressListener subscribes to progress snapshots for an
// execution id and returns a removal token.
func (e *Engine) AddProgressListener(id string, fn registry.ProgressListener) int {
	return e.registry.AddListener(id, fn)
}

// RemoveProgressListener unsubscribes a listener.
func (e *Engine) RemoveProgressListener(id string, token int) {
	e.registry.RemoveListener(id, token)
}

// RegisterRecoveryStrategy installs a retry strategy for a logical
// operation id.
func (e *Engine) RegisterRecoveryStrategy(operationID string, s recovery.Strategy) {
	e.recovery.Register(operationID, s)
}

// ExecuteWithRecovery runs op under the strategy registered for
// operationID.
func (e *Engine) ExecuteWithRecovery(ctx context.Context, operationID string, op func(ctx context.Context) error) recovery.Outcome {
	return e.recovery.Execute(ctx, operationID, op)
}

// Recovery exposes the recovery manager (attempt counters, resets).
func (e *Engine) Recovery() *recovery.Manager {
	return e.recovery
}

// History exposes the sink for read-side queries; nil when history is
// disabled.
func (e *Engine) History() *history.SQLiteSink {
	if s, ok := e.sink.(*history.SQLiteSink); ok {
		return s
	}
	return nil
}

// Close releases every owned resource. Safe to call once.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()

	var errs []error
	if e.feed != nil {
		if err := e.feed.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	e.registry.Close()
	e.client.Close()
	if err := e.sink.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
