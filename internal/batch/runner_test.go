package batch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/studiowebux/surge/internal/executor"
	"github.com/studiowebux/surge/internal/history"
	"github.com/studiowebux/surge/internal/logging"
	"github.com/studiowebux/surge/internal/registry"
	"github.com/studiowebux/surge/internal/transport"
	"github.com/studiowebux/surge/internal/types"
)

func newTestRunner(t *testing.T) (*Runner, *registry.Registry) {
	t.Helper()
	client, err := transport.NewNetHTTP(100, 100, nil)
	if err != nil {
		t.Fatalf("failed to build transport: %v", err)
	}
	t.Cleanup(client.Close)

	reg := registry.New(logging.Nop())
	t.Cleanup(reg.Close)

	exec := executor.New(client, reg, history.NopSink{}, nil, logging.Nop(), 5*time.Second)
	return NewRunner(exec, reg, history.NopSink{}, nil, 100, logging.Nop()), reg
}

func TestExecuteAggregatesSuccessfulBatch(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	runner, _ := newTestRunner(t)
	result, err := runner.Execute(context.Background(), &types.RequestConfig{
		Method: "GET",
		URL:    server.URL,
	}, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalRequests != 50 {
		t.Errorf("expected 50 total requests, got %d", result.TotalRequests)
	}
	if result.CompletedRequests != 50 {
		t.Errorf("expected 50 completed, got %d", result.CompletedRequests)
	}
	if result.SuccessfulRequests != 50 || result.FailedRequests != 0 {
		t.Errorf("expected 50/0 success/failure, got %d/%d", result.SuccessfulRequests, result.FailedRequests)
	}
	if result.SuccessfulRequests+result.FailedRequests != result.CompletedRequests {
		t.Error("expected successful+failed to equal completed")
	}
	if hits.Load() != 50 {
		t.Errorf("expected the server hit exactly 50 times, got %d", hits.Load())
	}
	if len(result.Responses) != 50 {
		t.Errorf("expected 50 captured responses, got %d", len(result.Responses))
	}
	if result.Status != types.StatusCompleted {
		t.Errorf("expected completed status, got %s", result.Status)
	}
	if result.ThreadCount != 5 {
		t.Errorf("expected thread count 5, got %d", result.ThreadCount)
	}
}

func TestExecuteCountsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	runner, _ := newTestRunner(t)
	result, err := runner.Execute(context.Background(), &types.RequestConfig{
		Method: "GET",
		URL:    server.URL,
	}, 2, 5)
	if err != nil {
		t.Fatalf("expected failures to be counted, not raised: %v", err)
	}

	if result.FailedRequests != 10 {
		t.Errorf("expected 10 failed requests, got %d", result.FailedRequests)
	}
	if len(result.Errors) != 10 {
		t.Fatalf("expected 10 error records, got %d", len(result.Errors))
	}
	for _, e := range result.Errors {
		if e.Type != types.ErrorServer {
			t.Errorf("expected server_error type, got %s", e.Type)
		}
	}
	if result.Status != types.StatusCompleted {
		t.Errorf("expected completed status even with failures, got %s", result.Status)
	}
}

func TestExecuteCountsTransportFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	runner, _ := newTestRunner(t)
	result, err := runner.Execute(context.Background(), &types.RequestConfig{
		Method: "GET",
		URL:    url,
	}, 2, 3)
	if err != nil {
		t.Fatalf("expected transport failures to be counted, not raised: %v", err)
	}

	if result.FailedRequests != 6 {
		t.Errorf("expected 6 failed requests, got %d", result.FailedRequests)
	}
	if result.CompletedRequests != 6 {
		t.Errorf("expected all iterations to complete, got %d", result.CompletedRequests)
	}
}

func TestExecuteReportsAllViolationsTogether(t *testing.T) {
	runner, _ := newTestRunner(t)
	_, err := runner.Execute(context.Background(), &types.RequestConfig{
		Method:              "TRACE",
		URL:                 "http://example.com",
		ExpectedBodyPattern: "[invalid",
	}, 0, 20000)
	if err == nil {
		t.Fatal("expected validation error")
	}

	msg := err.Error()
	for _, fragment := range []string{"threadCount", "iterations", "unsupported method", "invalid body pattern"} {
		if !strings.Contains(msg, fragment) {
			t.Errorf("expected violation mentioning %q, got: %s", fragment, msg)
		}
	}
}

func TestExecuteRejectsExcessiveProduct(t *testing.T) {
	runner, _ := newTestRunner(t)
	_, err := runner.Execute(context.Background(), &types.RequestConfig{
		Method: "GET",
		URL:    "http://example.com",
	}, 100, 10001)
	if err == nil || !strings.Contains(err.Error(), "iterations must be between") {
		t.Errorf("expected iterations range violation, got %v", err)
	}

	// The product violation is reported alongside the range violation.
	_, err = runner.Execute(context.Background(), &types.RequestConfig{
		Method: "GET",
		URL:    "http://example.com",
	}, 200, 10000)
	if err == nil || !strings.Contains(err.Error(), "cannot exceed") {
		t.Errorf("expected product limit violation, got %v", err)
	}
}

func TestExecuteBodyValidationFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"degraded"}`)
	}))
	defer server.Close()

	runner, _ := newTestRunner(t)
	result, err := runner.Execute(context.Background(), &types.RequestConfig{
		Method:             "GET",
		URL:                server.URL,
		ExpectedBodyFields: map[string]string{"status": "healthy"},
	}, 1, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.FailedRequests != 4 {
		t.Errorf("expected 4 validation failures, got %d", result.FailedRequests)
	}
	for _, e := range result.Errors {
		if e.Type != types.ErrorValidation {
			t.Errorf("expected validation error type, got %s", e.Type)
		}
	}
}

func TestExecuteCancellationPreservesCountedResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	defer server.Close()

	runner, reg := newTestRunner(t)

	id := "cancel-test"
	cancelled := make(chan struct{})
	var once sync.Once
	reg.AddListener(id, func(p types.ExecutionProgress) {
		if p.CompletedRequests >= 10 {
			once.Do(func() {
				reg.Cancel(id)
				close(cancelled)
			})
		}
	})

	result, err := runner.ExecuteWithID(context.Background(), id, &types.RequestConfig{
		Method: "GET",
		URL:    server.URL,
	}, 4, 200)
	if err != nil {
		t.Fatalf("expected cancellation to yield a partial result, got error: %v", err)
	}

	select {
	case <-cancelled:
	default:
		t.Fatal("expected the batch to be cancelled mid-run")
	}

	if result.Status != types.StatusCancelled {
		t.Errorf("expected cancelled status, got %s", result.Status)
	}
	if result.CompletedRequests == 0 || result.CompletedRequests >= result.TotalRequests {
		t.Errorf("expected a partial completion count, got %d/%d", result.CompletedRequests, result.TotalRequests)
	}
	if result.SuccessfulRequests+result.FailedRequests != result.CompletedRequests {
		t.Error("expected successful+failed to equal completed after cancellation")
	}

	if status, ok := reg.Status(id); !ok || status != types.StatusCancelled {
		t.Errorf("expected registry status cancelled, got %v ok=%v", status, ok)
	}
}

func TestExecuteProgressCadence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	runner, reg := newTestRunner(t)

	id := "progress-test"
	var mu sync.Mutex
	var snapshots []types.ExecutionProgress
	reg.AddListener(id, func(p types.ExecutionProgress) {
		mu.Lock()
		snapshots = append(snapshots, p)
		mu.Unlock()
	})

	result, err := runner.ExecuteWithID(context.Background(), id, &types.RequestConfig{
		Method: "GET",
		URL:    server.URL,
	}, 1, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) == 0 {
		t.Fatal("expected progress snapshots")
	}

	last := snapshots[len(snapshots)-1]
	if last.CompletedRequests != result.TotalRequests {
		t.Errorf("expected a final snapshot at %d completions, got %d", result.TotalRequests, last.CompletedRequests)
	}
	for i := 1; i < len(snapshots); i++ {
		if snapshots[i].CompletedRequests < snapshots[i-1].CompletedRequests {
			t.Errorf("expected monotonic progress, saw %d after %d",
				snapshots[i].CompletedRequests, snapshots[i-1].CompletedRequests)
		}
	}
	for _, p := range snapshots {
		if p.CompletedRequests != result.TotalRequests && p.CompletedRequests%10 != 0 {
			t.Errorf("expected snapshots only at multiples of 10 or the final count, got %d", p.CompletedRequests)
		}
	}
}

func TestExecuteDropsResponsesAboveCaptureLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	runner, _ := newTestRunner(t)
	result, err := runner.Execute(context.Background(), &types.RequestConfig{
		Method: "GET",
		URL:    server.URL,
	}, 2, 501)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalRequests != 1002 {
		t.Fatalf("expected 1002 total requests, got %d", result.TotalRequests)
	}
	if len(result.Responses) != 0 {
		t.Errorf("expected no captured responses above the limit, got %d", len(result.Responses))
	}
	if len(result.DurationsMs) != types.ResponseCaptureLimit {
		t.Errorf("expected a %d-element duration sample, got %d", types.ResponseCaptureLimit, len(result.DurationsMs))
	}
	if result.CompletedRequests != 1002 {
		t.Errorf("expected counters unaffected by the capture limit, got %d", result.CompletedRequests)
	}
}

func TestExecuteRampUpStaggersWorkers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	runner, _ := newTestRunner(t)
	runner.RampUp = 100 * time.Millisecond

	start := time.Now()
	result, err := runner.Execute(context.Background(), &types.RequestConfig{
		Method: "GET",
		URL:    server.URL,
	}, 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CompletedRequests != 2 {
		t.Fatalf("expected both workers to run, got %d", result.CompletedRequests)
	}
	// The second worker starts half the window in.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected the batch to take at least the stagger offset, took %v", elapsed)
	}
}

func TestExecuteAlreadyCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("expected no request against a cancelled context")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner, _ := newTestRunner(t)
	result, err := runner.Execute(ctx, &types.RequestConfig{
		Method: "GET",
		URL:    server.URL,
	}, 2, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != types.StatusCancelled {
		t.Errorf("expected cancelled status, got %s", result.Status)
	}
	if result.CompletedRequests != 0 {
		t.Errorf("expected no completions, got %d", result.CompletedRequests)
	}
}
