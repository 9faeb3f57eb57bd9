package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/surge/internal/config"
	"github.com/studiowebux/surge/internal/engine"
	"github.com/studiowebux/surge/internal/logging"
	"github.com/studiowebux/surge/internal/types"
)

// CommonOptions are shared by every command.
type CommonOptions struct {
	ConfigPath string
	Output     string // json, yaml, text
}

// RunOptions configures a single request execution.
type RunOptions struct {
	CommonOptions
	File    string // YAML request descriptor; flags override it
	Method  string
	URL     string
	Headers []string // "Key: Value" pairs
	Body    string
	Timeout time.Duration
}

// BatchOptions configures a concurrent batch execution.
type BatchOptions struct {
	RunOptions
	Threads      int
	Iterations   int
	ShowProgress bool
}

// HistoryOptions configures the history listing.
type HistoryOptions struct {
	CommonOptions
	Limit   int
	Batches bool
}

func newEngine(opts CommonOptions) (*engine.Engine, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	log := logging.New(cfg.Logging)
	return engine.New(cfg, log)
}

// buildRequest assembles the request config from a descriptor file
// and flag overrides.
func buildRequest(opts RunOptions) (*types.RequestConfig, error) {
	request := &types.RequestConfig{}

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read request file: %w", err)
		}
		if err := yaml.Unmarshal(data, request); err != nil {
			return nil, fmt.Errorf("failed to parse request file: %w", err)
		}
	}

	if opts.Method != "" {
		request.Method = opts.Method
	}
	if request.Method == "" {
		request.Method = "GET"
	}
	if opts.URL != "" {
		request.URL = opts.URL
	}
	if opts.Body != "" {
		request.Body = opts.Body
	}
	if opts.Timeout > 0 {
		request.Timeout = opts.Timeout
	}

	for _, header := range opts.Headers {
		key, value, found := strings.Cut(header, ":")
		if !found {
			return nil, fmt.Errorf("invalid header %q, expected 'Key: Value'", header)
		}
		if request.Headers == nil {
			request.Headers = make(map[string]string)
		}
		request.Headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return request, nil
}

// signalContext cancels on SIGINT/SIGTERM so a running batch shuts
// down cooperatively.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Run executes one request and prints the response.
func Run(opts RunOptions) error {
	eng, err := newEngine(opts.CommonOptions)
	if err != nil {
		return err
	}
	defer eng.Close()

	request, err := buildRequest(opts)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	resp, err := eng.ExecuteRequest(ctx, request)
	if err != nil {
		return err
	}

	return printResult(opts.Output, resp, func() {
		fmt.Printf("%s %s\n", resp.RequestMethod, resp.RequestURL)
		fmt.Printf("Status: %d %s (%dms)\n", resp.StatusCode, resp.StatusText, resp.ResponseTimeMs)
		if resp.Error != "" {
			fmt.Printf("Error: %s\n", resp.Error)
		}
		if resp.Body != "" {
			fmt.Println(resp.Body)
		}
	})
}

// Batch executes a concurrent batch and prints the statistics.
func Batch(opts BatchOptions) error {
	eng, err := newEngine(opts.CommonOptions)
	if err != nil {
		return err
	}
	defer eng.Close()

	request, err := buildRequest(opts.RunOptions)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	id := uuid.NewString()
	if opts.ShowProgress {
		eng.AddProgressListener(id, func(p types.ExecutionProgress) {
			fmt.Fprintf(os.Stderr, "\r%d/%d completed (%d ok, %d failed)",
				p.CompletedRequests, p.TotalRequests,
				p.SuccessfulRequests, p.FailedRequests)
		})
	}

	result, err := eng.ExecuteConcurrentRequestsWithID(ctx, id, request, opts.Threads, opts.Iterations)
	if err != nil {
		return err
	}
	if opts.ShowProgress {
		fmt.Fprintln(os.Stderr)
	}

	enhanced := eng.StatsFor(result)

	return printResult(opts.Output, enhanced, func() {
		fmt.Printf("Status:    %s\n", result.Status)
		fmt.Printf("Requests:  %d total, %d ok, %d failed\n",
			result.TotalRequests, result.SuccessfulRequests, result.FailedRequests)
		fmt.Printf("Duration:  avg %.1fms, min %dms, max %dms\n",
			result.AverageResponseTimeMs, result.MinResponseTimeMs, result.MaxResponseTimeMs)
		fmt.Printf("Latency:   p50 %dms, p95 %dms, p99 %dms\n",
			enhanced.Percentiles.P50, enhanced.Percentiles.P95, enhanced.Percentiles.P99)
		fmt.Printf("Rate:      %.1f req/s, %.1f%% success\n",
			enhanced.RequestsPerSecond, enhanced.SuccessRate)
		for errType, count := range enhanced.ErrorBreakdown {
			if count > 0 {
				fmt.Printf("  %s: %d\n", errType, count)
			}
		}
	})
}

// History prints recent request entries or batch aggregates.
func History(opts HistoryOptions) error {
	eng, err := newEngine(opts.CommonOptions)
	if err != nil {
		return err
	}
	defer eng.Close()

	sink := eng.History()
	if sink == nil {
		return fmt.Errorf("history is disabled in the configuration")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	if opts.Batches {
		records, err := sink.ListBatches(limit)
		if err != nil {
			return err
		}
		return printResult(opts.Output, records, func() {
			for _, r := range records {
				fmt.Printf("%s  %-9s %s %s  %d/%d ok, %d failed, avg %.1fms\n",
					r.StartedAt.Format(time.RFC3339), r.Status, r.Method, r.URL,
					r.SuccessfulRequests, r.TotalRequests, r.FailedRequests, r.AvgDurationMs)
			}
		})
	}

	entries, err := sink.Recent(limit)
	if err != nil {
		return err
	}
	return printResult(opts.Output, entries, func() {
		for _, e := range entries {
			fmt.Printf("%s  %-6s %s  %d (%dms)\n",
				e.Timestamp.Format(time.RFC3339), e.Method, e.URL, e.StatusCode, e.DurationMs)
		}
	})
}

// printResult renders v as json/yaml, or falls back to the text
// printer.
func printResult(output string, v interface{}, text func()) error {
	switch output {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Print(string(data))
	default:
		text()
	}
	return nil
}
