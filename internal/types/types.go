package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RequestConfig describes a single HTTP request to execute.
// It is treated as immutable once handed to the engine.
type RequestConfig struct {
	Method      string            `json:"method" yaml:"method"`
	URL         string            `json:"url" yaml:"url"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty" yaml:"queryParams,omitempty"`

	// Timeout applies to the whole request (connect + write + read).
	// Zero means the transport default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Validation applied to batch responses. A response that fails
	// validation counts as a failed request, not a transport error.
	ExpectedStatuses     []int             `json:"expectedStatuses,omitempty" yaml:"expectedStatuses,omitempty"`
	ExpectedBodyContains string            `json:"expectedBodyContains,omitempty" yaml:"expectedBodyContains,omitempty"`
	ExpectedBodyPattern  string            `json:"expectedBodyPattern,omitempty" yaml:"expectedBodyPattern,omitempty"`
	ExpectedBodyFields   map[string]string `json:"expectedBodyFields,omitempty" yaml:"expectedBodyFields,omitempty"`
}

// Validate checks the request shape before any network activity.
func (c *RequestConfig) Validate() error {
	if c.Method == "" {
		return fmt.Errorf("request method is required")
	}
	switch strings.ToUpper(c.Method) {
	case "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS":
	default:
		return fmt.Errorf("unsupported method: %s", c.Method)
	}
	if c.URL == "" {
		return fmt.Errorf("request url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme: %q", u.Scheme)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

// IsExpectedStatus reports whether the status code matches the
// configured expectations. With no expectations, any 2xx passes.
func (c *RequestConfig) IsExpectedStatus(status int) bool {
	if len(c.ExpectedStatuses) == 0 {
		return status >= 200 && status < 300
	}
	for _, s := range c.ExpectedStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// TLSConfig holds TLS/mTLS settings for the transport.
type TLSConfig struct {
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	CertFile           string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CAFile             string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
}

// HttpResponse contains the outcome of one request execution.
// Transport failures are represented as a response with a synthetic
// status code (see NewSyntheticFailure) so success and failure share
// one shape on the single-request path.
type HttpResponse struct {
	StatusCode     int               `json:"statusCode"`
	StatusText     string            `json:"statusText"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	ResponseTimeMs int64             `json:"responseTimeMs"`
	Timestamp      time.Time         `json:"timestamp"`
	RequestURL     string            `json:"requestUrl"`
	RequestMethod  string            `json:"requestMethod"`

	// Error carries the transport error message for synthetic
	// failure responses; empty for real responses.
	Error string `json:"error,omitempty"`
}

// Synthetic status codes used when the transport fails.
const (
	StatusTransportFailure = 0   // generic transport failure
	StatusSyntheticTimeout = 408 // timeout-like failures
	StatusSyntheticRefused = 503 // connection/host failures
)

// NewSyntheticFailure builds a response-shaped value for a transport
// failure.
func NewSyntheticFailure(cfg *RequestConfig, status int, message string, durationMs int64) *HttpResponse {
	return &HttpResponse{
		StatusCode:     status,
		StatusText:     syntheticStatusText(status),
		Body:           message,
		ResponseTimeMs: durationMs,
		Timestamp:      time.Now(),
		RequestURL:     cfg.URL,
		RequestMethod:  strings.ToUpper(cfg.Method),
		Error:          message,
	}
}

func syntheticStatusText(status int) string {
	switch status {
	case StatusSyntheticTimeout:
		return "Request Timeout"
	case StatusSyntheticRefused:
		return "Service Unavailable"
	default:
		return "Transport Failure"
	}
}

// IsSynthetic reports whether the response stands in for a transport
// failure rather than a server answer.
func (r *HttpResponse) IsSynthetic() bool {
	return r.Error != ""
}

// ExecutionStatus tracks the lifecycle of a single request or batch.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusCancelled ExecutionStatus = "cancelled"
	StatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// ExecutionProgress is a point-in-time snapshot of a running batch.
// It is broadcast to listeners and never persisted.
type ExecutionProgress struct {
	ExecutionID           string  `json:"executionId"`
	TotalRequests         int64   `json:"totalRequests"`
	CompletedRequests     int64   `json:"completedRequests"`
	SuccessfulRequests    int64   `json:"successfulRequests"`
	FailedRequests        int64   `json:"failedRequests"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
}

// ErrorType buckets failures for the statistics breakdown.
type ErrorType string

const (
	ErrorTimeout        ErrorType = "timeout"
	ErrorNetwork        ErrorType = "network"
	ErrorValidation     ErrorType = "validation"
	ErrorAuthentication ErrorType = "authentication"
	ErrorServer         ErrorType = "server_error"
	ErrorUnknown        ErrorType = "unknown"
)

// ErrorTypes lists every declared bucket. The statistics breakdown is
// zero-filled over this set.
func ErrorTypes() []ErrorType {
	return []ErrorType{
		ErrorTimeout,
		ErrorNetwork,
		ErrorValidation,
		ErrorAuthentication,
		ErrorServer,
		ErrorUnknown,
	}
}

// ExecutionError records one failed request within a batch.
type ExecutionError struct {
	Message      string    `json:"message"`
	Kind         string    `json:"kind,omitempty"`
	RequestIndex int       `json:"requestIndex"`
	Type         ErrorType `json:"type"`
}

// ResponseCaptureLimit bounds how many individual responses a batch
// retains. Above the limit only aggregates and errors are kept.
const ResponseCaptureLimit = 1000

// ConcurrentExecutionResult is the aggregate outcome of one batch.
type ConcurrentExecutionResult struct {
	ExecutionID        string `json:"executionId"`
	TotalRequests      int64  `json:"totalRequests"`
	CompletedRequests  int64  `json:"completedRequests"`
	SuccessfulRequests int64  `json:"successfulRequests"`
	FailedRequests     int64  `json:"failedRequests"`

	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
	MinResponseTimeMs     int64   `json:"minResponseTimeMs"`
	MaxResponseTimeMs     int64   `json:"maxResponseTimeMs"`

	// Responses holds every individual response only while
	// TotalRequests <= ResponseCaptureLimit.
	Responses []*HttpResponse  `json:"responses,omitempty"`
	Errors    []ExecutionError `json:"errors,omitempty"`

	// DurationsMs is the response-time sample used for percentile
	// reduction. For batches larger than the capture limit it is a
	// uniform reservoir sample rather than a silent truncation.
	DurationsMs []int64 `json:"-"`

	StartTime   time.Time       `json:"startTime"`
	EndTime     time.Time       `json:"endTime"`
	ThreadCount int             `json:"threadCount"`
	Status      ExecutionStatus `json:"status"`
}

// Percentiles holds the latency distribution summary in milliseconds.
type Percentiles struct {
	P50 int64 `json:"p50"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
}

// EnhancedConcurrentResult wraps a batch result with derived metrics.
type EnhancedConcurrentResult struct {
	*ConcurrentExecutionResult

	RequestsPerSecond float64           `json:"requestsPerSecond"`
	Percentiles       Percentiles       `json:"percentiles"`
	ErrorBreakdown    map[ErrorType]int `json:"errorBreakdown"`
	SuccessRate       float64           `json:"successRate"`
	FailureRate       float64           `json:"failureRate"`
}
