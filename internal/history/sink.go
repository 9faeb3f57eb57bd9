package history

import "time"

// Entry is a completed single-request record. Batches record only
// their aggregate (see BatchRecord) to bound history volume.
type Entry struct {
	Timestamp       time.Time         `json:"timestamp"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	RequestBody     string            `json:"requestBody,omitempty"`
	StatusCode      int               `json:"statusCode"`
	StatusText      string            `json:"statusText"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody    string            `json:"responseBody,omitempty"`
	DurationMs      int64             `json:"durationMs"`
	Error           string            `json:"error,omitempty"`
}

// BatchRecord is the aggregate of one concurrent batch run.
type BatchRecord struct {
	ExecutionID        string    `json:"executionId"`
	StartedAt          time.Time `json:"startedAt"`
	CompletedAt        time.Time `json:"completedAt"`
	Status             string    `json:"status"`
	ThreadCount        int       `json:"threadCount"`
	TotalRequests      int64     `json:"totalRequests"`
	CompletedRequests  int64     `json:"completedRequests"`
	SuccessfulRequests int64     `json:"successfulRequests"`
	FailedRequests     int64     `json:"failedRequests"`
	AvgDurationMs      float64   `json:"avgDurationMs"`
	MinDurationMs      int64     `json:"minDurationMs"`
	MaxDurationMs      int64     `json:"maxDurationMs"`
	Method             string    `json:"method"`
	URL                string    `json:"url"`
}

// Sink records completed executions. Callers treat it as
// fire-and-forget: a sink error is logged, never propagated into the
// request path.
type Sink interface {
	AddEntry(entry *Entry) error
	RecordBatch(rec *BatchRecord) error
	Close() error
}

// NopSink discards everything. Used when history is disabled.
type NopSink struct{}

func (NopSink) AddEntry(*Entry) error          { return nil }
func (NopSink) RecordBatch(*BatchRecord) error { return nil }
func (NopSink) Close() error                   { return nil }
