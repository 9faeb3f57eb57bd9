package history

import (
	"testing"
	"time"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory sink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestAddAndLoadEntries(t *testing.T) {
	sink := newTestSink(t)

	entry := &Entry{
		Timestamp:       time.Now(),
		Method:          "POST",
		URL:             "http://example.com/api",
		RequestHeaders:  map[string]string{"Content-Type": "application/json"},
		RequestBody:     `{"key":"value"}`,
		StatusCode:      201,
		StatusText:      "Created",
		ResponseHeaders: map[string]string{"X-Request-Id": "abc"},
		ResponseBody:    `{"id":1}`,
		DurationMs:      42,
	}
	if err := sink.AddEntry(entry); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}

	entries, err := sink.Recent(10)
	if err != nil {
		t.Fatalf("failed to load entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	got := entries[0]
	if got.Method != "POST" || got.URL != "http://example.com/api" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.StatusCode != 201 || got.DurationMs != 42 {
		t.Errorf("unexpected status/duration: %d/%d", got.StatusCode, got.DurationMs)
	}
	if got.RequestHeaders["Content-Type"] != "application/json" {
		t.Errorf("expected request headers round-tripped, got %v", got.RequestHeaders)
	}
	if got.ResponseBody != `{"id":1}` {
		t.Errorf("expected response body round-tripped, got %q", got.ResponseBody)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	sink := newTestSink(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := sink.AddEntry(&Entry{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Method:     "GET",
			URL:        "http://example.com",
			StatusCode: 200 + i,
			StatusText: "OK",
		})
		if err != nil {
			t.Fatalf("failed to add entry %d: %v", i, err)
		}
	}

	entries, err := sink.Recent(3)
	if err != nil {
		t.Fatalf("failed to load entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].StatusCode != 204 {
		t.Errorf("expected newest entry first, got status %d", entries[0].StatusCode)
	}
}

func TestRecordAndListBatches(t *testing.T) {
	sink := newTestSink(t)

	start := time.Now().Add(-time.Minute)
	rec := &BatchRecord{
		ExecutionID:        "exec-1",
		StartedAt:          start,
		CompletedAt:        start.Add(30 * time.Second),
		Status:             "completed",
		ThreadCount:        10,
		TotalRequests:      1000,
		CompletedRequests:  1000,
		SuccessfulRequests: 990,
		FailedRequests:     10,
		AvgDurationMs:      12.5,
		MinDurationMs:      2,
		MaxDurationMs:      150,
		Method:             "GET",
		URL:                "http://example.com",
	}
	if err := sink.RecordBatch(rec); err != nil {
		t.Fatalf("failed to record batch: %v", err)
	}

	records, err := sink.ListBatches(10)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 batch record, got %d", len(records))
	}

	got := records[0]
	if got.ExecutionID != "exec-1" || got.Status != "completed" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.SuccessfulRequests != 990 || got.FailedRequests != 10 {
		t.Errorf("unexpected counters: %d/%d", got.SuccessfulRequests, got.FailedRequests)
	}
	if got.AvgDurationMs != 12.5 {
		t.Errorf("expected avg 12.5, got %f", got.AvgDurationMs)
	}
}

func TestClear(t *testing.T) {
	sink := newTestSink(t)

	if err := sink.AddEntry(&Entry{Timestamp: time.Now(), Method: "GET", URL: "http://example.com", StatusCode: 200, StatusText: "OK"}); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	if err := sink.RecordBatch(&BatchRecord{ExecutionID: "exec-1", StartedAt: time.Now(), CompletedAt: time.Now(), Status: "completed", Method: "GET", URL: "http://example.com"}); err != nil {
		t.Fatalf("failed to record batch: %v", err)
	}

	if err := sink.Clear(); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}

	entries, err := sink.Recent(10)
	if err != nil {
		t.Fatalf("failed to load entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries after clear, got %d", len(entries))
	}
	records, err := sink.ListBatches(10)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no batch records after clear, got %d", len(records))
	}
}

func TestNopSink(t *testing.T) {
	var sink NopSink
	if err := sink.AddEntry(&Entry{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := sink.RecordBatch(&BatchRecord{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
