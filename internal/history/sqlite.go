package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink persists history in a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at dbPath and ensures
// the schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &SQLiteSink{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		request_headers TEXT,
		request_body TEXT,
		status_code INTEGER NOT NULL,
		status_text TEXT NOT NULL,
		response_headers TEXT,
		response_body TEXT,
		duration_ms INTEGER NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_history_url ON history(url);

	CREATE TABLE IF NOT EXISTS batch_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		thread_count INTEGER NOT NULL,
		total_requests INTEGER NOT NULL,
		completed_requests INTEGER NOT NULL,
		successful_requests INTEGER NOT NULL,
		failed_requests INTEGER NOT NULL,
		avg_duration_ms REAL,
		min_duration_ms INTEGER,
		max_duration_ms INTEGER,
		method TEXT NOT NULL,
		url TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batch_runs_execution_id ON batch_runs(execution_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// AddEntry saves one completed single-request record.
func (s *SQLiteSink) AddEntry(entry *Entry) error {
	requestHeaders, err := json.Marshal(entry.RequestHeaders)
	if err != nil {
		return fmt.Errorf("failed to marshal request headers: %w", err)
	}
	responseHeaders, err := json.Marshal(entry.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("failed to marshal response headers: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO history (
			timestamp, method, url, request_headers, request_body,
			status_code, status_text, response_headers, response_body,
			duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Timestamp.UTC().Format(time.RFC3339),
		entry.Method,
		entry.URL,
		string(requestHeaders),
		entry.RequestBody,
		entry.StatusCode,
		entry.StatusText,
		string(responseHeaders),
		entry.ResponseBody,
		entry.DurationMs,
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save history entry: %w", err)
	}
	return nil
}

// RecordBatch saves the aggregate record of a completed batch.
func (s *SQLiteSink) RecordBatch(rec *BatchRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO batch_runs (
			execution_id, started_at, completed_at, status, thread_count,
			total_requests, completed_requests, successful_requests, failed_requests,
			avg_duration_ms, min_duration_ms, max_duration_ms, method, url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ExecutionID,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.CompletedAt.UTC().Format(time.RFC3339),
		rec.Status,
		rec.ThreadCount,
		rec.TotalRequests,
		rec.CompletedRequests,
		rec.SuccessfulRequests,
		rec.FailedRequests,
		rec.AvgDurationMs,
		rec.MinDurationMs,
		rec.MaxDurationMs,
		rec.Method,
		rec.URL,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch record: %w", err)
	}
	return nil
}

// Recent loads the most recent single-request entries, newest first.
func (s *SQLiteSink) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, method, url, request_headers, request_body,
		       status_code, status_text, response_headers, response_body,
		       duration_ms, COALESCE(error, '')
		FROM history
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var timestamp string
		var requestHeaders, responseHeaders string
		var requestBody, responseBody sql.NullString

		err := rows.Scan(
			&timestamp, &e.Method, &e.URL, &requestHeaders, &requestBody,
			&e.StatusCode, &e.StatusText, &responseHeaders, &responseBody,
			&e.DurationMs, &e.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		if parsed, err := time.Parse(time.RFC3339, timestamp); err == nil {
			e.Timestamp = parsed
		}
		e.RequestBody = requestBody.String
		e.ResponseBody = responseBody.String
		if err := json.Unmarshal([]byte(requestHeaders), &e.RequestHeaders); err != nil {
			e.RequestHeaders = nil
		}
		if err := json.Unmarshal([]byte(responseHeaders), &e.ResponseHeaders); err != nil {
			e.ResponseHeaders = nil
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ListBatches loads the most recent batch records, newest first.
func (s *SQLiteSink) ListBatches(limit int) ([]BatchRecord, error) {
	rows, err := s.db.Query(`
		SELECT execution_id, started_at, completed_at, status, thread_count,
		       total_requests, completed_requests, successful_requests, failed_requests,
		       COALESCE(avg_duration_ms, 0), COALESCE(min_duration_ms, 0),
		       COALESCE(max_duration_ms, 0), method, url
		FROM batch_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch runs: %w", err)
	}
	defer rows.Close()

	var records []BatchRecord
	for rows.Next() {
		var r BatchRecord
		var startedAt, completedAt string

		err := rows.Scan(
			&r.ExecutionID, &startedAt, &completedAt, &r.Status, &r.ThreadCount,
			&r.TotalRequests, &r.CompletedRequests, &r.SuccessfulRequests,
			&r.FailedRequests, &r.AvgDurationMs, &r.MinDurationMs,
			&r.MaxDurationMs, &r.Method, &r.URL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch record: %w", err)
		}

		if parsed, err := time.Parse(time.RFC3339, startedAt); err == nil {
			r.StartedAt = parsed
		}
		if parsed, err := time.Parse(time.RFC3339, completedAt); err == nil {
			r.CompletedAt = parsed
		}

		records = append(records, r)
	}

	return records, rows.Err()
}

// Clear removes all history entries and batch records.
func (s *SQLiteSink) Clear() error {
	if _, err := s.db.Exec("DELETE FROM history"); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM batch_runs"); err != nil {
		return fmt.Errorf("failed to clear batch runs: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
