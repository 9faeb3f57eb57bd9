package executor

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/surge/internal/history"
	"github.com/studiowebux/surge/internal/metrics"
	"github.com/studiowebux/surge/internal/registry"
	"github.com/studiowebux/surge/internal/transport"
	"github.com/studiowebux/surge/internal/types"
)

var formBodyPattern = regexp.MustCompile(`^[^=&\s]+=[^=&]*(&[^=&\s]+=[^=&]*)*$`)

// Executor runs single HTTP requests against the shared transport,
// converting transport failures into synthetic responses. Only
// cancellation and pre-flight validation surface as errors.
type Executor struct {
	transport      transport.Client
	registry       *registry.Registry
	history        history.Sink
	metrics        *metrics.Metrics
	log            *zap.Logger
	defaultTimeout time.Duration
}

// New wires an executor. history and metrics may be shared with the
// batch runner.
func New(client transport.Client, reg *registry.Registry, sink history.Sink, m *metrics.Metrics, log *zap.Logger, defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &Executor{
		transport:      client,
		registry:       reg,
		history:        sink,
		metrics:        m,
		log:            log,
		defaultTimeout: defaultTimeout,
	}
}

// Execute runs one request on the single-request path: the in-flight
// call is registered under id for cancellation, and a history record
// is appended unconditionally (success or synthetic failure).
func (e *Executor) Execute(ctx context.Context, id string, cfg *types.RequestConfig) (*types.HttpResponse, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(cfg))
	defer cancel()

	if id != "" {
		e.registry.RegisterCall(id, cancel)
		defer e.registry.UnregisterCall(id)
	}

	resp, err := e.send(reqCtx, cfg)
	if err != nil {
		return nil, err
	}

	e.appendHistory(cfg, resp)
	return resp, nil
}

// Do runs one request on the batch path, skipping registry
// registration and history. Workers cancel through the batch context,
// and batches record only their aggregate.
func (e *Executor) Do(ctx context.Context, cfg *types.RequestConfig) (*types.HttpResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(cfg))
	defer cancel()
	return e.send(reqCtx, cfg)
}

func (e *Executor) timeoutFor(cfg *types.RequestConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return e.defaultTimeout
}

// send performs the wire call and converts failures. The returned
// error is non-nil only for cancellation.
func (e *Executor) send(ctx context.Context, cfg *types.RequestConfig) (*types.HttpResponse, error) {
	method := strings.ToUpper(cfg.Method)
	target := buildURL(cfg)
	body := requestBody(method, cfg)
	headers := buildHeaders(cfg, body)

	start := time.Now()
	raw, err := e.transport.Do(ctx, &transport.Request{
		Method:  method,
		URL:     target,
		Headers: headers,
		Body:    body,
	})
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		// Cancellation propagates; a deadline on the request context
		// is a timeout, not a cancellation.
		if ctx.Err() == context.Canceled {
			return nil, context.Canceled
		}

		status := syntheticStatus(ctx, err)
		resp := types.NewSyntheticFailure(cfg, status, err.Error(), durationMs)

		e.log.Debug("transport failure converted to synthetic response",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("syntheticStatus", status),
			zap.Error(err))
		e.observe(resp, durationMs)
		return resp, nil
	}

	resp := &types.HttpResponse{
		StatusCode:     raw.StatusCode,
		StatusText:     raw.StatusText,
		Headers:        raw.Headers,
		Body:           string(raw.Body),
		ResponseTimeMs: durationMs,
		Timestamp:      time.Now(),
		RequestURL:     target,
		RequestMethod:  method,
	}
	e.observe(resp, durationMs)
	return resp, nil
}

func (e *Executor) observe(resp *types.HttpResponse, durationMs int64) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveRequest(!resp.IsSynthetic(), time.Duration(durationMs)*time.Millisecond)
	if resp.IsSynthetic() {
		e.metrics.ObserveError(string(ClassifyResponse(resp)))
	}
}

// appendHistory is fire-and-forget: sink failures are logged and
// never fail the request.
func (e *Executor) appendHistory(cfg *types.RequestConfig, resp *types.HttpResponse) {
	entry := &history.Entry{
		Timestamp:       resp.Timestamp,
		Method:          resp.RequestMethod,
		URL:             resp.RequestURL,
		RequestHeaders:  cfg.Headers,
		RequestBody:     cfg.Body,
		StatusCode:      resp.StatusCode,
		StatusText:      resp.StatusText,
		ResponseHeaders: resp.Headers,
		ResponseBody:    resp.Body,
		DurationMs:      resp.ResponseTimeMs,
		Error:           resp.Error,
	}
	if err := e.history.AddEntry(entry); err != nil {
		e.log.Warn("failed to append history entry",
			zap.String("url", resp.RequestURL),
			zap.Error(err))
	}
}

// syntheticStatus maps a transport error to the synthetic status code
// family: 408 for timeout-like errors, 503 for connection/host
// errors, 0 otherwise.
func syntheticStatus(ctx context.Context, err error) int {
	switch ClassifyTransportError(err) {
	case types.ErrorTimeout:
		return types.StatusSyntheticTimeout
	case types.ErrorNetwork:
		return types.StatusSyntheticRefused
	}
	if ctx.Err() == context.DeadlineExceeded {
		return types.StatusSyntheticTimeout
	}
	return types.StatusTransportFailure
}

// requestBody applies method semantics: GET/HEAD never carry a body,
// POST/PUT/PATCH default to an empty one, DELETE sends a body only
// when supplied.
func requestBody(method string, cfg *types.RequestConfig) []byte {
	switch method {
	case "GET", "HEAD":
		return nil
	case "POST", "PUT", "PATCH":
		return []byte(cfg.Body)
	case "DELETE":
		if cfg.Body == "" {
			return nil
		}
		return []byte(cfg.Body)
	default:
		return []byte(cfg.Body)
	}
}

// buildHeaders copies the configured headers and synthesizes a
// Content-Type from the body shape when none was given explicitly.
func buildHeaders(cfg *types.RequestConfig, body []byte) map[string]string {
	headers := make(map[string]string, len(cfg.Headers)+1)
	hasContentType := false
	for key, value := range cfg.Headers {
		headers[key] = value
		if strings.EqualFold(key, "Content-Type") {
			hasContentType = true
		}
	}

	if !hasContentType && len(body) > 0 {
		headers["Content-Type"] = sniffContentType(string(body))
	}
	return headers
}

// sniffContentType guesses the media type from the body's leading
// characters.
func sniffContentType(body string) string {
	trimmed := strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return "application/json"
	case strings.HasPrefix(trimmed, "<"):
		return "application/xml"
	case formBodyPattern.MatchString(trimmed):
		return "application/x-www-form-urlencoded"
	default:
		return "text/plain"
	}
}

// buildURL appends the configured query parameters to the request
// URL, preserving any already present.
func buildURL(cfg *types.RequestConfig) string {
	if len(cfg.QueryParams) == 0 {
		return cfg.URL
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return cfg.URL
	}
	query := u.Query()
	for key, value := range cfg.QueryParams {
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}
