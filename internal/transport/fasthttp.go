package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/valyala/fasthttp"

	"github.com/studiowebux/surge/internal/types"
)

// FastHTTPClient is an alternative Client backed by fasthttp. It
// trades context-level abort granularity for lower per-request
// overhead; cancellation returns to the caller immediately while the
// in-flight call drains in the background.
type FastHTTPClient struct {
	client *fasthttp.Client
}

// NewFastHTTP builds a pooled fasthttp client; tlsCfg may be nil.
func NewFastHTTP(maxPerHost int, tlsCfg *types.TLSConfig) (*FastHTTPClient, error) {
	client := &fasthttp.Client{
		MaxConnsPerHost:     maxPerHost,
		MaxIdleConnDuration: idleConnTimeout,
		ReadTimeout:         0,
		WriteTimeout:        0,
	}

	if tlsCfg != nil {
		built, err := buildTLSConfig(tlsCfg)
		if err != nil {
			return nil, err
		}
		client.TLSConfig = built
	}

	return &FastHTTPClient{client: client}, nil
}

// Do sends the request, honoring the context deadline and
// cancellation. The pooled request/response objects are owned by the
// sending goroutine for their whole lifetime: when the caller abandons
// a cancelled call, release happens only after the in-flight call
// finishes, so the pool never hands the objects to another request
// while they are still being written.
func (c *FastHTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	type outcome struct {
		resp *Response
		err  error
	}

	done := make(chan outcome, 1)
	go func() {
		freq := fasthttp.AcquireRequest()
		fresp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(freq)
		defer fasthttp.ReleaseResponse(fresp)

		freq.Header.SetMethod(req.Method)
		freq.SetRequestURI(req.URL)
		for key, value := range req.Headers {
			freq.Header.Set(key, value)
		}
		if len(req.Body) > 0 {
			freq.SetBody(req.Body)
		}

		var err error
		if deadline, ok := ctx.Deadline(); ok {
			err = c.client.DoDeadline(freq, fresp, deadline)
		} else {
			err = c.client.Do(freq, fresp)
		}
		if err != nil {
			done <- outcome{err: err}
			return
		}

		headers := make(map[string]string)
		fresp.Header.VisitAll(func(key, value []byte) {
			headers[string(key)] = string(value)
		})

		status := fresp.StatusCode()
		done <- outcome{resp: &Response{
			StatusCode: status,
			StatusText: statusLine(status),
			Headers:    headers,
			Body:       append([]byte(nil), fresp.Body()...),
		}}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.resp, o.err
	}
}

// Close is a no-op; fasthttp manages its own idle connections.
func (c *FastHTTPClient) Close() {}

// IsFastHTTPTimeout reports whether err is fasthttp's timeout error.
func IsFastHTTPTimeout(err error) bool {
	return errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout)
}

func statusLine(status int) string {
	return http.StatusText(status)
}
