package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/studiowebux/surge/internal/types"
)

const (
	tcpDialTimeout        = 5 * time.Second
	tcpKeepAliveInterval  = 30 * time.Second
	tlsHandshakeTimeout   = 5 * time.Second
	idleConnTimeout       = 90 * time.Second
	expectContinueTimeout = 1 * time.Second
)

// NetHTTPClient is the default Client backed by a pooled
// net/http transport. Redirects are followed, keep-alive and
// compression stay enabled.
type NetHTTPClient struct {
	client *http.Client
}

// NewNetHTTP builds a pooled client. maxIdle and maxPerHost bound the
// connection pool; tlsCfg may be nil.
func NewNetHTTP(maxIdle, maxPerHost int, tlsCfg *types.TLSConfig) (*NetHTTPClient, error) {
	transport := &http.Transport{
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdle,
		MaxConnsPerHost:     maxPerHost,
		IdleConnTimeout:     idleConnTimeout,
		DisableKeepAlives:   false,
		DisableCompression:  false,
		ForceAttemptHTTP2:   true,

		DialContext: (&net.Dialer{
			Timeout:   tcpDialTimeout,
			KeepAlive: tcpKeepAliveInterval,
		}).DialContext,

		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
	}

	if tlsCfg != nil {
		built, err := buildTLSConfig(tlsCfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = built
	}

	return &NetHTTPClient{
		client: &http.Client{Transport: transport},
	}, nil
}

// Do sends the request. The caller controls the deadline through ctx.
func (c *NetHTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		headers[key] = strings.Join(values, ", ")
	}

	return &Response{
		StatusCode: resp.StatusCode,
		StatusText: statusLine(resp.StatusCode),
		Headers:    headers,
		Body:       bodyBytes,
	}, nil
}

// Close releases idle pooled connections.
func (c *NetHTTPClient) Close() {
	c.client.CloseIdleConnections()
}
