// Package rpc is the HTTP collaborator every fetch strategy talks through:
// plain REST GETs and JSON-RPC 2.0 calls against a caller-chosen endpoint.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/ingestor/internal/indexing/metrics"
)

var (
	// ErrTransport covers network failures, throttling and 5xx answers.
	// The caller should try another endpoint.
	ErrTransport = errors.New("upstream transport failure")

	// ErrRequest means the upstream answered but rejected the request.
	ErrRequest = errors.New("upstream rejected request")

	// ErrDecode means the upstream answered with something that is not JSON.
	ErrDecode = errors.New("upstream response not decodable")
)

// Client performs upstream calls. Endpoints are passed per call so the
// same client serves every task and its failover list.
type Client struct {
	httpClient *http.Client

	mu       sync.Mutex
	monitors map[string]*EndpointMonitor
}

// NewClient creates a client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		monitors: make(map[string]*EndpointMonitor),
	}
}

// Get fetches rawURL and decodes the JSON object it returns.
func (c *Client) Get(ctx context.Context, rawURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrRequest, err)
	}
	body, err := c.do(req, "GET")
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

// Post sends payload as JSON to rawURL and decodes the JSON object it returns.
func (c *Client) Post(ctx context.Context, rawURL string, payload any) (map[string]any, error) {
	body, err := c.post(ctx, rawURL, "POST", payload)
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

// Call makes a single JSON-RPC 2.0 call. A null result is returned as nil
// without error; callers decide whether that means "not there yet".
func (c *Client) Call(ctx context.Context, endpoint, method string, params ...any) (any, error) {
	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	body, err := c.post(ctx, endpoint, method, reqBody)
	if err != nil {
		return nil, err
	}

	var rpcResp struct {
		Result any            `json:"result"`
		Error  map[string]any `json:"error"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrDecode, err)
	}

	if rpcResp.Error != nil {
		errMsg := "unknown error"
		if msg, ok := rpcResp.Error["message"].(string); ok {
			errMsg = msg
		}
		host := hostOf(endpoint)
		if DetectThrottlePattern(errMsg) {
			if u, err := url.Parse(endpoint); err == nil {
				c.monitor(endpointKey(u)).RecordFailure(http.StatusTooManyRequests)
			}
			metrics.RPCErrorsTotal.WithLabelValues(host, "throttle").Inc()
			return nil, fmt.Errorf("%w: throttle in rpc error: %s", ErrTransport, errMsg)
		}
		metrics.RPCErrorsTotal.WithLabelValues(host, "rpc").Inc()
		return nil, fmt.Errorf("%w: rpc error: %s", ErrRequest, errMsg)
	}

	return rpcResp.Result, nil
}

// Stats returns monitoring statistics keyed by endpoint.
func (c *Client) Stats() map[string]MonitorStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]MonitorStats, len(c.monitors))
	for endpoint, m := range c.monitors {
		out[endpoint] = m.GetStats()
	}
	return out
}

func (c *Client) post(ctx context.Context, rawURL, method string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrRequest, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method)
}

func (c *Client) do(req *http.Request, method string) ([]byte, error) {
	endpoint := req.URL.String()
	host := req.URL.Host
	mon := c.monitor(endpointKey(req.URL))

	start := time.Now()
	metrics.RPCCallsTotal.WithLabelValues(host, method).Inc()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		mon.RecordFailure(0)
		metrics.RPCErrorsTotal.WithLabelValues(host, "network").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, endpoint, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	metrics.RPCLatency.WithLabelValues(host, method).Observe(latency.Seconds())

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		mon.RecordFailure(resp.StatusCode)
		metrics.RPCErrorsTotal.WithLabelValues(host, "throttle").Inc()
		return nil, fmt.Errorf("%w: rate limited (429), retry after: %s", ErrTransport, resp.Header.Get("Retry-After"))
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		mon.RecordFailure(resp.StatusCode)
		metrics.RPCErrorsTotal.WithLabelValues(host, "blocked").Inc()
		return nil, fmt.Errorf("%w: ip blocked (403)", ErrTransport)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		mon.RecordFailure(0)
		metrics.RPCErrorsTotal.WithLabelValues(host, "network").Inc()
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		mon.RecordFailure(resp.StatusCode)
		metrics.RPCErrorsTotal.WithLabelValues(host, "http_"+strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 500 || DetectThrottlePattern(string(body)) {
			return nil, fmt.Errorf("%w: http %d: %s", ErrTransport, resp.StatusCode, truncate(body))
		}
		return nil, fmt.Errorf("%w: http %d: %s", ErrRequest, resp.StatusCode, truncate(body))
	}

	mon.RecordSuccess(latency)
	return body, nil
}

func (c *Client) monitor(endpoint string) *EndpointMonitor {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.monitors[endpoint]
	if !ok {
		m = NewEndpointMonitor()
		c.monitors[endpoint] = m
	}
	return m
}

// JoinIndex appends an index as the last path segment of base.
func JoinIndex(base string, idx uint64) string {
	return strings.TrimRight(base, "/") + "/" + strconv.FormatUint(idx, 10)
}

func decodeObject(body []byte) (map[string]any, error) {
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// endpointKey groups REST calls like {base}/{idx} under their base so the
// monitor map does not grow with every index.
func endpointKey(u *url.URL) string {
	path := u.Path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		if _, err := strconv.ParseUint(path[i+1:], 10, 64); err == nil {
			path = path[:i]
		}
	}
	return u.Scheme + "://" + u.Host + path
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return u.Host
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
