// Package upstream performs the proxy's network requests and classifies
// their failures.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_upstream_requests_total",
		Help: "Total upstream requests by method and status",
	}, []string{"method", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_proxy_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Fetcher issues a request to the network.
// A non-nil error means no response was received.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(req *http.Request) (*http.Response, error)

// Do calls f(req).
func (f FetcherFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Observer is told about every completed upstream attempt.
// err is nil when a response (of any status) was received.
type Observer interface {
	Observe(err error)
}

// Client is the network side of the proxy.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Timeout bounds a single request; a timeout counts as a network failure
	Timeout time.Duration

	// Transport is the underlying round tripper (default http.DefaultTransport)
	Transport http.RoundTripper

	Logger zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			// the proxy hands redirects back to the caller untouched
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Do performs the request. Transport failures and timeouts are returned as
// *Error with ErrorClassNetwork; any received response is returned as-is,
// whatever its status.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
	outReq := req.Clone(ctx)
	outReq.RequestURI = ""

	resp, err := c.httpClient.Do(outReq)
	if err != nil {
		cancel()
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(req.Method, "network_error").Inc()
		c.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Upstream request failed")
		ue := &Error{
			ErrorClass: ErrorClassNetwork,
			Message:    "network unavailable",
			Err:        err,
		}
		return nil, ue
	}

	// the timeout context must live as long as the body is being read
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	upstreamRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	if class := ClassifyStatus(resp.StatusCode); class != "" {
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
	}
	return resp, nil
}

// ClassifyStatus returns the error class of a response status, or "" when
// the status is not an error.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// DoWithRetry performs req and retries network and server failures with
// backoff. The request body must be replayable (GetBody set) when it has one.
// A 5xx that survives all attempts is returned as an *Error.
func DoWithRetry(ctx context.Context, f Fetcher, req *http.Request, cfg RetryConfig) (*http.Response, error) {
	var resp *http.Response

	err := retryWithBackoff(ctx, cfg, func() (ErrorClass, error) {
		attempt := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return ErrorClassClient, fmt.Errorf("rewind request body: %w", err)
			}
			attempt.Body = body
		}

		r, err := f.Do(attempt)
		if err != nil {
			return ErrorClassNetwork, err
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return ErrorClassServer, &Error{
				StatusCode: r.StatusCode,
				ErrorClass: ErrorClassServer,
				Message:    r.Status,
			}
		}
		resp = r
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
