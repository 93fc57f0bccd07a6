// Package client provides the outbound HTTP client used to fetch upstream content.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"asset-proxy-go/internal/config"
	"asset-proxy-go/internal/metrics"
	"asset-proxy-go/internal/model"
)

// StatusError reports an upstream response whose status code fell outside
// the accepted set for the request mode. The response body has already been
// closed by the time this error is returned.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// UpstreamClient fetches content from upstream origins.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling, timeouts
// and a bounded redirect count. The metrics parameter is optional; pass nil to
// disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxRedirects := cfg.Upstream.MaxRedirects

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Fetch issues a GET against the target and returns the streamed response.
// The caller is responsible for closing the response body.
//
// accepted decides which upstream status codes count as success; a received
// response outside that set is drained, closed and reported as a *StatusError.
// Receiving any response at all is otherwise a successful transport: 4xx/5xx
// inside the accepted set pass through untouched.
//
// The provided context controls the lifetime of the upstream request: when
// it is canceled (e.g. the caller disconnects mid-stream), the fetch is
// aborted too.
func (c *UpstreamClient) Fetch(ctx context.Context, target *model.ProxyTarget, header http.Header, accepted func(int) bool) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream fetch",
		"url", target.URL,
		"asset", target.Asset,
	)

	mode := metrics.ModeLabel(target.Asset)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(mode).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(mode).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(mode, status).Inc()
	}

	if accepted != nil && !accepted(resp.StatusCode) {
		// Drain so the pooled connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 32*1024))
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
