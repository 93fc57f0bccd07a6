// Package service implements the core proxy pipeline: route classification,
// inbound header filtering, outbound fetch, and response header rewriting.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"asset-proxy-go/internal/client"
	"asset-proxy-go/internal/config"
	"asset-proxy-go/internal/model"
)

// ErrMissingTargetURL is returned when an explicit proxy request carries no
// target URL.
var ErrMissingTargetURL = errors.New("missing target URL in \"url\" query parameter")

// ErrBadAssetPath is returned when an asset path cannot be decoded, or when
// the decoded path turns out to be a misrouted proxy request (loop guard).
var ErrBadAssetPath = errors.New("asset path is malformed")

// proxyRoutePath is the explicit-mode route. Asset paths that decode to it
// are rejected rather than resolved against the origin.
const proxyRoutePath = "/proxy"

// ProxyService classifies inbound requests and forwards them upstream.
type ProxyService struct {
	client *client.UpstreamClient
	cfg    *config.Config
	logger *slog.Logger
	origin *url.URL
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse upstream origin: %w", err)
	}

	return &ProxyService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "proxy_service"),
		origin: u,
	}, nil
}

// ExplicitTarget resolves an explicit-mode request from its query parameters.
// The url parameter is taken verbatim: a malformed value is not rejected here,
// it surfaces later as a fetch failure.
func (s *ProxyService) ExplicitTarget(query url.Values) (*model.ProxyTarget, error) {
	raw := query.Get("url")
	if raw == "" {
		return nil, ErrMissingTargetURL
	}
	return &model.ProxyTarget{URL: raw}, nil
}

// AssetTarget resolves an asset-mode request from its raw (still escaped)
// request path. The path is percent-decoded, normalized to a single leading
// slash, and appended to the configured asset origin. A bare "/" is forwarded
// verbatim to the origin root.
func (s *ProxyService) AssetTarget(escapedPath string) (*model.ProxyTarget, error) {
	decoded, err := url.PathUnescape(escapedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAssetPath, err)
	}

	decoded = "/" + strings.TrimLeft(decoded, "/")

	// Loop guard: a decoded path that reads as the proxy route is a misrouted
	// explicit request, not an asset on the origin.
	if decoded == proxyRoutePath || strings.HasPrefix(decoded, proxyRoutePath+"?") {
		return nil, ErrBadAssetPath
	}

	base := strings.TrimSuffix(s.origin.String(), "/")
	return &model.ProxyTarget{
		URL:   base + decoded,
		Path:  decoded,
		Asset: true,
	}, nil
}

// Fetch builds the outbound header set for the target, performs the upstream
// fetch, and rewrites the response headers for the caller. The caller is
// responsible for closing the response body.
func (s *ProxyService) Fetch(ctx context.Context, inbound http.Header, target *model.ProxyTarget) (*model.ProxyResponse, error) {
	header := buildRequestHeaders(inbound, target, s.origin)

	s.logger.Debug("forwarding request",
		"url", target.URL,
		"asset", target.Asset,
	)

	resp, err := s.client.Fetch(ctx, target, header, acceptedStatus(target.Asset))
	if err != nil {
		return nil, fmt.Errorf("fetch upstream: %w", err)
	}

	resp.Header = rewriteResponseHeaders(resp.Header, target)
	return resp, nil
}
