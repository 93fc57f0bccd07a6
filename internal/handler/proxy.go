package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"asset-proxy-go/internal/client"
	"asset-proxy-go/internal/model"
	"asset-proxy-go/internal/service"
)

// missingURLMessage is the exact client-visible body for an explicit request
// without a target.
const missingURLMessage = `Error: Missing target URL. Please provide a URL in the "url" query parameter.`

// internalErrorMessage is the client-visible body for unexpected failures.
const internalErrorMessage = "An internal proxy server error occurred."

// ProxyHandler serves both proxy modes: explicit (?url=) and asset catch-all.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// HandleExplicit serves GET /proxy?url=<target>: fetch an arbitrary URL on
// behalf of the caller and stream it back.
func (h *ProxyHandler) HandleExplicit(c echo.Context) error {
	target, err := h.service.ExplicitTarget(c.Request().URL.Query())
	if err != nil {
		return h.mapError(c, err)
	}
	return h.forward(c, target)
}

// HandleAsset serves every other GET path: the percent-decoded path is
// resolved against the configured asset origin and fetched with
// browser-identity headers.
func (h *ProxyHandler) HandleAsset(c echo.Context) error {
	target, err := h.service.AssetTarget(c.Request().URL.EscapedPath())
	if err != nil {
		return h.mapError(c, err)
	}
	return h.forward(c, target)
}

// forward performs the upstream fetch for a resolved target and streams the
// response to the caller.
func (h *ProxyHandler) forward(c echo.Context, target *model.ProxyTarget) error {
	req := c.Request()

	resp, err := h.service.Fetch(req.Context(), req.Header, target)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Copy rewritten response headers.
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream (e.g. client disconnect, network error), the HTTP status
	// code has already been sent, so the client receives a truncated
	// response with the original status. This is an inherent trade-off of
	// streaming proxies — we log the error for observability.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"url", target.URL,
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"method", c.Request().Method,
		"url", c.Request().URL.String(),
	)

	if errors.Is(err, service.ErrMissingTargetURL) {
		return c.String(http.StatusBadRequest, missingURLMessage)
	}

	if errors.Is(err, service.ErrBadAssetPath) {
		return c.String(http.StatusNotFound, "Not found.")
	}

	// An upstream response arrived but its status fell outside the accepted
	// set for the mode: echo that status with a short diagnostic.
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) {
		return c.String(statusErr.Code, fmt.Sprintf("Upstream returned status %d.", statusErr.Code))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.String(http.StatusInternalServerError, "Upstream fetch failed: request timed out.")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.String(http.StatusInternalServerError, "Upstream fetch failed: host could not be resolved.")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.String(http.StatusInternalServerError, "Upstream fetch failed: connection error.")
	}

	return c.String(http.StatusInternalServerError, internalErrorMessage)
}
