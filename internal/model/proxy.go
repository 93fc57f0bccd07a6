// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
)

// ProxyTarget is the resolved destination of an inbound request.
// URL is always an absolute URL; Asset marks requests resolved against
// the configured asset origin (as opposed to an explicit ?url= target).
// Path holds the decoded asset path for asset-mode targets and is empty
// for explicit targets.
type ProxyTarget struct {
	URL   string
	Path  string
	Asset bool
}

// ProxyResponse represents the upstream response to be streamed back.
// The body is a single-pass stream; ownership transfers to whoever
// consumes it, and that consumer must close it.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
