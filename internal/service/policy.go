package service

import (
	"net/http"
	"net/url"
	"strings"

	"asset-proxy-go/internal/model"
)

// browserUserAgent masks the proxy behind a current desktop browser identity.
// Asset fetches always use it; explicit fetches only fall back to it when the
// caller sent no User-Agent of its own.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// baseStripHeaders are never forwarded upstream in either mode: hop-by-hop
// headers, forwarding-chain headers that would reveal the proxy, app-identity
// headers, and accept-encoding (recomputed by the transport).
var baseStripHeaders = []string{
	"Host",
	"Connection",
	"Accept-Encoding",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Forwarded-Ssl",
	"Via",
	"Forwarded",
	"Cf-Connecting-Ip",
	"True-Client-Ip",
	"X-Real-Ip",
	"X-Cluster-Client-Ip",
	"X-App-Name",
	"X-App-Version",
}

// assetStripHeaders are additionally stripped for asset fetches. Conditional
// request headers would let the upstream answer 304 with an empty body, which
// the caller cannot use.
var assetStripHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
}

// acceptRule maps a path substring to the Accept header sent upstream when
// the caller supplied none. Ordered; first match wins.
type acceptRule struct {
	match  string
	accept string
}

var acceptRules = []acceptRule{
	{".js", "application/javascript, */*;q=0.8"},
	{".mjs", "application/javascript, */*;q=0.8"},
	{".css", "text/css, */*;q=0.8"},
	{".wasm", "application/wasm, application/x-wasm, */*;q=0.8"},
	{".pk3", "application/octet-stream, */*;q=0.8"},
	{".", "image/*, audio/*, video/*, application/json, text/*, */*;q=0.8"},
}

// acceptForPath derives an Accept header value from the asset path's
// extension. Substring match, case-insensitive; extensionless paths get a
// wildcard.
func acceptForPath(path string) string {
	lower := strings.ToLower(path)
	for _, r := range acceptRules {
		if strings.Contains(lower, r.match) {
			return r.accept
		}
	}
	return "*/*"
}

// mimeRule overrides a known-unreliable upstream content type for a given
// asset extension. Misconfigured origins (SPA fallback pages) answer
// text/html for script and binary assets, which breaks the caller's parsing.
type mimeRule struct {
	match     string
	upstream  string
	corrected string
}

var mimeRules = []mimeRule{
	{".js", "text/html", "application/javascript"},
	{".wasm", "text/html", "application/wasm"},
	{".pk3", "text/html", "application/octet-stream"},
}

// correctContentType applies the MIME-mismatch table to an asset response.
// Anything the table does not name passes through unchanged.
func correctContentType(path, contentType string) string {
	lowerPath := strings.ToLower(path)
	lowerType := strings.ToLower(contentType)
	for _, r := range mimeRules {
		if strings.Contains(lowerPath, r.match) && strings.Contains(lowerType, r.upstream) {
			return r.corrected
		}
	}
	return contentType
}

// acceptedStatus returns the upstream status predicate for a mode: 2xx in
// both, plus 404 for explicit targets (pass-through by design).
func acceptedStatus(asset bool) func(int) bool {
	return func(code int) bool {
		if code >= 200 && code < 300 {
			return true
		}
		return !asset && code == http.StatusNotFound
	}
}

// buildRequestHeaders filters the inbound headers through the stop-list and
// applies the identity-spoofing overrides for the target's mode.
func buildRequestHeaders(src http.Header, target *model.ProxyTarget, origin *url.URL) http.Header {
	strip := make(map[string]bool, len(baseStripHeaders)+len(assetStripHeaders))
	for _, k := range baseStripHeaders {
		strip[k] = true
	}
	if target.Asset {
		for _, k := range assetStripHeaders {
			strip[k] = true
		}
	}

	dst := make(http.Header, len(src))
	for key, vals := range src {
		if strip[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range vals {
			dst.Add(key, v)
		}
	}

	if target.Asset {
		root := originRoot(origin)
		dst.Set("User-Agent", browserUserAgent)
		dst.Set("Referer", root)
		dst.Set("Origin", strings.TrimSuffix(root, "/"))
		if dst.Get("Accept") == "" {
			dst.Set("Accept", acceptForPath(target.Path))
		}
		return dst
	}

	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", browserUserAgent)
	}
	if dst.Get("Referer") == "" {
		if ref := refererForTarget(target.URL); ref != "" {
			dst.Set("Referer", ref)
		}
	}
	return dst
}

// rewriteResponseHeaders copies the upstream response headers, suppressing
// set-cookie, and resolves the caller-visible Content-Type.
func rewriteResponseHeaders(src http.Header, target *model.ProxyTarget) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if http.CanonicalHeaderKey(key) == "Set-Cookie" {
			continue
		}
		for _, v := range vals {
			dst.Add(key, v)
		}
	}

	contentType := src.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if target.Asset {
		contentType = correctContentType(target.Path, contentType)
	}
	dst.Set("Content-Type", contentType)

	return dst
}

// originRoot returns scheme://host/ for the configured asset origin.
func originRoot(origin *url.URL) string {
	return origin.Scheme + "://" + origin.Host + "/"
}

// refererForTarget derives a Referer for explicit targets whose caller sent
// none: the scheme and host of the target with a trailing slash. Unparseable
// or host-less targets yield no Referer at all (the fetch will fail on its
// own terms).
func refererForTarget(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
