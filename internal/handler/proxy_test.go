package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"asset-proxy-go/internal/client"
	"asset-proxy-go/internal/config"
	"asset-proxy-go/internal/service"
)

func newTestHandler(t *testing.T, origin string) *ProxyHandler {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			Origin:          origin,
			TimeoutSeconds:  10,
			IdleConnections: 10,
			MaxRedirects:    5,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := client.NewUpstreamClient(cfg, logger, nil)
	svc, err := service.NewProxyService(uc, cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return NewProxyHandler(svc, logger)
}

func TestHandleExplicit_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>hi</html>"))
	}))
	defer upstream.Close()

	h := newTestHandler(t, "https://assets.example.com")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+upstream.URL, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleExplicit(c); err != nil {
		t.Fatalf("HandleExplicit() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html" {
		t.Errorf("Content-Type = %q, want %q", got, "text/html")
	}
	if rec.Body.String() != "<html>hi</html>" {
		t.Errorf("body = %q, want verbatim upstream body", rec.Body.String())
	}
}

func TestHandleExplicit_MissingURL(t *testing.T) {
	h := newTestHandler(t, "https://assets.example.com")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleExplicit(c); err != nil {
		t.Fatalf("HandleExplicit() error = %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if rec.Body.String() != missingURLMessage {
		t.Errorf("body = %q, want %q", rec.Body.String(), missingURLMessage)
	}
}

func TestHandleAsset_MimeCorrection(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ftewebgl.js" {
			t.Errorf("upstream path = %q, want /ftewebgl.js", r.URL.Path)
		}
		// Misconfigured origin: SPA fallback page for a script asset.
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>404</html>"))
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ftewebgl.js", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleAsset(c); err != nil {
		t.Fatalf("HandleAsset() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/javascript" {
		t.Errorf("Content-Type = %q, want application/javascript", got)
	}
	if rec.Body.String() != "<html>404</html>" {
		t.Errorf("body = %q, want bytes unchanged", rec.Body.String())
	}
}

func TestHandleAsset_SpoofedIdentityAndStripping(t *testing.T) {
	var gotHeader http.Header
	var gotCookie string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Set-Cookie", "upstream-session=xyz")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte{0x00, 0x01, 0x02})
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/data/pak0.pk3", http.NoBody)
	req.Header.Set("User-Agent", "curl/8.0")
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("Via", "1.1 relay")
	req.Header.Set("Cookie", "theme=dark")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleAsset(c); err != nil {
		t.Fatalf("HandleAsset() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if ua := gotHeader.Get("User-Agent"); ua == "curl/8.0" || ua == "" {
		t.Errorf("upstream User-Agent = %q, want spoofed browser identity", ua)
	}
	for _, name := range []string{"X-Forwarded-For", "Via"} {
		if got := gotHeader.Get(name); got != "" {
			t.Errorf("upstream %s = %q, want stripped", name, got)
		}
	}
	if gotCookie != "theme=dark" {
		t.Errorf("upstream Cookie = %q, want forwarded", gotCookie)
	}
	if got := rec.Header().Get("Set-Cookie"); got != "" {
		t.Errorf("response Set-Cookie = %q, want suppressed", got)
	}
}

func TestHandleAsset_UpstreamErrorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/missing.wasm", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleAsset(c); err != nil {
		t.Fatalf("HandleAsset() error = %v", err)
	}

	// Asset mode rejects non-2xx; the upstream status is echoed with a
	// short diagnostic instead of the upstream body.
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 echoed from upstream", rec.Code)
	}
	if rec.Body.String() == "not here\n" {
		t.Error("upstream body should not be relayed for rejected statuses")
	}
}

func TestHandleAsset_TransportFailure(t *testing.T) {
	// Unroutable port: connection refused, no upstream response at all.
	h := newTestHandler(t, "http://127.0.0.1:1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/game.js", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleAsset(c); err != nil {
		t.Fatalf("HandleAsset() error = %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected a diagnostic body for transport failure")
	}
}

func TestHandleAsset_LoopGuard(t *testing.T) {
	h := newTestHandler(t, "https://assets.example.com")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/%70roxy", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleAsset(c); err != nil {
		t.Fatalf("HandleAsset() error = %v", err)
	}

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for path decoding to the proxy route", rec.Code)
	}
}

func TestHandleExplicit_Idempotent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"n":1}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, "https://assets.example.com")
	e := echo.New()

	var codes [2]int
	var types [2]string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/proxy?url="+upstream.URL, http.NoBody)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := h.HandleExplicit(c); err != nil {
			t.Fatalf("HandleExplicit() error = %v", err)
		}
		codes[i] = rec.Code
		types[i] = rec.Header().Get("Content-Type")
	}

	if codes[0] != codes[1] || types[0] != types[1] {
		t.Errorf("repeated requests diverged: codes %v, types %v", codes, types)
	}
}
