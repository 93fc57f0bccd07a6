package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are connection-level headers that must not cross the proxy
// boundary in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from inbound requests and marks responses as non-sniffable. The proxy
// resolves the definitive Content-Type itself (including the MIME-mismatch
// correction), so browsers must not second-guess it.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Set before the handler runs: streamed responses commit their
			// headers inside the handler.
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")

			return next(c)
		}
	}
}
