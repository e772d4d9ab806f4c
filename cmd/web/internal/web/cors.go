package web

import (
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

func parseCommaSeparatedSet(raw string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		set[strings.TrimRight(v, "/")] = struct{}{}
	}
	return set
}

// corsMiddleware lets browser clients served from another origin call the
// API. Configured origins are allowed with credentials. While the server
// itself is reached on a local or private address any origin is allowed, but
// without credentials, so the host cookie never reaches an unlisted origin.
func (s *Webserver) corsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		origin := c.Request().Header.Get("Origin")
		allowedOrigin := ""
		credentials := false
		if origin != "" {
			if _, ok := s.allowedOrigins[origin]; ok {
				allowedOrigin = origin
				credentials = true
			} else if isLocalOrPrivateRequestHost(c) {
				allowedOrigin = origin
			}
		}

		if allowedOrigin != "" {
			h := c.Response().Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			if credentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Last-Event-ID")
			h.Set("Access-Control-Expose-Headers", "Content-Type")
		}

		// Handle preflight OPTIONS request
		if c.Request().Method == http.MethodOptions {
			if origin != "" && allowedOrigin == "" {
				return c.NoContent(http.StatusForbidden)
			}
			return c.NoContent(http.StatusNoContent)
		}

		err := next(c)

		// Error handling may reset headers.
		if allowedOrigin != "" && c.Response().Header().Get("Access-Control-Allow-Origin") == "" {
			c.Response().Header().Add("Vary", "Origin")
			c.Response().Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			if credentials {
				c.Response().Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}
		return err
	}
}

func isLocalOrPrivateRequestHost(c echo.Context) bool {
	hostHeader := strings.TrimSpace(c.Request().Header.Get("X-Forwarded-Host"))
	if hostHeader == "" {
		hostHeader = strings.TrimSpace(c.Request().Host)
	}
	if hostHeader == "" {
		return false
	}
	// If multiple forwarded hosts are provided, use the first.
	if idx := strings.Index(hostHeader, ","); idx >= 0 {
		hostHeader = strings.TrimSpace(hostHeader[:idx])
	}

	host := hostHeader
	if h, _, err := net.SplitHostPort(hostHeader); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(strings.TrimSpace(host), "[]"))

	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
