package web

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"thirdcoast.systems/retro/cmd/web/auth"
	"thirdcoast.systems/retro/cmd/web/handlers/api/session_api"
	"thirdcoast.systems/retro/internal/retro"
)

// Options tune the HTTP layer. Zero values fall back to defaults.
type Options struct {
	KeepAlive        time.Duration
	DefaultVoteLimit int
	AllowedOrigins   string
}

type Webserver struct {
	*echo.Echo
	hub            *retro.Hub
	hostCookies    *auth.HostCookieManager
	keepAlive      time.Duration
	voteLimit      int
	allowedOrigins map[string]struct{}
}

func NewWebserver(hub *retro.Hub, hostCookies *auth.HostCookieManager, opts Options) (*Webserver, error) {
	e := echo.New()

	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.DefaultVoteLimit <= 0 {
		opts.DefaultVoteLimit = retro.DefaultVoteLimit
	}

	webserver := &Webserver{
		Echo:           e,
		hub:            hub,
		hostCookies:    hostCookies,
		keepAlive:      opts.KeepAlive,
		voteLimit:      opts.DefaultVoteLimit,
		allowedOrigins: parseCommaSeparatedSet(opts.AllowedOrigins),
	}

	if len(webserver.allowedOrigins) == 0 {
		slog.Info("WEBSERVER_ALLOWED_ORIGINS not set; cross-origin requests will be allowed only on localhost/private IP")
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}

	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}

	return webserver, nil
}

// isStreamPath reports whether path is a long-lived SSE route.
func isStreamPath(path string) bool {
	return strings.HasSuffix(path, "/events")
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("64K"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return isStreamPath(c.Request().URL.Path)
		},
	}))
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return isStreamPath(c.Path()) || c.Path() == "/healthz"
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	return nil
}

func (s *Webserver) registerRoutes() error {
	apiGroup := s.Group("/api")
	apiGroup.Use(s.corsMiddleware)

	apiGroup.POST("/session", session_api.HandleCreateSession(s.hub, s.hostCookies, s.voteLimit))
	apiGroup.GET("/session/:code/state", session_api.HandleSessionState(s.hub))
	apiGroup.POST("/session/:code/event", session_api.HandleSubmitEvent(s.hub, s.hostCookies))
	apiGroup.GET("/session/:code/events", session_api.HandleStream(s.hub, s.keepAlive))

	// Preflight requests are answered by corsMiddleware.
	preflight := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	for _, path := range []string{"/session", "/session/:code/state", "/session/:code/event", "/session/:code/events"} {
		apiGroup.OPTIONS(path, preflight)
	}

	// Health check
	s.GET("/healthz", func(c echo.Context) error {
		return c.String(200, "ok")
	})

	return nil
}
