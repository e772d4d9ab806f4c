package common

import "github.com/labstack/echo/v4"

// SetSSEHeaders disables proxy buffering for a viewer stream, so nginx passes
// each state patch through as soon as it is written. datastar.NewSSE sets the
// content type and cache headers itself.
func SetSSEHeaders(c echo.Context) {
	c.Response().Header().Set("X-Accel-Buffering", "no")
}
