package common

import (
	"github.com/labstack/echo/v4"
	"thirdcoast.systems/retro/internal/retro"
)

// RequireSessionCode extracts the :code route parameter, upper-cased, or
// returns a 400 error if it cannot be a session code.
func RequireSessionCode(c echo.Context) (string, error) {
	code := retro.NormalizeCode(c.Param("code"))
	if !retro.ValidCode(code) {
		return "", ErrBadRequest("invalid session code")
	}
	return code, nil
}
