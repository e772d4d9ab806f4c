package session_api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/retro/cmd/web/handlers/common"
	"thirdcoast.systems/retro/internal/retro"
)

// HandleSessionState returns the client-safe state of a session.
func HandleSessionState(hub *retro.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		code, err := common.RequireSessionCode(c)
		if err != nil {
			return err
		}
		view, err := hub.State(c.Request().Context(), code)
		if errors.Is(err, retro.ErrSessionNotFound) {
			return common.ErrNotFound("session not found")
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, view)
	}
}
