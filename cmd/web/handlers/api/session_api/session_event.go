package session_api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"thirdcoast.systems/retro/cmd/web/auth"
	"thirdcoast.systems/retro/cmd/web/handlers/common"
	"thirdcoast.systems/retro/internal/retro"
)

// HandleSubmitEvent decodes, validates and applies one event. Host-gated
// events without a secret fall back to the one in the host cookie.
// Unauthorized host events still answer ok.
func HandleSubmitEvent(hub *retro.Hub, cookies *auth.HostCookieManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		code, err := common.RequireSessionCode(c)
		if err != nil {
			return err
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return common.ErrBadRequest("could not read body")
		}
		body = bytes.TrimSpace(body)
		if len(body) == 0 || body[0] != '{' {
			return common.ErrBadRequest("event must be a json object")
		}

		var evt retro.Event
		if err := json.Unmarshal(body, &evt); err != nil {
			return common.ErrBadRequest("invalid json")
		}
		if !evt.Type.Known() {
			return common.ErrBadRequest("unknown event type")
		}
		// At is stamped by the hub; clients cannot backdate events.
		evt.At = 0

		cleanEvent(&evt)
		if err := validate.Struct(evt); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return common.ErrBadRequest("invalid " + verrs[0].Field())
			}
			return common.ErrBadRequest("invalid event")
		}

		if evt.Type.HostOnly() && evt.HostSecret == "" {
			evt.HostSecret = cookies.HostSecret(c.Request(), code)
		}

		err = hub.Submit(c.Request().Context(), code, evt)
		switch {
		case errors.Is(err, retro.ErrSessionNotFound):
			return common.ErrNotFound("session not found")
		case errors.Is(err, retro.ErrUnknownEvent):
			return common.ErrBadRequest("unknown event type")
		case err != nil:
			slog.Error("failed to apply event", "code", code, "type", evt.Type, "error", err)
			return err
		}
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}
