package session_api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/retro/cmd/web/auth"
	"thirdcoast.systems/retro/cmd/web/handlers/common"
	"thirdcoast.systems/retro/internal/retro"
)

type createSessionRequest struct {
	VoteLimit int `json:"voteLimit"`
}

// HandleCreateSession starts a session and remembers its host secret in the
// caller's host cookie. The body is optional.
func HandleCreateSession(hub *retro.Hub, cookies *auth.HostCookieManager, defaultVoteLimit int) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createSessionRequest
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return common.ErrBadRequest("invalid json")
		}
		if req.VoteLimit <= 0 {
			req.VoteLimit = defaultVoteLimit
		}

		created, err := hub.CreateSession(req.VoteLimit)
		if err != nil {
			slog.Error("failed to create session", "error", err)
			return common.ErrInternal("could not create session")
		}

		if err := cookies.Remember(c.Response().Writer, c.Request(), created.Code, created.HostSecret); err != nil {
			slog.Warn("failed to set host cookie", "code", created.Code, "error", err)
		}
		return c.JSON(http.StatusCreated, created)
	}
}
