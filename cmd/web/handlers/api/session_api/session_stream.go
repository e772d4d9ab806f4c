package session_api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/starfederation/datastar-go/datastar"
	"thirdcoast.systems/retro/cmd/web/handlers/common"
	"thirdcoast.systems/retro/internal/retro"
)

// HandleStream returns an SSE handler that pushes the session state to a
// viewer: once on connect, then after every applied event. Each snapshot is a
// datastar signal patch of the form {"retro": <state>}.
func HandleStream(hub *retro.Hub, keepAlive time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		code, err := common.RequireSessionCode(c)
		if err != nil {
			return err
		}

		ctx := c.Request().Context()
		snapshots, unsubscribe, err := hub.Subscribe(ctx, code)
		switch {
		case errors.Is(err, retro.ErrSessionNotFound):
			return common.ErrNotFound("session not found")
		case errors.Is(err, retro.ErrTooManySubscribers):
			return common.ErrTooManyRequests("too many open streams for session")
		case err != nil:
			return err
		}
		defer unsubscribe()

		resp := c.Response()
		flusher, ok := resp.Writer.(http.Flusher)
		if !ok {
			return common.ErrInternal("streaming unsupported")
		}

		common.SetSSEHeaders(c)

		sse := datastar.NewSSE(resp, c.Request())

		_, _ = fmt.Fprintf(resp, ": connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case state, ok := <-snapshots:
				if !ok {
					return nil
				}
				if err := sse.PatchSignals(retroSignals(state)); err != nil {
					slog.Debug("viewer stream closed", "code", code, "error", err)
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				_, _ = fmt.Fprintf(resp, ": keepalive\n\n")
				flusher.Flush()
			}
		}
	}
}

// retroSignals wraps an encoded state under the "retro" signal.
func retroSignals(state []byte) []byte {
	out := make([]byte, 0, len(state)+10)
	out = append(out, `{"retro":`...)
	out = append(out, state...)
	return append(out, '}')
}
