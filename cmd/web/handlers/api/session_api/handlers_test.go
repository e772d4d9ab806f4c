package session_api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"thirdcoast.systems/retro/cmd/web/auth"
	"thirdcoast.systems/retro/internal/retro"
)

type fixture struct {
	e       *echo.Echo
	hub     *retro.Hub
	cookies *auth.HostCookieManager
}

func newFixture(t *testing.T, opts retro.Options) *fixture {
	t.Helper()
	f := &fixture{
		e:       echo.New(),
		hub:     retro.NewHub(opts),
		cookies: auth.NewHostCookieManager("test-secret"),
	}
	f.e.POST("/api/session", HandleCreateSession(f.hub, f.cookies, 4))
	f.e.GET("/api/session/:code/state", HandleSessionState(f.hub))
	f.e.POST("/api/session/:code/event", HandleSubmitEvent(f.hub, f.cookies))
	f.e.GET("/api/session/:code/events", HandleStream(f.hub, 20*time.Millisecond))
	return f
}

func (f *fixture) do(method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	f.e.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) create(t *testing.T, body string) (retro.Created, *http.Cookie) {
	t.Helper()
	rr := f.do(http.MethodPost, "/api/session", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created retro.Created
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	var host *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.HostCookieName {
			host = c
		}
	}
	require.NotNil(t, host)
	return created, host
}

func (f *fixture) state(t *testing.T, code string) retro.ClientView {
	t.Helper()
	rr := f.do(http.MethodGet, "/api/session/"+code+"/state", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var view retro.ClientView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	return view
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, retro.Options{})

	created, _ := f.create(t, "")
	require.True(t, retro.ValidCode(created.Code))
	require.NotEmpty(t, created.HostSecret)
	require.Equal(t, 4, created.VoteLimit)

	created, _ = f.create(t, `{"voteLimit":3}`)
	require.Equal(t, 3, created.VoteLimit)

	created, _ = f.create(t, `{"voteLimit":-2}`)
	require.Equal(t, 4, created.VoteLimit)

	rr := f.do(http.MethodPost, "/api/session", `{"voteLimit":"many"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSessionState(t *testing.T) {
	f := newFixture(t, retro.Options{})
	created, _ := f.create(t, "")

	view := f.state(t, strings.ToLower(created.Code))
	require.Equal(t, created.Code, view.Code)
	require.Equal(t, retro.StageAddNotes, view.Stage)
	require.Len(t, view.Sections, 3)

	rr := f.do(http.MethodGet, "/api/session/"+created.Code+"/state", "")
	require.NotContains(t, rr.Body.String(), created.HostSecret)

	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/session/ZZZZZZ/state", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/session/nope/state", "").Code)
}

func TestSubmitEvent_RejectsMalformed(t *testing.T) {
	f := newFixture(t, retro.Options{})
	created, _ := f.create(t, "")
	target := "/api/session/" + created.Code + "/event"

	cases := map[string]string{
		"array":          `[{"type":"join"}]`,
		"string":         `"join"`,
		"empty":          ``,
		"broken json":    `{"type":`,
		"unknown type":   `{"type":"explode"}`,
		"missing type":   `{"id":"n1"}`,
		"wrong field":    `{"type":"start-timer","durationSec":"soon"}`,
		"no participant": `{"type":"join"}`,
		"no note text":   `{"type":"add-note","id":"n1","sectionId":"s1","createdBy":"p1"}`,
		"markup only":    `{"type":"add-note","id":"n1","sectionId":"s1","createdBy":"p1","text":"<b></b>"}`,
		"bad stage":      `{"type":"set-stage","stage":"done"}`,
		"zero timer":     `{"type":"start-timer","durationSec":0}`,
		"no action":      `{"type":"add-action-item","groupId":"g1"}`,
		"no vote target": `{"type":"cast-vote","participantId":"p1"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := f.do(http.MethodPost, target, body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}

	require.Empty(t, f.state(t, created.Code).Notes)
}

func TestSubmitEvent_UnknownSession(t *testing.T) {
	f := newFixture(t, retro.Options{})
	rr := f.do(http.MethodPost, "/api/session/ZZZZZZ/event", `{"type":"join","participant":{"id":"p1","name":"Ana"}}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubmitEvent_AppliesAndSanitizes(t *testing.T) {
	f := newFixture(t, retro.Options{})
	created, _ := f.create(t, "")
	target := "/api/session/" + created.Code + "/event"
	section := f.state(t, created.Code).Sections[0].ID

	rr := f.do(http.MethodPost, target, `{"type":"join","participant":{"id":"p1","name":"  Ana <i>B</i> "}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"ok":true}`, rr.Body.String())

	rr = f.do(http.MethodPost, target, `{"type":"add-note","id":"n1","sectionId":"`+section+`","createdBy":"p1","text":"ship <script>x()</script>faster","at":1}`)
	require.Equal(t, http.StatusOK, rr.Code)

	view := f.state(t, created.Code)
	require.Equal(t, "Ana B", view.Participants["p1"].Name)
	require.Equal(t, "ship faster", view.Notes["n1"].Text)
	require.Greater(t, view.Notes["n1"].CreatedAt, int64(1))
}

func TestSubmitEvent_HostSecret(t *testing.T) {
	f := newFixture(t, retro.Options{})
	created, hostCookie := f.create(t, "")
	target := "/api/session/" + created.Code + "/event"

	// Wrong secret: accepted but ignored.
	rr := f.do(http.MethodPost, target, `{"type":"set-stage","stage":"voting","hostSecret":"guess"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, retro.StageAddNotes, f.state(t, created.Code).Stage)

	// No secret and no cookie.
	rr = f.do(http.MethodPost, target, `{"type":"set-stage","stage":"voting"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, retro.StageAddNotes, f.state(t, created.Code).Stage)

	// Explicit secret.
	rr = f.do(http.MethodPost, target, `{"type":"set-stage","stage":"grouping","hostSecret":"`+created.HostSecret+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, retro.StageGrouping, f.state(t, created.Code).Stage)

	// Cookie fallback.
	rr = f.do(http.MethodPost, target, `{"type":"set-stage","stage":"voting"}`, hostCookie)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, retro.StageVoting, f.state(t, created.Code).Stage)

	// The cookie only covers the session it was issued for.
	other, _ := f.create(t, "")
	rr = f.do(http.MethodPost, "/api/session/"+other.Code+"/event", `{"type":"set-stage","stage":"voting"}`, hostCookie)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, retro.StageAddNotes, f.state(t, other.Code).Stage)
}

// readSignals collects datastar signal patches from an SSE body.
func readSignals(t *testing.T, resp *http.Response) <-chan retro.ClientView {
	t.Helper()
	out := make(chan retro.ClientView, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			i := strings.Index(line, "{")
			if i < 0 {
				continue
			}
			var payload struct {
				Retro retro.ClientView `json:"retro"`
			}
			if err := json.Unmarshal([]byte(line[i:]), &payload); err != nil {
				continue
			}
			out <- payload.Retro
		}
	}()
	return out
}

func nextView(t *testing.T, ch <-chan retro.ClientView) retro.ClientView {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream ended")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return retro.ClientView{}
	}
}

func openStream(t *testing.T, ctx context.Context, srv *httptest.Server, code string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/session/"+code+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestStream_SnapshotsAndKeepalive(t *testing.T) {
	f := newFixture(t, retro.Options{})
	srv := httptest.NewServer(f.e)
	defer srv.Close()
	created, _ := f.create(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv, created.Code)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get(echo.HeaderContentType), "text/event-stream")
	require.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	views := readSignals(t, resp)
	first := nextView(t, views)
	require.Equal(t, created.Code, first.Code)
	require.Empty(t, first.Participants)

	rr := f.do(http.MethodPost, "/api/session/"+created.Code+"/event", `{"type":"join","participant":{"id":"p1","name":"Ana"}}`)
	require.Equal(t, http.StatusOK, rr.Code)

	second := nextView(t, views)
	require.Contains(t, second.Participants, "p1")
	require.Equal(t, 1, f.hub.Viewers(created.Code))

	cancel()
	require.Eventually(t, func() bool { return f.hub.Viewers(created.Code) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_Keepalive(t *testing.T) {
	f := newFixture(t, retro.Options{})
	srv := httptest.NewServer(f.e)
	defer srv.Close()
	created, _ := f.create(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv, created.Code)
	defer resp.Body.Close()

	found := make(chan struct{})
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			if sc.Text() == ": keepalive" {
				close(found)
				return
			}
		}
	}()
	select {
	case <-found:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive comment")
	}
}

func TestStream_Errors(t *testing.T) {
	f := newFixture(t, retro.Options{MaxSubscribers: 1})
	srv := httptest.NewServer(f.e)
	defer srv.Close()
	created, _ := f.create(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	missing := openStream(t, ctx, srv, "ZZZZZZ")
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)

	first := openStream(t, ctx, srv, created.Code)
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)
	require.Eventually(t, func() bool { return f.hub.Viewers(created.Code) == 1 }, 2*time.Second, 10*time.Millisecond)

	second := openStream(t, ctx, srv, created.Code)
	second.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}
