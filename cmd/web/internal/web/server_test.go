package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/retro/cmd/web/auth"
	"thirdcoast.systems/retro/internal/pubsub"
	"thirdcoast.systems/retro/internal/retro"
)

func newTestServer(t *testing.T, hub *retro.Hub, opts Options) *httptest.Server {
	t.Helper()
	ws, err := NewWebserver(hub, auth.NewHostCookieManager("shared-secret"), opts)
	require.NoError(t, err)
	srv := httptest.NewServer(ws)
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t       *testing.T
	base    string
	cookies []*http.Cookie
}

func (c *client) do(method, path, body string) (int, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, strings.NewReader(body))
	require.NoError(c.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if cks := resp.Cookies(); len(cks) > 0 {
		c.cookies = cks
	}
	return resp.StatusCode, out
}

func (c *client) state(code string) retro.ClientView {
	c.t.Helper()
	status, body := c.do(http.MethodGet, "/api/session/"+code+"/state", "")
	require.Equal(c.t, http.StatusOK, status, string(body))
	var view retro.ClientView
	require.NoError(c.t, json.Unmarshal(body, &view))
	return view
}

func (c *client) event(code, body string) {
	c.t.Helper()
	status, out := c.do(http.MethodPost, "/api/session/"+code+"/event", body)
	require.Equal(c.t, http.StatusOK, status, string(out))
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, retro.NewHub(retro.Options{}), Options{})
	c := &client{t: t, base: srv.URL}
	status, body := c.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", string(body))
}

func TestRetrospectiveFlow(t *testing.T) {
	srv := newTestServer(t, retro.NewHub(retro.Options{}), Options{DefaultVoteLimit: 3})
	host := &client{t: t, base: srv.URL}
	guest := &client{t: t, base: srv.URL}

	status, body := host.do(http.MethodPost, "/api/session", "")
	require.Equal(t, http.StatusCreated, status)
	var created retro.Created
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, 3, created.VoteLimit)
	code := created.Code

	view := guest.state(code)
	section := view.Sections[0].ID

	guest.event(code, `{"type":"join","participant":{"id":"p1","name":"Ana"}}`)
	guest.event(code, `{"type":"add-note","id":"n1","sectionId":"`+section+`","createdBy":"p1","text":"deploys were smooth"}`)
	guest.event(code, `{"type":"create-group","id":"g1","name":"Delivery"}`)
	guest.event(code, `{"type":"add-note-to-group","groupId":"g1","noteId":"n1"}`)

	// Host-only via the cookie set at creation; the guest has none.
	guest.event(code, `{"type":"set-stage","stage":"voting"}`)
	require.Equal(t, retro.StageAddNotes, guest.state(code).Stage)
	host.event(code, `{"type":"set-stage","stage":"voting"}`)
	require.Equal(t, retro.StageVoting, guest.state(code).Stage)

	for range 4 {
		guest.event(code, `{"type":"cast-vote","participantId":"p1","groupId":"g1"}`)
	}
	view = guest.state(code)
	require.Equal(t, 3, view.Votes["p1"]["g1"])
	require.Equal(t, 0, view.VotesRemaining("p1"))

	host.event(code, `{"type":"add-action-item","groupId":"g1","action":{"id":"a1","text":"keep canaries","owner":"Ana"}}`)
	guest.event(code, `{"type":"set-done","participantId":"p1","done":true}`)

	view = guest.state(code)
	require.Equal(t, []retro.ActionItem{{ID: "a1", Text: "keep canaries", Owner: "Ana"}}, view.Groups["g1"].ActionItems)
	require.True(t, view.Dones["p1"])
}

func TestTwoInstancesShareSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	broker := pubsub.NewMemory()
	t.Cleanup(func() {
		cancel()
		_ = broker.Close()
	})

	hubA := retro.NewHub(retro.Options{Broker: broker, ReconcileTimeout: 2 * time.Second})
	hubB := retro.NewHub(retro.Options{Broker: broker, ReconcileTimeout: 2 * time.Second})
	require.NoError(t, hubA.Start(ctx))
	require.NoError(t, hubB.Start(ctx))

	srvA := newTestServer(t, hubA, Options{})
	srvB := newTestServer(t, hubB, Options{})

	host := &client{t: t, base: srvA.URL}
	status, body := host.do(http.MethodPost, "/api/session", `{"voteLimit":2}`)
	require.Equal(t, http.StatusCreated, status)
	var created retro.Created
	require.NoError(t, json.Unmarshal(body, &created))

	// Same browser, routed to the other instance.
	hostOnB := &client{t: t, base: srvB.URL, cookies: host.cookies}
	viewB := hostOnB.state(created.Code)
	require.Equal(t, 2, viewB.VoteLimit)

	hostOnB.event(created.Code, `{"type":"set-stage","stage":"grouping"}`)
	require.Eventually(t, func() bool {
		return host.state(created.Code).Stage == retro.StageGrouping
	}, 2*time.Second, 10*time.Millisecond)

	guestOnA := &client{t: t, base: srvA.URL}
	guestOnA.event(created.Code, `{"type":"join","participant":{"id":"p9","name":"Bo"}}`)
	require.Eventually(t, func() bool {
		_, ok := hostOnB.state(created.Code).Participants["p9"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCORS(t *testing.T) {
	hub := retro.NewHub(retro.Options{})
	ws, err := NewWebserver(hub, auth.NewHostCookieManager("k"), Options{AllowedOrigins: "https://retro.example.com/"})
	require.NoError(t, err)

	preflight := func(host, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "http://"+host+"/api/session", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		rr := httptest.NewRecorder()
		ws.ServeHTTP(rr, req)
		return rr
	}

	rr := preflight("api.example.com", "https://retro.example.com")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "https://retro.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	rr = preflight("api.example.com", "https://evil.example.net")
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	rr = preflight("192.168.1.20:8080", "http://localhost:5173")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))

	rr = preflight("10.0.0.5", "https://attacker.example.net")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))

	// A configured origin keeps credentials on a private host too.
	rr = preflight("10.0.0.5", "https://retro.example.com")
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	// Errors keep their CORS headers so browsers can read them.
	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/api/session/ZZZZZZ/state", nil)
	req.Header.Set("Origin", "https://retro.example.com")
	rec := httptest.NewRecorder()
	ws.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "https://retro.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestIsLocalOrPrivateRequestHost(t *testing.T) {
	ws, err := NewWebserver(retro.NewHub(retro.Options{}), auth.NewHostCookieManager("k"), Options{})
	require.NoError(t, err)

	cases := map[string]bool{
		"localhost:8080":    true,
		"127.0.0.1":         true,
		"10.1.2.3:80":       true,
		"172.20.0.5":        true,
		"192.168.0.10":      true,
		"[::1]:8080":        true,
		"[fd00::1]:8080":    true,
		"retro.example.com": false,
		"8.8.8.8":           false,
		"172.32.0.1":        false,
	}
	for host, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
		req.Host = host
		c := ws.NewContext(req, httptest.NewRecorder())
		require.Equal(t, want, isLocalOrPrivateRequestHost(c), host)
	}
}
