package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/gob"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	HostCookieName = "retro_host"

	// hostSecretsKey maps session codes to host secrets.
	hostSecretsKey = "host_secrets"
	// maxRemembered bounds the cookie size; older sessions are forgotten first.
	maxRemembered = 16
	orderKey      = "host_order"
)

func init() {
	gob.Register(map[string]string{})
}

// HostCookieManager remembers the host secret of each session a browser
// created, so the host's own page can submit host-only events without
// echoing the secret back in every request body.
type HostCookieManager struct {
	store *sessions.CookieStore
}

func NewHostCookieManager(secret string) *HostCookieManager {
	if secret == "" {
		secret = generateSecret()
	}
	return &HostCookieManager{
		store: sessions.NewCookieStore([]byte(secret)),
	}
}

func generateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

// Remember stores secret as the host secret for code in the signed cookie.
func (m *HostCookieManager) Remember(w http.ResponseWriter, r *http.Request, code, secret string) error {
	session, _ := m.store.Get(r, HostCookieName)

	secrets := stringMap(session.Values[hostSecretsKey])
	order := stringSlice(session.Values[orderKey])
	if _, ok := secrets[code]; !ok {
		order = append(order, code)
	}
	secrets[code] = secret
	for len(order) > maxRemembered {
		delete(secrets, order[0])
		order = order[1:]
	}
	session.Values[hostSecretsKey] = secrets
	session.Values[orderKey] = order

	isHTTPS := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
	session.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400, // 1 day
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isHTTPS,
	}
	return session.Save(r, w)
}

// HostSecret returns the remembered host secret for code, or "".
func (m *HostCookieManager) HostSecret(r *http.Request, code string) string {
	if _, err := r.Cookie(HostCookieName); err != nil {
		return ""
	}
	session, err := m.store.Get(r, HostCookieName)
	if err != nil {
		slog.Warn("failed to decode host cookie", "error", err, "host", r.Host)
		return ""
	}
	return stringMap(session.Values[hostSecretsKey])[code]
}

func stringMap(v any) map[string]string {
	if m, ok := v.(map[string]string); ok && m != nil {
		return m
	}
	return map[string]string{}
}

func stringSlice(v any) []string {
	s, _ := v.([]string)
	return s
}
