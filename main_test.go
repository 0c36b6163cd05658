package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"vpnadm/backend/audit"
	"vpnadm/backend/auth"
	"vpnadm/backend/cert"
	"vpnadm/backend/session"
)

// stubPKI replaces the easyrsa adapter so handlers can be exercised without
// the external tool.
type stubPKI struct {
	certsDir string
}

func (s stubPKI) Issue(ctx context.Context, name string) (cert.IssueResult, error) {
	bundle := s.certsDir + "/" + name + ".ovpn"
	if err := os.WriteFile(bundle, []byte("client\nremote vpn.example.org 1194\n"), 0644); err != nil {
		return cert.IssueResult{}, err
	}
	return cert.IssueResult{BundlePath: bundle}, nil
}

func (s stubPKI) Revoke(ctx context.Context, name string) error { return nil }

func (s stubPKI) RegenerateCRL(ctx context.Context) (string, error) {
	path := s.certsDir + "/generated-crl.pem"
	return path, os.WriteFile(path, []byte("crl"), 0644)
}

func (s stubPKI) CertInfo(path string) (cert.CertInfo, error) {
	return cert.CertInfo{SerialNumber: "AB12CD34", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}

func newTestApp(t *testing.T) *VpnAdmin {
	t.Helper()
	*metricsPath = "/metrics"

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	certsDir := t.TempDir()
	app := new(VpnAdmin)
	app.auth = auth.NewService(
		[]auth.Credential{{Username: "admin", PasswordHash: string(hash)}},
		auth.Config{
			AccessSecret:  []byte("access-secret-for-tests"),
			RefreshSecret: []byte("refresh-secret-for-tests"),
		},
	)
	app.certs = cert.NewManager(cert.NewMemoryRegistry(), stubPKI{certsDir}, certsDir)
	app.sessions = session.NewMemoryStore(0)
	app.audit = audit.NewLogger(nil)
	app.promRegistry = prometheus.NewRegistry()
	registerMetrics(app.promRegistry)
	app.hub = newWsHub()
	app.limiter = newRequestLimiter(defaultRequestsPerWindow, defaultRequestWindow)
	return app
}

func testClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, rawURL string, body interface{}, csrf string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, rawURL, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if len(csrf) > 0 {
		req.Header.Set(csrfHeaderName, csrf)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func cookieValue(t *testing.T, client *http.Client, serverURL, name string) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func login(t *testing.T, client *http.Client, serverURL string) string {
	t.Helper()
	resp := postJSON(t, client, serverURL+"/auth/login", AuthenticatePayload{Username: "admin", Password: "correct horse"}, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	csrf := cookieValue(t, client, serverURL, csrfCookieName)
	require.NotEmpty(t, csrf)
	return csrf
}

func TestLoginSetsCookies(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()
	client := testClient(t)

	login(t, client, srv.URL)
	assert.NotEmpty(t, cookieValue(t, client, srv.URL, accessCookieName))
	assert.NotEmpty(t, cookieValue(t, client, srv.URL, csrfCookieName))
}

func TestLoginWrongPassword(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()
	client := testClient(t)

	resp := postJSON(t, client, srv.URL+"/auth/login", AuthenticatePayload{Username: "admin", Password: "nope"}, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, cookieValue(t, client, srv.URL, accessCookieName))
}

func TestLoginLockoutStatus(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()
	client := testClient(t)

	for i := 0; i < auth.DefaultMaxFailedAttempts; i++ {
		resp := postJSON(t, client, srv.URL+"/auth/login", AuthenticatePayload{Username: "admin", Password: "nope"}, "")
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := postJSON(t, client, srv.URL+"/auth/login", AuthenticatePayload{Username: "admin", Password: "correct horse"}, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "the lockout answers before the password check")
}

func TestRefreshRotatesPair(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()
	client := testClient(t)

	login(t, client, srv.URL)
	before := cookieValue(t, client, srv.URL, accessCookieName)

	resp := postJSON(t, client, srv.URL+"/auth/refresh", nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	after := cookieValue(t, client, srv.URL, accessCookieName)
	assert.NotEmpty(t, after)
	assert.NotEqual(t, before, after)
}

func TestRefreshWithoutCookie(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()

	resp := postJSON(t, testClient(t), srv.URL+"/auth/refresh", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCertificatesRequireAuth(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/certificates/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGenerateRequiresCSRFHeader(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()
	client := testClient(t)

	login(t, client, srv.URL)
	resp := postJSON(t, client, srv.URL+"/certificates/generate", GeneratePayload{ClientName: "alice-phone"}, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGenerateRejectsBogusCSRFHeader(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()
	client := testClient(t)

	login(t, client, srv.URL)
	resp := postJSON(t, client, srv.URL+"/certificates/generate", GeneratePayload{ClientName: "alice-phone"}, "not-the-cookie")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCertificateLifecycleOverHTTP(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()
	client := testClient(t)

	csrf := login(t, client, srv.URL)

	// Issue.
	resp := postJSON(t, client, srv.URL+"/certificates/generate", GeneratePayload{ClientName: "alice-phone"}, csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var issued cert.Metadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	resp.Body.Close()
	assert.Equal(t, cert.StatusActive, issued.Status)
	assert.Equal(t, "AB12CD34", issued.SerialNumber)

	// Duplicate name is rejected.
	resp = postJSON(t, client, srv.URL+"/certificates/generate", GeneratePayload{ClientName: "alice-phone"}, csrf)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Invalid name is rejected.
	resp = postJSON(t, client, srv.URL+"/certificates/generate", GeneratePayload{ClientName: "a!"}, csrf)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// List.
	resp, err := client.Get(srv.URL + "/certificates/list")
	require.NoError(t, err)
	var rows []cert.Metadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	resp.Body.Close()
	require.Len(t, rows, 1)
	assert.Equal(t, "alice-phone", rows[0].Name)

	// Download is an attachment.
	resp, err = client.Get(srv.URL + "/certificates/download/alice-phone")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "alice-phone.ovpn")

	resp, err = client.Get(srv.URL + "/certificates/download/missing-one")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Revoke, then reject the second revoke.
	resp = postJSON(t, client, srv.URL+"/certificates/revoke/alice-phone", nil, csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var revoked cert.Metadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&revoked))
	resp.Body.Close()
	assert.Equal(t, cert.StatusRevoked, revoked.Status)

	resp = postJSON(t, client, srv.URL+"/certificates/revoke/alice-phone", nil, csrf)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSessionLoginFlow(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()
	client := testClient(t)

	// Anonymous status probe.
	resp, err := client.Get(srv.URL + "/login")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, client, srv.URL+"/login", AuthenticatePayload{Username: "admin", Password: "correct horse"}, "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, cookieValue(t, client, srv.URL, sessionCookieName))

	resp, err = client.Get(srv.URL + "/login")
	require.NoError(t, err)
	var status map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "admin", status["username"])

	// The session cookie also opens the certificates API.
	resp, err = client.Get(srv.URL + "/certificates/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, client, srv.URL+"/logout", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/login")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "the session is gone server-side")
}

func TestRateLimiter(t *testing.T) {
	app := newTestApp(t)
	app.limiter = newRequestLimiter(3, time.Minute)
	srv := httptest.NewServer(app.router())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/login")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/login")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRequestLimiterWindow(t *testing.T) {
	rl := newRequestLimiter(2, 50*time.Millisecond)
	ok, _ := rl.allow("10.0.0.9")
	assert.True(t, ok)
	ok, _ = rl.allow("10.0.0.9")
	assert.True(t, ok)
	ok, retry := rl.allow("10.0.0.9")
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	// A different address has its own budget.
	ok, _ = rl.allow("10.0.0.10")
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	ok, _ = rl.allow("10.0.0.9")
	assert.True(t, ok, "the window slides")
}

func TestRefreshAuditRecordsActor(t *testing.T) {
	app := newTestApp(t)
	store, err := audit.OpenStore(t.TempDir() + "/audit.db")
	require.NoError(t, err)
	defer store.Close()
	app.audit = audit.NewLogger(store)

	srv := httptest.NewServer(app.router())
	defer srv.Close()
	client := testClient(t)

	login(t, client, srv.URL)
	resp := postJSON(t, client, srv.URL+"/auth/refresh", nil, "")
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	entries, err := store.Last(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.TokenRefreshed, entries[0].Event)
	assert.Equal(t, "admin", entries[0].Actor, "the rotated pair names its subject")
}

func TestExpiryGaugeDropsRevokedClients(t *testing.T) {
	app := newTestApp(t)

	_, err := app.certs.Generate(context.Background(), "alice-phone", "admin", "1.2.3.4")
	require.NoError(t, err)
	app.refreshCertMetrics()
	assert.Equal(t, 1, testutil.CollectAndCount(certExpireDays))

	_, err = app.certs.Revoke(context.Background(), "alice-phone", "admin", "1.2.3.4")
	require.NoError(t, err)
	app.refreshCertMetrics()
	assert.Equal(t, 0, testutil.CollectAndCount(certExpireDays), "no stale per-client sample survives a revoke")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "vpnadm_certs_active")
}

func TestSecurityHeaders(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/login")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCorrelationIDEcho(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).router())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/login", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestExtractClientIP(t *testing.T) {
	app := newTestApp(t)
	app.trustedProxies = parseTrustedProxies([]string{"127.0.0.0/8"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:55555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", app.extractClientIP(req))

	// An untrusted peer can't spoof via forwarding headers.
	req.RemoteAddr = "198.51.100.4:443"
	assert.Equal(t, "198.51.100.4", app.extractClientIP(req))

	// No headers at all.
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	plain.RemoteAddr = "192.0.2.9:1234"
	assert.Equal(t, "192.0.2.9", app.extractClientIP(plain))
}

func TestExtractClientIPRealIPHeader(t *testing.T) {
	app := newTestApp(t)
	app.trustedProxies = parseTrustedProxies([]string{"127.0.0.0/8"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:55555"
	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", app.extractClientIP(req))
}

func TestMapErrorHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	mapError(rec, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), assert.AnError.Error()))
	assert.Contains(t, rec.Body.String(), "internal server error")
}
