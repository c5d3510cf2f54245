package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfdwatch/bfdmon/pkg/db"
	"github.com/bfdwatch/bfdmon/pkg/inventory"
	"github.com/bfdwatch/bfdmon/pkg/metrics"
)

const (
	testSecret = "test-webhook-secret"
	testToken  = "test-admin-token"
)

type fakePoller struct {
	running bool
}

func (f *fakePoller) IsRunning() bool {
	return f.running
}

type testEnv struct {
	server   *Server
	store    *db.DB
	registry *inventory.Registry
	counters *metrics.Registry
	poller   *fakePoller
	shutdown chan struct{}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := db.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})

	env := &testEnv{
		store:    store,
		registry: inventory.NewRegistry(),
		counters: metrics.NewRegistry(),
		poller:   &fakePoller{running: true},
		shutdown: make(chan struct{}),
	}

	env.server = NewServer(store, env.registry, env.counters, env.poller, func() {
		close(env.shutdown)
	}, Config{
		WebhookSecret: testSecret,
		AdminToken:    testToken,
	})

	return env
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	return rec
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/failure", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}

	return req
}

func TestWebhookAcceptsValidSignature(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"device":"edge-router","reason":"session flap","evidence":{"rtt_ms":250}}`)
	rec := env.do(webhookRequest(body, sign(testSecret, body)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(1), env.counters.Get(metrics.WebhooksReceived))

	events, err := env.store.FetchRecent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, db.EventBFDFailure, events[0].EventType)
	assert.Equal(t, "edge-router", events[0].Device)
	assert.Contains(t, string(events[0].Details), "session flap")
}

func TestWebhookRejectsBitFlippedBody(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"device":"edge-router","reason":"flap"}`)
	signature := sign(testSecret, body)

	// Flip one bit in the signed body.
	mutated := make([]byte, len(body))
	copy(mutated, body)
	mutated[len(mutated)/2] ^= 0x01

	rec := env.do(webhookRequest(mutated, signature))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int64(1), env.counters.Get(metrics.WebhookSignatureFailures))
	assert.Equal(t, int64(0), env.counters.Get(metrics.WebhooksReceived))

	events, err := env.store.FetchRecent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, db.EventWebhookFailure, events[0].EventType)
	assert.NotContains(t, string(events[0].Details), testSecret)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(webhookRequest([]byte(`{"device":"x"}`), ""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int64(1), env.counters.Get(metrics.WebhookSignatureFailures))
}

func TestWebhookSignatureHexCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"device":"edge-router","reason":"flap"}`)
	signature := strings.ToUpper(strings.TrimPrefix(sign(testSecret, body), "sha256="))

	rec := env.do(webhookRequest(body, signature))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{not json`)
	rec := env.do(webhookRequest(body, sign(testSecret, body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	events, err := env.store.FetchRecent(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWebhookRequiresDeviceName(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"reason":"flap"}`)
	rec := env.do(webhookRequest(body, sign(testSecret, body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnknownDeviceAccepted(t *testing.T) {
	env := newTestEnv(t)

	// The device is not in the inventory; out-of-band reports are valid.
	body := []byte(`{"device":"external-probe-7","reason":"path down"}`)
	rec := env.do(webhookRequest(body, sign(testSecret, body)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhookRateLimited(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"device":"edge-router"}`)
	signature := sign(testSecret, body)

	limited := false

	for i := 0; i < 40; i++ {
		rec := env.do(webhookRequest(body, signature))
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}

	assert.True(t, limited)
}

func TestGetDevicesNeverExposesCommunity(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.registry.Add(inventory.Device{
		Name:      "edge-router",
		Host:      "192.0.2.1",
		Community: "s3cret-community",
		OID:       ".1.3.6.1.2.1.285.1.1.1.2",
	}))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/devices", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "community")
	assert.NotContains(t, rec.Body.String(), "s3cret-community")

	var devices []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "edge-router", devices[0]["name"])
}

func TestAddDevice(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"edge-router","host":"192.0.2.1","community":"public","oid":".1.3.6.1.2.1.285.1.1.1.2"}`
	rec := env.do(httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(body)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "public")
	assert.Equal(t, 1, env.registry.Len())
	assert.Equal(t, int64(1), env.counters.Get(metrics.DevicesAdded))

	events, err := env.store.FetchRecent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, db.EventDeviceAdded, events[0].EventType)
	assert.NotContains(t, string(events[0].Details), "public")
}

func TestAddDeviceDuplicate(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"edge-router","host":"192.0.2.1"}`

	rec := env.do(httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, env.registry.Len())
}

func TestAddDeviceValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(`{"name":"no-host"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveDevice(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.registry.Add(inventory.Device{Name: "edge-router", Host: "192.0.2.1"}))

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/devices/edge-router", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.registry.Len())
	assert.Equal(t, int64(1), env.counters.Get(metrics.DevicesRemoved))

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/devices/edge-router", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEvents(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		_, err := env.store.Insert("dev", db.EventSNMPPoll, map[string]interface{}{"seq": i})
		require.NoError(t, err)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/events?limit=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var events []db.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 3)
	assert.Greater(t, events[0].ID, events[1].ID)
}

func TestGetEventsInvalidLimit(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/events?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReflectsPollerState(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"running"}`, rec.Body.String())

	env.poller.running = false

	rec = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"stopped"}`, rec.Body.String())
}

func TestMetricsSnapshot(t *testing.T) {
	env := newTestEnv(t)

	env.counters.Inc(metrics.Polls)
	env.counters.Inc(metrics.Polls)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, int64(2), snapshot[metrics.Polls])
}

func TestShutdownRequiresCredential(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	req.RemoteAddr = "203.0.113.9:41000"

	rec := env.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	select {
	case <-env.shutdown:
		t.Fatal("shutdown must not trigger without a credential")
	default:
	}
}

func TestShutdownWithBearerToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	req.RemoteAddr = "203.0.113.9:41000"
	req.Header.Set("Authorization", "Bearer "+testToken)

	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		select {
		case <-env.shutdown:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	events, err := env.store.FetchRecent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, db.EventShutdown, events[0].EventType)
}

func TestShutdownFromLoopback(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	req.RemoteAddr = "127.0.0.1:41000"

	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
