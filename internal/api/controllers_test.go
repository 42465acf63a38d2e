package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-engine/internal/account"
	"trade-engine/internal/engine"
	"trade-engine/internal/events"
	"trade-engine/internal/monitor"
	"trade-engine/internal/position"
	"trade-engine/internal/signal"
	"trade-engine/pkg/db"
)

type fakeCore struct {
	status    engine.Status
	submitted []signal.Signal
	submitErr error
	started   bool
	stopped   bool
	emergency bool
	reset     bool
	mode      string
	closedAll int
	cancelled int
}

func (f *fakeCore) Status() engine.Status          { return f.status }
func (f *fakeCore) Positions() []position.Position  { return nil }
func (f *fakeCore) Trades() []position.Trade        { return nil }
func (f *fakeCore) Balance() account.Balance        { return account.Balance{Balance: 10000, Equity: 10000} }
func (f *fakeCore) Performance() account.Performance {
	return account.Performance{}
}
func (f *fakeCore) Orders(context.Context, int) ([]db.Order, error) { return nil, nil }
func (f *fakeCore) SubmitSignal(s signal.Signal) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, s)
	return nil
}
func (f *fakeCore) Start() error { f.started = true; return nil }
func (f *fakeCore) Stop() error  { f.stopped = true; return nil }
func (f *fakeCore) EmergencyStop(string) error {
	f.emergency = true
	return nil
}
func (f *fakeCore) ResetEmergencyStop()       { f.reset = true }
func (f *fakeCore) SetMode(m string) error    { f.mode = m; return nil }
func (f *fakeCore) CloseAllPositions(string) (int, error) {
	return f.closedAll, nil
}
func (f *fakeCore) CancelAllOrders() (int, error) { return f.cancelled, nil }

const (
	testSecret   = "test-secret"
	testAdminKey = "test-admin-key"
)

func newTestServer(t *testing.T) (*Server, *fakeCore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core := &fakeCore{status: engine.Status{State: engine.StateRunning, Running: true, Mode: "paper"}}
	return NewServer(core, events.NewBus(), nil, testSecret, testAdminKey), core
}

func bearerToken(t *testing.T) string {
	t.Helper()
	token, err := generateToken("tester", testSecret, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, s *Server, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetStatus(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got engine.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, engine.StateRunning, got.State)
	assert.Equal(t, "paper", got.Mode)
}

func TestQueriesNeedNoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/api/positions", "/api/orders", "/api/balance", "/api/performance", "/api/trades", "/api/alerts", "/api/metrics"} {
		w := doJSON(t, s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestCommandsRequireAuth(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{
		"/api/signals",
		"/api/engine/start",
		"/api/engine/stop",
		"/api/engine/emergency-stop",
		"/api/positions/close-all",
	} {
		w := doJSON(t, s, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/engine/start", "Bearer not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueToken(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/auth/token", "", map[string]string{"key": testAdminKey})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	// The issued token passes the auth middleware.
	w = doJSON(t, s, http.MethodPost, "/api/engine/start", "Bearer "+resp.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIssueTokenBadKey(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/auth/token", "", map[string]string{"key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostSignal(t *testing.T) {
	s, core := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/signals", bearerToken(t), map[string]any{
		"symbol": "EURUSD",
		"action": "buy",
		"source": "model-a",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, core.submitted, 1)
	assert.Equal(t, signal.ActionBuy, core.submitted[0].Action)
	assert.Equal(t, "model-a", core.submitted[0].Source)
}

func TestPostSignalDefaultsSource(t *testing.T) {
	s, core := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/signals", bearerToken(t), map[string]any{
		"symbol": "EURUSD",
		"action": "sell",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, core.submitted, 1)
	assert.Equal(t, "api", core.submitted[0].Source)
}

func TestPostSignalDuringEmergency(t *testing.T) {
	s, core := newTestServer(t)
	core.submitErr = engine.ErrEmergencyStopped

	w := doJSON(t, s, http.MethodPost, "/api/signals", bearerToken(t), map[string]any{
		"symbol": "EURUSD",
		"action": "buy",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "EMERGENCY_STOP", resp["code"])
}

func TestEngineCommands(t *testing.T) {
	s, core := newTestServer(t)
	auth := bearerToken(t)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/engine/start", auth, nil).Code)
	assert.True(t, core.started)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/engine/stop", auth, nil).Code)
	assert.True(t, core.stopped)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/engine/emergency-stop", auth,
		map[string]string{"reason": "drill"}).Code)
	assert.True(t, core.emergency)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/engine/reset-emergency", auth, nil).Code)
	assert.True(t, core.reset)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/engine/mode", auth,
		map[string]string{"mode": "live"}).Code)
	assert.Equal(t, "live", core.mode)
}

func TestCloseAllAndCancelAll(t *testing.T) {
	s, core := newTestServer(t)
	core.closedAll = 3
	core.cancelled = 2
	auth := bearerToken(t)

	w := doJSON(t, s, http.MethodPost, "/api/positions/close-all", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 3, resp["closed"])

	w = doJSON(t, s, http.MethodPost, "/api/orders/cancel-all", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp["cancelled"])
}

// Body-less commands: emergency-stop and close-all treat the JSON body as
// optional, so a POST without any payload must still succeed.
func TestCommandsAcceptEmptyBody(t *testing.T) {
	s, core := newTestServer(t)
	auth := bearerToken(t)

	w := doJSON(t, s, http.MethodPost, "/api/engine/emergency-stop", auth, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, core.emergency)

	w = doJSON(t, s, http.MethodPost, "/api/positions/close-all", auth, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCommandsRejectMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	auth := bearerToken(t)

	for _, path := range []string{"/api/engine/emergency-stop", "/api/positions/close-all"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("{not json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", auth)
		w := httptest.NewRecorder()
		s.Router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestGetOrdersBadLimit(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/orders?limit=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestsRecordedInMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core := &fakeCore{status: engine.Status{State: engine.StateRunning, Running: true, Mode: "paper"}}
	mon := monitor.New(events.NewBus(), nil)
	s := NewServer(core, events.NewBus(), mon, testSecret, testAdminKey)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/health", "", nil).Code)
	require.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodGet, "/api/orders?limit=nope", "", nil).Code)

	snap := mon.Metrics().GetSnapshot()
	assert.EqualValues(t, 2, snap.APIRequests)
	assert.EqualValues(t, 1, snap.APIErrors)
	assert.Equal(t, 2, snap.APILatency.Count)

	// The snapshot is also served over the API.
	w := doJSON(t, s, http.MethodGet, "/api/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got monitor.MetricsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.NotZero(t, got.APIRequests)
	assert.NotZero(t, got.GoroutineCount)
}
