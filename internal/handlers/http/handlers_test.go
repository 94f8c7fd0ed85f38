package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/services"
	"sidescreen/internal/infrastructure/middleware"
)

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) StartSession(ctx context.Context, device domain.Device, source domain.FrameSourceDescriptor, cfg domain.SessionConfig) (domain.SessionID, error) {
	args := m.Called(ctx, device, source, cfg)
	return args.Get(0).(domain.SessionID), args.Error(1)
}

func (m *mockSessions) StopSession(ctx context.Context, id domain.SessionID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessions) RequestStop(id domain.SessionID) (<-chan struct{}, bool) {
	args := m.Called(id)
	return args.Get(0).(<-chan struct{}), args.Bool(1)
}

func (m *mockSessions) UpdateQuality(id domain.SessionID, quality, fps int) (domain.QualitySettings, error) {
	args := m.Called(id, quality, fps)
	return args.Get(0).(domain.QualitySettings), args.Error(1)
}

func (m *mockSessions) ListActiveSessions() []domain.SessionSnapshot {
	return m.Called().Get(0).([]domain.SessionSnapshot)
}

func (m *mockSessions) GetSession(id domain.SessionID) (domain.SessionSnapshot, bool) {
	args := m.Called(id)
	return args.Get(0).(domain.SessionSnapshot), args.Bool(1)
}

type mockDevices struct {
	mock.Mock
}

func (m *mockDevices) Connect(ctx context.Context, device domain.Device) error {
	return m.Called(ctx, device).Error(0)
}

func (m *mockDevices) Pair(ctx context.Context, id domain.DeviceID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockDevices) Disconnect(id domain.DeviceID) {
	m.Called(id)
}

func (m *mockDevices) ForgetDevice(ctx context.Context, id domain.DeviceID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockDevices) Device(id domain.DeviceID) (domain.DeviceStatus, bool) {
	args := m.Called(id)
	return args.Get(0).(domain.DeviceStatus), args.Bool(1)
}

func (m *mockDevices) ListDevices() []domain.DeviceStatus {
	return m.Called().Get(0).([]domain.DeviceStatus)
}

func (m *mockDevices) Known(id domain.DeviceID) (domain.Device, bool) {
	args := m.Called(id)
	return args.Get(0).(domain.Device), args.Bool(1)
}

func (m *mockDevices) Host() domain.HostIdentity {
	return domain.HostIdentity{ID: "host-1", Name: "Studio Mac", Version: "test"}
}

type testAPI struct {
	router   *gin.Engine
	sessions *mockSessions
	devices  *mockDevices
	sources  *services.SourceCatalog
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := &testAPI{
		sessions: &mockSessions{},
		devices:  &mockDevices{},
		sources:  services.NewSourceCatalog(),
	}
	require.NoError(t, api.sources.Register(domain.FrameSourceDescriptor{
		ID:     "display-1",
		Bounds: domain.Rect{X: 1920, Width: 1280, Height: 720},
	}))

	r := gin.New()
	r.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	group := r.Group("/api/v1")
	defaults := domain.SessionConfig{TargetFPS: 30, Quality: 75, Codec: domain.CodecJPEG}
	NewSessionHandler(api.sessions, api.devices, api.sources, defaults).SetupRoutes(group)
	NewDeviceHandler(api.devices, PairingEndpoint{Address: "192.168.1.10:7420", ListenPath: "/devices/connect"}).SetupRoutes(group)
	NewSourceHandler(api.sources).SetupRoutes(group)
	api.router = r

	t.Cleanup(func() {
		api.sessions.AssertExpectations(t)
		api.devices.AssertExpectations(t)
	})
	return api
}

func (a *testAPI) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var tablet = domain.Device{ID: "tablet-1", Name: "Tablet", Transport: domain.TransportUSB, Address: "tcp://127.0.0.1:9000"}

func TestStartSessionAppliesDefaults(t *testing.T) {
	api := newTestAPI(t)
	source, _ := api.sources.Get("display-1")

	api.devices.On("Known", domain.DeviceID("tablet-1")).Return(tablet, true)
	want := domain.SessionConfig{TargetFPS: 60, Quality: 75, Codec: domain.CodecJPEG}
	api.sessions.On("StartSession", mock.Anything, tablet, source, want).Return(liveSession, nil)
	api.sessions.On("GetSession", liveSession).Return(domain.SessionSnapshot{
		ID:       liveSession,
		DeviceID: "tablet-1",
		SourceID: "display-1",
		State:    domain.SessionStreaming,
		Config:   want,
	}, true)

	w := api.do(http.MethodPost, "/api/v1/sessions", gin.H{"device_id": "tablet-1", "source_id": "display-1", "fps": 60})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, string(liveSession), body["session_id"])
	session := body["session"].(map[string]interface{})
	assert.Equal(t, float64(60), session["target_fps"])
	assert.Equal(t, "streaming", session["state"])
	assert.NotContains(t, session, "last_frame_sent_at")
}

func TestStartSessionErrors(t *testing.T) {
	t.Run("unknown device", func(t *testing.T) {
		api := newTestAPI(t)
		api.devices.On("Known", domain.DeviceID("ghost")).Return(domain.Device{}, false)

		w := api.do(http.MethodPost, "/api/v1/sessions", gin.H{"device_id": "ghost", "source_id": "display-1"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown source", func(t *testing.T) {
		api := newTestAPI(t)
		api.devices.On("Known", domain.DeviceID("tablet-1")).Return(tablet, true)

		w := api.do(http.MethodPost, "/api/v1/sessions", gin.H{"device_id": "tablet-1", "source_id": "display-9"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		api := newTestAPI(t)
		w := api.do(http.MethodPost, "/api/v1/sessions", gin.H{"device_id": "tablet-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("engine error kinds", func(t *testing.T) {
		cases := []struct {
			kind   domain.ErrorKind
			status int
			code   string
		}{
			{domain.KindAlreadyStreaming, http.StatusConflict, "CONFLICT"},
			{domain.KindCapacityExceeded, http.StatusTooManyRequests, "CAPACITY_EXCEEDED"},
			{domain.KindPairingRequired, http.StatusPreconditionFailed, "PRECONDITION_FAILED"},
			{domain.KindChannelUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		}
		for _, tc := range cases {
			t.Run(string(tc.kind), func(t *testing.T) {
				api := newTestAPI(t)
				api.devices.On("Known", domain.DeviceID("tablet-1")).Return(tablet, true)
				api.sessions.On("StartSession", mock.Anything, tablet, mock.Anything, mock.Anything).
					Return(domain.SessionID(""), domain.NewError("start session", tc.kind, "nope", nil))

				w := api.do(http.MethodPost, "/api/v1/sessions", gin.H{"device_id": "tablet-1", "source_id": "display-1"})
				assert.Equal(t, tc.status, w.Code)
				assert.Equal(t, tc.code, decode(t, w)["error"])
			})
		}
	})
}

var (
	liveSession  = domain.DeriveSessionID("display-1", "tablet-1")
	otherSession = domain.DeriveSessionID("display-2", "tablet-1")
)

func TestStopSession(t *testing.T) {
	api := newTestAPI(t)
	api.sessions.On("StopSession", mock.Anything, liveSession).Return(true, nil)
	api.sessions.On("StopSession", mock.Anything, otherSession).Return(false, nil)

	assert.Equal(t, http.StatusOK, api.do(http.MethodDelete, "/api/v1/sessions/"+string(liveSession), nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/api/v1/sessions/"+string(otherSession), nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodDelete, "/api/v1/sessions/sess-1", nil).Code)
	api.sessions.AssertNumberOfCalls(t, "StopSession", 2)
}

func TestGetAndListSessions(t *testing.T) {
	api := newTestAPI(t)
	sent := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := domain.SessionSnapshot{ID: liveSession, State: domain.SessionStreaming, FramesSent: 12, LastFrameSentAt: sent}
	api.sessions.On("ListActiveSessions").Return([]domain.SessionSnapshot{snap})
	api.sessions.On("GetSession", liveSession).Return(snap, true)
	api.sessions.On("GetSession", otherSession).Return(domain.SessionSnapshot{}, false)

	w := api.do(http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["sessions"], 1)

	w = api.do(http.MethodGet, "/api/v1/sessions/"+string(liveSession), nil)
	require.Equal(t, http.StatusOK, w.Code)
	session := decode(t, w)["session"].(map[string]interface{})
	assert.Equal(t, string(liveSession), session["id"])
	assert.Equal(t, float64(12), session["frames_sent"])
	assert.Equal(t, "2026-01-02T03:04:05Z", session["last_frame_sent_at"])

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/v1/sessions/"+string(otherSession), nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/sessions/nope", nil).Code)
}

func TestUpdateQuality(t *testing.T) {
	api := newTestAPI(t)
	path := "/api/v1/sessions/" + string(liveSession) + "/quality"
	api.sessions.On("UpdateQuality", liveSession, 40, 24).
		Return(domain.QualitySettings{Quality: 40, FPS: 24}, nil)
	api.sessions.On("UpdateQuality", liveSession, 400, 24).
		Return(domain.QualitySettings{}, domain.NewError("update quality", domain.KindInvalidConfig, "quality out of range", nil))

	w := api.do(http.MethodPatch, path, gin.H{"quality": 40, "fps": 24})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(40), decode(t, w)["quality"])

	w = api.do(http.MethodPatch, path, gin.H{"quality": 400, "fps": 24})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "quality out of range", decode(t, w)["message"])
}

func TestConnectDevice(t *testing.T) {
	t.Run("known device", func(t *testing.T) {
		api := newTestAPI(t)
		api.devices.On("Known", domain.DeviceID("tablet-1")).Return(tablet, true)
		api.devices.On("Connect", mock.Anything, tablet).Return(nil)
		api.devices.On("Device", domain.DeviceID("tablet-1")).
			Return(domain.DeviceStatus{Device: tablet, State: domain.PairingUnpaired, Connected: true}, true)

		w := api.do(http.MethodPost, "/api/v1/devices/tablet-1/connect", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		device := decode(t, w)["device"].(map[string]interface{})
		assert.Equal(t, true, device["connected"])
	})

	t.Run("explicit network device", func(t *testing.T) {
		api := newTestAPI(t)
		want := domain.Device{
			ID:           "tab-2",
			Name:         "tab-2",
			Transport:    domain.TransportNetwork,
			Address:      "192.168.1.44:8080",
			Capabilities: domain.DeviceCapabilities{Touch: true},
		}
		api.devices.On("Connect", mock.Anything, want).Return(nil)
		api.devices.On("Device", domain.DeviceID("tab-2")).Return(domain.DeviceStatus{Device: want}, true)

		w := api.do(http.MethodPost, "/api/v1/devices/tab-2/connect",
			gin.H{"transport": "network", "address": "192.168.1.44:8080", "touch": true})
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("bad transport", func(t *testing.T) {
		api := newTestAPI(t)
		w := api.do(http.MethodPost, "/api/v1/devices/tab-2/connect", gin.H{"transport": "carrier-pigeon", "address": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unreachable", func(t *testing.T) {
		api := newTestAPI(t)
		api.devices.On("Known", domain.DeviceID("tablet-1")).Return(tablet, true)
		api.devices.On("Connect", mock.Anything, tablet).
			Return(domain.NewError("connect", domain.KindChannelUnavailable, "dial failed", nil))

		w := api.do(http.MethodPost, "/api/v1/devices/tablet-1/connect", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestPairDevice(t *testing.T) {
	api := newTestAPI(t)
	api.devices.On("Pair", mock.Anything, domain.DeviceID("tablet-1")).Return(nil)
	api.devices.On("Device", domain.DeviceID("tablet-1")).
		Return(domain.DeviceStatus{Device: tablet, State: domain.PairingPaired, Trusted: true}, true)
	api.devices.On("Pair", mock.Anything, domain.DeviceID("tablet-2")).
		Return(domain.NewError("pair", domain.KindPairingTimeout, "device did not answer", nil))

	w := api.do(http.MethodPost, "/api/v1/devices/tablet-1/pair", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["device"].(map[string]interface{})["trusted"])

	w = api.do(http.MethodPost, "/api/v1/devices/tablet-2/pair", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestDisconnectAndForgetDevice(t *testing.T) {
	api := newTestAPI(t)
	api.devices.On("Device", domain.DeviceID("tablet-1")).Return(domain.DeviceStatus{Device: tablet}, true)
	api.devices.On("Device", domain.DeviceID("ghost")).Return(domain.DeviceStatus{}, false)
	api.devices.On("Disconnect", domain.DeviceID("tablet-1")).Return()
	api.devices.On("ForgetDevice", mock.Anything, domain.DeviceID("tablet-1")).Return(nil)

	assert.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/devices/tablet-1/disconnect", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, "/api/v1/devices/ghost/disconnect", nil).Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/v1/devices/tablet-1/trust", nil).Code)
}

func TestListDevices(t *testing.T) {
	api := newTestAPI(t)
	api.devices.On("ListDevices").Return([]domain.DeviceStatus{
		{Device: tablet, State: domain.PairingPaired, Connected: true, Streams: 1},
	})

	w := api.do(http.MethodGet, "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	devices := decode(t, w)["devices"].([]interface{})
	require.Len(t, devices, 1)
	assert.Equal(t, float64(1), devices[0].(map[string]interface{})["streams"])
}

func TestPairingQR(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/pairing/qr", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	h := NewDeviceHandler(api.devices, PairingEndpoint{Address: "10.0.0.2:7420", ListenPath: "/devices/connect"})
	assert.Equal(t,
		"sidescreen://pair?addr=10.0.0.2%3A7420&host=host-1&name=Studio+Mac&path=%2Fdevices%2Fconnect",
		h.pairingURI())
}

func TestSources(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/sources", gin.H{"id": "display-2", "width": 800, "height": 600, "refresh_hint": 60})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	_, ok := api.sources.Get("display-2")
	assert.True(t, ok)

	w = api.do(http.MethodGet, "/api/v1/sources", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["sources"], 2)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/v1/sources/display-2", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/api/v1/sources/display-2", nil).Code)

	w = api.do(http.MethodPost, "/api/v1/sources", gin.H{"id": "display-3", "width": 800, "height": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
