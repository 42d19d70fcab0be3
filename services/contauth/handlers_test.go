package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"xama/pkg/xama"
)

var frozenNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestServer() (*Server, *MemoryStore) {
	store := NewMemoryStore()
	cfg := &Config{
		TrustedCountries: []string{"AD", "ES", "FR", "PT"},
		AnomalyThreshold: 30,
	}
	srv := NewServer(store, xama.DefaultPolicies(), cfg, zap.NewNop(), prometheus.NewRegistry())
	srv.clock = func() time.Time { return frozenNow }
	return srv, store
}

func postJSON(t *testing.T, h http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func startSession(t *testing.T, srv *Server, req startSessionRequest) xama.Profile {
	t.Helper()
	w := postJSON(t, srv.handleStartSession, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p xama.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestStartSession(t *testing.T) {
	srv, _ := newTestServer()

	p := startSession(t, srv, startSessionRequest{
		UserID:            "user-1",
		SessionID:         "sess-1",
		DeviceFingerprint: "fp-unknown",
		Country:           "ES",
		ActivityLevel:     0.5,
	})

	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, xama.StatusActive, p.ContinuousAuthStatus)
	assert.Equal(t, xama.AAL1, p.AuthenticationLevel)

	device, ok := p.Attribute(xama.AttrDevice)
	require.True(t, ok)
	assert.Equal(t, 40, device.Score) // unknown device scores low, not rejected
}

func TestStartSession_Validation(t *testing.T) {
	srv, _ := newTestServer()

	w := postJSON(t, srv.handleStartSession, startSessionRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.handleStartSession(rec, r)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartSession_StrongCredentialEnrollsDevice(t *testing.T) {
	srv, store := newTestServer()

	startSession(t, srv, startSessionRequest{
		UserID:            "user-1",
		SessionID:         "sess-1",
		DeviceFingerprint: "fp-laptop",
		Country:           "ES",
		PasskeyVerified:   true,
		BiometricVerified: true,
	})

	trusted, err := store.TrustedFingerprints(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Contains(t, trusted, "fp-laptop")

	// The next session from the same device is recognised.
	p := startSession(t, srv, startSessionRequest{
		UserID:            "user-1",
		SessionID:         "sess-2",
		DeviceFingerprint: "fp-laptop",
		Country:           "ES",
	})
	device, _ := p.Attribute(xama.AttrDevice)
	assert.Equal(t, 95, device.Score)
}

func TestStartSession_PasskeyAndBiometricReachAAL3(t *testing.T) {
	srv, _ := newTestServer()

	p := startSession(t, srv, startSessionRequest{
		UserID:            "user-1",
		SessionID:         "sess-1",
		DeviceFingerprint: "fp-1",
		Country:           "FR",
		PasskeyVerified:   true,
		BiometricVerified: true,
	})
	assert.Equal(t, xama.AAL3, p.AuthenticationLevel)
}

func submitSample(t *testing.T, srv *Server, sessionID string, sample xama.BehaviorSample) sampleResponse {
	t.Helper()
	w := postJSON(t, srv.handleSample, sampleRequest{SessionID: sessionID, Sample: sample})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp sampleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSample_BuildsBaselineThenFlagsAnomalies(t *testing.T) {
	srv, _ := newTestServer()
	startSession(t, srv, startSessionRequest{
		UserID: "user-1", SessionID: "sess-1", DeviceFingerprint: "fp-1", Country: "ES",
	})

	// Warm the baseline with consistent human-like behavior.
	for i := 0; i < 12; i++ {
		speed := 100.0
		if i%2 == 1 {
			speed = 120
		}
		resp := submitSample(t, srv, "sess-1", xama.BehaviorSample{
			MouseSpeed:       speed,
			KeyPressInterval: speed,
			NavigationDepth:  3,
		})
		assert.Equal(t, xama.RecommendContinue, resp.Anomaly.Recommendation)
	}

	// A sharp deviation is now flagged.
	resp := submitSample(t, srv, "sess-1", xama.BehaviorSample{
		MouseSpeed:       300,
		KeyPressInterval: 110,
		NavigationDepth:  3,
	})
	assert.True(t, resp.Anomaly.IsAnomaly)
	assert.Equal(t, xama.RecommendVerify, resp.Anomaly.Recommendation)
	assert.Equal(t, xama.StatusDegraded, resp.Profile.ContinuousAuthStatus)
}

func TestSample_UnknownSession(t *testing.T) {
	srv, _ := newTestServer()
	w := postJSON(t, srv.handleSample, sampleRequest{SessionID: "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSample_ExpiredSessionIsGone(t *testing.T) {
	srv, store := newTestServer()
	p := xama.NewProfile("user-1", "sess-1", nil, frozenNow)
	p.ContinuousAuthStatus = xama.StatusExpired
	require.NoError(t, store.SaveSession(context.Background(), SessionState{Profile: p, UpdatedAt: frozenNow}))

	w := postJSON(t, srv.handleSample, sampleRequest{SessionID: "sess-1"})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestEvaluate(t *testing.T) {
	srv, _ := newTestServer()
	startSession(t, srv, startSessionRequest{
		UserID: "user-1", SessionID: "sess-1", DeviceFingerprint: "fp-1",
		Country: "ES", PasskeyVerified: true, ActivityLevel: 1,
	})

	w := postJSON(t, srv.handleEvaluate, evaluateRequest{SessionID: "sess-1", Policy: "low"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp evaluateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Result.Passed) // unknown device keeps low tier out of reach

	w = postJSON(t, srv.handleEvaluate, evaluateRequest{SessionID: "sess-1", Policy: "critical"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Result.Passed)
	assert.NotEmpty(t, resp.Result.FailedRequirements)
}

func TestEvaluate_TrustedDevicePassesLow(t *testing.T) {
	srv, store := newTestServer()
	require.NoError(t, store.AddTrustedFingerprint(context.Background(), "user-1", "fp-1"))
	startSession(t, srv, startSessionRequest{
		UserID: "user-1", SessionID: "sess-1", DeviceFingerprint: "fp-1",
		Country: "ES", ActivityLevel: 1,
	})

	w := postJSON(t, srv.handleEvaluate, evaluateRequest{SessionID: "sess-1", Policy: "low"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp evaluateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Result.Passed, fmt.Sprint(resp.Result.FailedRequirements))
}

func TestEvaluate_UnknownPolicy(t *testing.T) {
	srv, _ := newTestServer()
	w := postJSON(t, srv.handleEvaluate, evaluateRequest{SessionID: "sess-1", Policy: "platinum"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	startSession(t, srv, startSessionRequest{
		UserID: "user-1", SessionID: "sess-1", DeviceFingerprint: "fp-1", Country: "ES", ActivityLevel: 1,
	})

	r := httptest.NewRequest(http.MethodGet, "/xama/session/health?session_id=sess-1", nil)
	w := httptest.NewRecorder()
	srv.handleSessionHealth(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var report xama.SessionHealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "sess-1", report.SessionID)
	assert.InDelta(t, 120, report.MinutesToExpiry, 1e-9)

	r = httptest.NewRequest(http.MethodGet, "/xama/session/health?session_id=missing", nil)
	w = httptest.NewRecorder()
	srv.handleSessionHealth(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndSession(t *testing.T) {
	srv, store := newTestServer()
	startSession(t, srv, startSessionRequest{
		UserID: "user-1", SessionID: "sess-1", DeviceFingerprint: "fp-1", Country: "ES",
	})

	w := postJSON(t, srv.handleEndSession, map[string]string{"session_id": "sess-1"})
	require.Equal(t, http.StatusOK, w.Code)

	_, err := store.GetSession(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
