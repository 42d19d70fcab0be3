package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHandlerFixture() (*Server, *MemoryStore) {
	store := NewMemoryStore()
	assessor := NewAssessor(store, nil, []string{"AD", "ES", "FR", "PT"}, zap.NewNop())
	challenges := NewChallengeManager(store, []byte("test-secret"), "", 10*time.Minute, zap.NewNop())
	srv := NewServer(assessor, challenges, zap.NewNop(), prometheus.NewRegistry())
	return srv, store
}

func doPost(t *testing.T, h http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func TestEvaluateEndpoint(t *testing.T) {
	srv, _ := newHandlerFixture()

	w := doPost(t, srv.handleEvaluate, evaluateRequest{
		UserID: "user-1", SessionID: "sess-1", DeviceFingerprint: "fp-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var resp evaluateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Assessment)
	assert.Equal(t, "low", resp.Assessment.RiskLevel)
	assert.Nil(t, resp.Challenge)
	assert.Equal(t, []string{"proceed normally"}, resp.Recommendations)
}

func TestEvaluateEndpoint_MissingFields(t *testing.T) {
	srv, _ := newHandlerFixture()
	w := doPost(t, srv.handleEvaluate, evaluateRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluateEndpoint_Preflight(t *testing.T) {
	srv, _ := newHandlerFixture()
	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	w := httptest.NewRecorder()
	srv.handleEvaluate(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEvaluateEndpoint_StepUpIssuesChallenge(t *testing.T) {
	srv, store := newHandlerFixture()

	w := doPost(t, srv.handleEvaluate, evaluateRequest{
		UserID: "user-1", SessionID: "sess-1", DeviceFingerprint: "fp-1",
		Action: "payment_method", TransactionValue: 5000,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp evaluateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Assessment.RequiresStepUp)
	require.NotNil(t, resp.Challenge)
	assert.NotEmpty(t, resp.Challenge.Token)

	stored, err := store.GetChallenge(context.Background(), resp.Challenge.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
}

func TestVerifyEndpoint(t *testing.T) {
	srv, store := newHandlerFixture()
	salt := "00ff00ff00ff00ff"
	require.NoError(t, store.SaveChallenge(context.Background(), Challenge{
		ID: "ch-1", UserID: "user-1", SessionID: "sess-1",
		CodeHash:  hashCode(salt, "123456"),
		Salt:      salt,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}))

	w := doPost(t, srv.handleVerifyChallenge, verifyRequest{ChallengeID: "ch-1", Code: "999999"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp verifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)

	w = doPost(t, srv.handleVerifyChallenge, verifyRequest{ChallengeID: "ch-1", Code: "123456"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)

	// Consumed: the same code cannot be replayed.
	w = doPost(t, srv.handleVerifyChallenge, verifyRequest{ChallengeID: "ch-1", Code: "123456"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
}

func TestVerifyEndpoint_UnknownChallenge(t *testing.T) {
	srv, _ := newHandlerFixture()
	w := doPost(t, srv.handleVerifyChallenge, verifyRequest{ChallengeID: "missing", Code: "123456"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyEndpoint_MissingFields(t *testing.T) {
	srv, _ := newHandlerFixture()
	w := doPost(t, srv.handleVerifyChallenge, verifyRequest{ChallengeID: "ch-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
