package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"xama/pkg/xama"
)

// Server exposes continuous session trust scoring over HTTP.
type Server struct {
	store    Store
	policies xama.Policies
	cfg      *Config
	log      *zap.Logger
	clock    func() time.Time

	sessionsStarted prometheus.Counter
	samples         *prometheus.CounterVec
	policyChecks    *prometheus.CounterVec
}

func NewServer(store Store, policies xama.Policies, cfg *Config, log *zap.Logger, reg prometheus.Registerer) *Server {
	factory := promauto.With(reg)
	return &Server{
		store:    store,
		policies: policies,
		cfg:      cfg,
		log:      log,
		clock:    time.Now,
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "contauth", Name: "sessions_started_total",
			Help: "Sessions admitted to continuous monitoring.",
		}),
		samples: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contauth", Name: "samples_processed_total",
			Help: "Behavior samples processed by resulting recommendation.",
		}, []string{"recommendation"}),
		policyChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contauth", Name: "policy_evaluations_total",
			Help: "Policy evaluations by tier and outcome.",
		}, []string{"policy", "passed"}),
	}
}

// Routes registers all endpoints on mux. POST bodies are capped; every
// endpoint shares the rate limiter.
func (s *Server) Routes(mux *http.ServeMux, limit func(http.HandlerFunc) http.HandlerFunc) {
	guard := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				r.Body = http.MaxBytesReader(w, r.Body, 256<<10)
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/xama/session/start", limit(guard(s.handleStartSession)))
	mux.HandleFunc("/xama/session/sample", limit(guard(s.handleSample)))
	mux.HandleFunc("/xama/session/evaluate", limit(guard(s.handleEvaluate)))
	mux.HandleFunc("/xama/session/end", limit(guard(s.handleEndSession)))
	mux.HandleFunc("/xama/session/health", limit(s.handleSessionHealth))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"contauth"}`))
	})
}

type startSessionRequest struct {
	UserID            string  `json:"user_id"`
	SessionID         string  `json:"session_id"`
	DeviceFingerprint string  `json:"device_fingerprint"`
	Country           string  `json:"country"`
	IsVPN             bool    `json:"is_vpn"`
	ActivityLevel     float64 `json:"activity_level"`
	PasskeyVerified   bool    `json:"passkey_verified"`
	BiometricVerified bool    `json:"biometric_verified"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" || req.SessionID == "" || req.DeviceFingerprint == "" {
		writeError(w, http.StatusBadRequest, "user_id, session_id and device_fingerprint are required")
		return
	}

	now := s.clock()
	trusted, err := s.store.TrustedFingerprints(r.Context(), req.UserID)
	if err != nil {
		s.log.Error("load trusted fingerprints", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load device history")
		return
	}

	attrs := []xama.AttributeScore{
		xama.ScoreDeviceFingerprint(req.DeviceFingerprint, trusted, now),
		xama.ScoreLocation(req.Country, req.IsVPN, s.cfg.TrustedCountries, now),
		xama.ScoreSession(0, req.ActivityLevel, true, now),
	}
	if req.PasskeyVerified {
		attrs = append(attrs, xama.ScorePasskey(now))
	}
	if req.BiometricVerified {
		attrs = append(attrs, xama.ScoreBiometric(now))
	}

	profile := xama.NewProfile(req.UserID, req.SessionID, attrs, now)

	// A strong credential at login enrolls the device for future sessions.
	if req.PasskeyVerified || req.BiometricVerified {
		if err := s.store.AddTrustedFingerprint(r.Context(), req.UserID, req.DeviceFingerprint); err != nil {
			s.log.Warn("enroll device fingerprint", zap.Error(err))
		}
	}

	state := SessionState{Profile: profile, UpdatedAt: now}
	if err := s.store.SaveSession(r.Context(), state); err != nil {
		s.log.Error("save session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	s.sessionsStarted.Inc()
	s.log.Info("session started",
		zap.String("user_id", req.UserID),
		zap.String("session_id", req.SessionID),
		zap.Int("trust_score", profile.OverallTrustScore),
		zap.String("risk_level", string(profile.RiskLevel)),
	)
	writeJSON(w, http.StatusOK, profile)
}

type sampleRequest struct {
	SessionID string              `json:"session_id"`
	Sample    xama.BehaviorSample `json:"sample"`
}

type sampleResponse struct {
	Profile       xama.Profile          `json:"profile"`
	Anomaly       xama.AnomalyDetection `json:"anomaly"`
	BehaviorScore int                   `json:"behavior_score"`
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req sampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	state, err := s.store.GetSession(r.Context(), req.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.log.Error("load session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if state.Profile.ContinuousAuthStatus == xama.StatusExpired {
		writeError(w, http.StatusGone, "session expired, full re-verification required")
		return
	}

	now := s.clock()
	// The sample is judged against the baseline it did not contribute to,
	// then folded in.
	det := xama.DetectAnomalies(req.Sample, state.Baseline, s.cfg.AnomalyThreshold)
	behaviorScore := xama.BehaviorTrustScore(req.Sample, state.Baseline)
	state.Baseline = xama.UpdateBaseline(state.Baseline, req.Sample)
	state.Profile = xama.UpdateProfileWithContinuousAuth(state.Profile, behaviorScore, det, now)
	state.UpdatedAt = now

	if err := s.store.SaveSession(r.Context(), state); err != nil {
		s.log.Error("save session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	s.samples.WithLabelValues(string(det.Recommendation)).Inc()
	if det.IsAnomaly {
		s.log.Warn("behavioral anomaly",
			zap.String("session_id", req.SessionID),
			zap.Float64("anomaly_score", det.AnomalyScore),
			zap.Strings("indicators", det.Indicators),
			zap.String("recommendation", string(det.Recommendation)),
		)
	}
	writeJSON(w, http.StatusOK, sampleResponse{
		Profile:       state.Profile,
		Anomaly:       det,
		BehaviorScore: behaviorScore,
	})
}

type evaluateRequest struct {
	SessionID string `json:"session_id"`
	Policy    string `json:"policy"`
}

type evaluateResponse struct {
	Policy     string            `json:"policy"`
	Result     xama.PolicyResult `json:"result"`
	TrustScore int               `json:"trust_score"`
	RiskLevel  xama.RiskLevel    `json:"risk_level"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SessionID == "" || req.Policy == "" {
		writeError(w, http.StatusBadRequest, "session_id and policy are required")
		return
	}
	policy, ok := s.policies.Get(req.Policy)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown policy tier")
		return
	}

	state, err := s.store.GetSession(r.Context(), req.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.log.Error("load session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	result := xama.EvaluatePolicy(state.Profile, policy, s.clock())
	s.policyChecks.WithLabelValues(req.Policy, boolLabel(result.Passed)).Inc()
	writeJSON(w, http.StatusOK, evaluateResponse{
		Policy:     req.Policy,
		Result:     result,
		TrustScore: state.Profile.OverallTrustScore,
		RiskLevel:  state.Profile.RiskLevel,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if err := s.store.DeleteSession(r.Context(), req.SessionID); err != nil {
		s.log.Error("delete session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSessionHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id parameter is required")
		return
	}

	state, err := s.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.log.Error("load session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	writeJSON(w, http.StatusOK, xama.GenerateSessionHealthReport(state.Profile, s.clock()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
