package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const maxBodyBytes = 256 * 1024

// Server wires the assessor and challenge manager to HTTP.
type Server struct {
	assessor   *Assessor
	challenges *ChallengeManager
	log        *zap.Logger

	evaluations   *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

func NewServer(assessor *Assessor, challenges *ChallengeManager, log *zap.Logger, reg prometheus.Registerer) *Server {
	factory := promauto.With(reg)
	return &Server{
		assessor:   assessor,
		challenges: challenges,
		log:        log,
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xama",
			Subsystem: "riskeval",
			Name:      "evaluations_total",
			Help:      "Risk evaluations by resulting risk level.",
		}, []string{"risk_level", "step_up"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xama",
			Subsystem: "riskeval",
			Name:      "challenge_verifications_total",
			Help:      "Step-up challenge verification attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// Routes registers the HTTP surface. limit wraps POST handlers with rate
// limiting.
func (s *Server) Routes(mux *http.ServeMux, limit func(http.HandlerFunc) http.HandlerFunc) {
	guard := func(h http.HandlerFunc) http.HandlerFunc {
		return limit(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			h(w, r)
		})
	}
	mux.HandleFunc("/risk/evaluate", guard(s.handleEvaluate))
	mux.HandleFunc("/risk/challenge/verify", guard(s.handleVerifyChallenge))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"riskeval"}`))
	})
}

type evaluateRequest struct {
	UserID            string  `json:"user_id"`
	SessionID         string  `json:"session_id"`
	DeviceFingerprint string  `json:"device_fingerprint"`
	Action            string  `json:"action,omitempty"`
	TransactionValue  float64 `json:"transaction_value,omitempty"`
	ClientIP          string  `json:"client_ip,omitempty"`
}

type evaluateResponse struct {
	Success         bool             `json:"success"`
	Assessment      *Assessment      `json:"assessment"`
	Challenge       *IssuedChallenge `json:"challenge,omitempty"`
	Recommendations []string         `json:"recommendations"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	allowCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" || req.SessionID == "" || req.DeviceFingerprint == "" {
		writeError(w, http.StatusBadRequest, "user_id, session_id and device_fingerprint are required")
		return
	}

	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = requestIP(r)
	}

	assessment, err := s.assessor.Assess(r.Context(), AssessInput{
		UserID:            req.UserID,
		SessionID:         req.SessionID,
		DeviceFingerprint: req.DeviceFingerprint,
		Action:            req.Action,
		TransactionValue:  req.TransactionValue,
		ClientIP:          clientIP,
	})
	if err != nil {
		s.log.Error("risk assessment", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := evaluateResponse{
		Success:         true,
		Assessment:      assessment,
		Recommendations: recommendations(assessment),
	}
	if assessment.RequiresStepUp {
		challenge, err := s.challenges.Issue(r.Context(), req.UserID, req.SessionID)
		if err != nil {
			s.log.Error("issue challenge", zap.String("user_id", req.UserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Challenge = challenge
	}

	s.evaluations.WithLabelValues(assessment.RiskLevel, boolLabel(assessment.RequiresStepUp)).Inc()
	s.log.Info("risk evaluated",
		zap.String("user_id", req.UserID),
		zap.String("session_id", req.SessionID),
		zap.Int("risk_score", assessment.RiskScore),
		zap.String("risk_level", assessment.RiskLevel),
		zap.Bool("step_up", assessment.RequiresStepUp),
	)
	writeJSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Valid   bool   `json:"valid"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleVerifyChallenge(w http.ResponseWriter, r *http.Request) {
	allowCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ChallengeID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "challenge_id and code are required")
		return
	}

	err := s.challenges.Verify(r.Context(), req.ChallengeID, req.Code)
	switch {
	case err == nil:
		s.verifications.WithLabelValues("valid").Inc()
		writeJSON(w, http.StatusOK, verifyResponse{Success: true, Valid: true})
	case errors.Is(err, ErrChallengeNotFound):
		s.verifications.WithLabelValues("not_found").Inc()
		writeError(w, http.StatusNotFound, "challenge not found")
	case errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrChallengeUsed),
		errors.Is(err, ErrCodeMismatch):
		s.verifications.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusOK, verifyResponse{Success: true, Valid: false, Reason: err.Error()})
	default:
		s.verifications.WithLabelValues("error").Inc()
		s.log.Error("verify challenge", zap.String("challenge_id", req.ChallengeID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func recommendations(a *Assessment) []string {
	switch a.RiskLevel {
	case "critical":
		return []string{
			"block the action until step-up verification succeeds",
			"notify the account owner of unusual activity",
		}
	case "high":
		return []string{"require step-up verification before proceeding"}
	case "medium":
		if a.RequiresStepUp {
			return []string{"require step-up verification for this transaction"}
		}
		return []string{"monitor the session for further anomalies"}
	default:
		return []string{"proceed normally"}
	}
}

func allowCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func requestIP(r *http.Request) string {
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return ""
	}
	if i := strings.IndexByte(fwd, ','); i >= 0 {
		fwd = fwd[:i]
	}
	return strings.TrimSpace(fwd)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
